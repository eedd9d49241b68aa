package main

import (
	"github.com/lukateg/starter-kit/internal/config"
	"github.com/lukateg/starter-kit/internal/handlers"
	"github.com/lukateg/starter-kit/internal/models"
	"github.com/lukateg/starter-kit/internal/services"
	"github.com/lukateg/starter-kit/internal/utils"
	"github.com/lukateg/starter-kit/pkg/logger"
	"gorm.io/gorm"
)

// appServices holds all initialized services and handlers needed by the application.
type appServices struct {
	cfg         *config.Config
	db          *gorm.DB
	effectQueue services.EffectQueue
	worker      *services.Worker
	sweep       *services.ExpirationSweep

	users       *services.UserService
	ledger      *services.LedgerService
	memberships *services.MembershipService
	projects    *services.ProjectService
	invitations *services.InvitationService
	referrals   *services.ReferralService
	purchases   *services.PurchaseService
	auditLogs   *services.SystemLogService
}

// bootstrap initializes all application dependencies: database, services, schedulers.
func bootstrap(cfg *config.Config) *appServices {
	utils.SetJWTSecret(cfg.JWT.Secret)
	utils.SetJWTIssuer(cfg.JWT.Issuer)

	if err := models.InitDB(&cfg.Database); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	if err := models.AutoMigrate(); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}
	db := models.GetDB()

	services.InitAuditLog(db)

	// Effects go through Redis when enabled, otherwise they are delivered in-process.
	dispatcher := services.NewEffectDispatcher(db, services.NewEmailService(&cfg.Email))
	effectQueue := services.InitEffectQueue(cfg, dispatcher)

	var worker *services.Worker
	if effectQueue.IsAsync() {
		worker = services.NewWorker(&cfg.Redis, dispatcher)
		if worker != nil {
			if err := worker.Start(); err != nil {
				logger.Error().Err(err).Msg("Failed to start effect worker")
			}
		}
	}

	users := services.NewUserService(db, &cfg.Credits)
	ledger := services.NewLedgerService(db, &cfg.Credits, effectQueue)
	memberships := services.NewMembershipService(db, &cfg.Team)
	projects := services.NewProjectService(db, memberships)
	invitations := services.NewInvitationService(db, memberships, &cfg.Team, cfg.Server.PublicURL, effectQueue)
	referrals := services.NewReferralService(db, ledger, users, &cfg.Credits, effectQueue)
	purchases := services.NewPurchaseService(db, ledger, users, referrals)
	auditLogs := services.NewSystemLogService(db)

	sweep := services.NewExpirationSweep(db, invitations, auditLogs, &cfg.Scheduler)
	if cfg.Scheduler.Enabled {
		if err := sweep.Start(); err != nil {
			logger.Fatalf("Failed to schedule expiration sweep: %v", err)
		}
	}

	handlers.RegisterDBGauges(db)

	return &appServices{
		cfg:         cfg,
		db:          db,
		effectQueue: effectQueue,
		worker:      worker,
		sweep:       sweep,
		users:       users,
		ledger:      ledger,
		memberships: memberships,
		projects:    projects,
		invitations: invitations,
		referrals:   referrals,
		purchases:   purchases,
		auditLogs:   auditLogs,
	}
}

// shutdown gracefully stops all services.
func (s *appServices) shutdown() {
	s.sweep.Stop()
	logger.Info().Msg("All schedulers stopped")

	if s.worker != nil {
		s.worker.Stop()
	}
	if s.effectQueue != nil {
		if err := s.effectQueue.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close effect queue")
		}
	}
	if sqlDB, err := s.db.DB(); err == nil {
		sqlDB.Close()
	}
}
