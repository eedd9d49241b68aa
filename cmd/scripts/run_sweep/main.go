// Command run_sweep runs the invitation expiration sweep once, optionally
// followed by a ledger replay check over every user.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/lukateg/starter-kit/internal/config"
	"github.com/lukateg/starter-kit/internal/models"
	"github.com/lukateg/starter-kit/internal/services"
	"github.com/lukateg/starter-kit/pkg/logger"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to config.yaml")
	claim := flag.Bool("claim", false, "claim today's run like the server does")
	verify := flag.Bool("verify-ledger", false, "replay every user's ledger after the sweep")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	logger.Init(cfg.Log.Level)

	if err := models.InitDB(&cfg.Database); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	if err := models.AutoMigrate(); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}
	db := models.GetDB()

	memberships := services.NewMembershipService(db, &cfg.Team)
	invitations := services.NewInvitationService(db, memberships, &cfg.Team, cfg.Server.PublicURL, services.NoopEffects{})
	sweep := services.NewExpirationSweep(db, invitations, services.NewSystemLogService(db), &cfg.Scheduler)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	var expired int
	if *claim {
		expired, err = sweep.RunScheduled(ctx)
		if errors.Is(err, services.ErrSweepClaimed) {
			fmt.Println("Sweep already ran today, nothing to do.")
			return
		}
	} else {
		expired, err = sweep.RunDailyExpirationSweep(ctx)
	}
	if err != nil {
		logger.Fatalf("Sweep failed after expiring %d invitations: %v", expired, err)
	}
	fmt.Printf("Expired %d invitations.\n", expired)

	if !*verify {
		return
	}

	ledger := services.NewLedgerService(db, &cfg.Credits, services.NoopEffects{})
	var userIDs []string
	if err := db.Model(&models.User{}).Order("id").Pluck("id", &userIDs).Error; err != nil {
		logger.Fatalf("Failed to list users: %v", err)
	}

	bad := 0
	for _, id := range userIDs {
		if err := ledger.VerifyReplay(ctx, id); err != nil {
			bad++
			fmt.Printf("  %s: %v\n", id, err)
		}
	}
	fmt.Printf("Ledger check: %d users, %d mismatched.\n", len(userIDs), bad)
	if bad > 0 {
		os.Exit(1)
	}
}
