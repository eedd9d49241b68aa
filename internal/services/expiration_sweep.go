package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lukateg/starter-kit/internal/config"
	"github.com/lukateg/starter-kit/internal/models"
	"github.com/lukateg/starter-kit/pkg/logger"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	sweepJobName    = "invitation_sweep"
	sweepRunTimeout = 10 * time.Minute
	runRetention    = 30 * 24 * time.Hour
)

// ErrSweepClaimed is returned when another instance already ran today's sweep.
var ErrSweepClaimed = errors.New("expiration sweep already claimed for today")

// ExpirationSweep expires stale email invitations once a day. Replicas
// coordinate through scheduled_runs so only one of them runs per date.
type ExpirationSweep struct {
	db          *gorm.DB
	invitations *InvitationService
	logs        *SystemLogService
	cfg         *config.SchedulerConfig
	instanceID  string
	now         func() time.Time
	log         zerolog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	entryID cron.EntryID
}

func NewExpirationSweep(db *gorm.DB, invitations *InvitationService, logs *SystemLogService, cfg *config.SchedulerConfig) *ExpirationSweep {
	return &ExpirationSweep{
		db:          db,
		invitations: invitations,
		logs:        logs,
		cfg:         cfg,
		instanceID:  uuid.NewString(),
		now:         time.Now,
		log:         logger.Module("sweep"),
	}
}

func (s *ExpirationSweep) SetClock(now func() time.Time) {
	s.now = now
}

// RunDailyExpirationSweep expires every pending email invitation past its
// expiry and returns how many moved. It is safe to call repeatedly.
func (s *ExpirationSweep) RunDailyExpirationSweep(ctx context.Context) (int, error) {
	start := s.now()
	n, err := s.invitations.ExpireStale(ctx, start)
	sweepExpired.Add(float64(n))
	if err != nil {
		sweepRuns.WithLabelValues("error").Inc()
		s.log.Error().Err(err).Int("expired", n).Msg("expiration sweep finished with errors")
		return n, err
	}
	sweepRuns.WithLabelValues("success").Inc()
	s.log.Info().Int("expired", n).Dur("took", time.Since(start)).Msg("expiration sweep finished")
	return n, nil
}

// RunScheduled claims today's run and executes the sweep. It returns
// ErrSweepClaimed when another instance got there first.
func (s *ExpirationSweep) RunScheduled(ctx context.Context) (int, error) {
	run, err := s.claim(ctx, s.now())
	if err != nil {
		sweepRuns.WithLabelValues("error").Inc()
		return 0, err
	}
	if run == nil {
		sweepRuns.WithLabelValues("skipped").Inc()
		return 0, ErrSweepClaimed
	}
	n, sweepErr := s.RunDailyExpirationSweep(ctx)
	s.finish(ctx, run, n, sweepErr)
	s.cleanup(ctx)
	return n, sweepErr
}

// LastRun returns the most recent claimed sweep, or nil if none ran yet.
func (s *ExpirationSweep) LastRun(ctx context.Context) (*models.ScheduledRun, error) {
	var run models.ScheduledRun
	err := s.db.WithContext(ctx).Where("job = ?", sweepJobName).Order("run_date DESC").First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// claim inserts the (invitation_sweep, date) row. A nil run means another
// instance owns the date.
func (s *ExpirationSweep) claim(ctx context.Context, now time.Time) (*models.ScheduledRun, error) {
	run := &models.ScheduledRun{
		Job:       sweepJobName,
		RunDate:   now.UTC().Format("2006-01-02"),
		Instance:  s.instanceID,
		StartedAt: now,
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(run)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return nil, nil
		}
		return nil, res.Error
	}
	if res.RowsAffected != 1 {
		return nil, nil
	}
	return run, nil
}

func (s *ExpirationSweep) finish(ctx context.Context, run *models.ScheduledRun, processed int, runErr error) {
	finished := s.now()
	updates := map[string]interface{}{
		"finished_at": finished,
		"processed":   processed,
	}
	if runErr != nil {
		updates["last_error"] = runErr.Error()
	}
	if err := s.db.WithContext(ctx).Model(run).Updates(updates).Error; err != nil {
		s.log.Warn().Err(err).Str("run_date", run.RunDate).Msg("failed to record sweep result")
	}
}

// cleanup drops old run rows and audit logs past retention.
func (s *ExpirationSweep) cleanup(ctx context.Context) {
	cutoff := s.now().Add(-runRetention)
	if err := s.db.WithContext(ctx).
		Where("job = ? AND started_at < ?", sweepJobName, cutoff).
		Delete(&models.ScheduledRun{}).Error; err != nil {
		s.log.Warn().Err(err).Msg("failed to clean up scheduled runs")
	}

	if s.logs == nil || s.cfg.AuditLogRetentionDays <= 0 {
		return
	}
	deleted, err := s.logs.CleanupOldLogs(ctx, s.cfg.AuditLogRetentionDays)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to clean up audit logs")
		return
	}
	if deleted > 0 {
		s.log.Info().Int64("deleted", deleted).Int("retention_days", s.cfg.AuditLogRetentionDays).Msg("audit logs cleaned up")
	}
}

// Start schedules the sweep on cfg.SweepCron.
func (s *ExpirationSweep) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	expr := s.cfg.SweepCron
	if expr == "" {
		expr = config.DefaultSweepCron
	}
	c := cron.New()
	id, err := c.AddFunc(expr, s.runJob)
	if err != nil {
		return err
	}
	s.cron = c
	s.entryID = id
	c.Start()
	s.log.Info().Str("cron", expr).Str("instance", s.instanceID).Msg("expiration sweep scheduled")
	return nil
}

func (s *ExpirationSweep) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
	s.log.Info().Msg("expiration sweep stopped")
}

// NextRun reports when the sweep fires next, or the zero time when stopped.
func (s *ExpirationSweep) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

func (s *ExpirationSweep) runJob() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepRunTimeout)
	defer cancel()

	if _, err := s.RunScheduled(ctx); err != nil {
		if errors.Is(err, ErrSweepClaimed) {
			s.log.Debug().Msg("expiration sweep already ran today on another instance")
			return
		}
		s.log.Error().Err(err).Msg("scheduled expiration sweep failed")
	}
}
