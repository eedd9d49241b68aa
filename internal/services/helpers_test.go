package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lukateg/starter-kit/internal/config"
	"github.com/lukateg/starter-kit/internal/models"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// newTestDB opens a private in-memory database. One connection keeps every
// statement on the same memory store.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := models.Open(&config.DatabaseConfig{Driver: "sqlite", DSN: dsn, MaxOpenConns: 1}, gormlogger.Silent)
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, models.Migrate(db))
	return db
}

type recordingEffects struct {
	mu      sync.Mutex
	effects []*Effect
}

func (r *recordingEffects) Notify(_ context.Context, e *Effect) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.effects = append(r.effects, e)
	return nil
}

func (r *recordingEffects) ofKind(kind EffectKind) []*Effect {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Effect
	for _, e := range r.effects {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

type failingEffects struct{}

func (failingEffects) Notify(context.Context, *Effect) error { return errors.New("smtp down") }

type panickingEffects struct{}

func (panickingEffects) Notify(context.Context, *Effect) error { panic("notifier bug") }

type fixture struct {
	db      *gorm.DB
	cfg     *config.Config
	effects *recordingEffects
	now     time.Time

	users       *UserService
	ledger      *LedgerService
	memberships *MembershipService
	projects    *ProjectService
	invitations *InvitationService
	referrals   *ReferralService
	purchases   *PurchaseService
	sweep       *ExpirationSweep
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithEffects(t, nil)
}

// newFixtureWithEffects wires every service against a fresh database. A nil
// effects records into f.effects.
func newFixtureWithEffects(t *testing.T, effects Effects) *fixture {
	t.Helper()
	f := &fixture{
		db:      newTestDB(t),
		cfg:     config.DefaultConfig(),
		effects: &recordingEffects{},
		now:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	if effects == nil {
		effects = f.effects
	}
	clock := func() time.Time { return f.now }

	f.users = NewUserService(f.db, &f.cfg.Credits)
	f.ledger = NewLedgerService(f.db, &f.cfg.Credits, effects)
	f.memberships = NewMembershipService(f.db, &f.cfg.Team)
	f.projects = NewProjectService(f.db, f.memberships)
	f.invitations = NewInvitationService(f.db, f.memberships, &f.cfg.Team, "https://app.example.com/", effects)
	f.invitations.SetClock(clock)
	f.referrals = NewReferralService(f.db, f.ledger, f.users, &f.cfg.Credits, effects)
	f.purchases = NewPurchaseService(f.db, f.ledger, f.users, f.referrals)
	f.sweep = NewExpirationSweep(f.db, f.invitations, NewSystemLogService(f.db), &f.cfg.Scheduler)
	f.sweep.SetClock(clock)
	return f
}

func ident(id string) Identity {
	return Identity{SubjectID: id, Email: id + "@example.com", Name: id}
}

func (f *fixture) user(t *testing.T, id string) Identity {
	t.Helper()
	return f.referredUser(t, id, "")
}

func (f *fixture) referredUser(t *testing.T, id, referredBy string) Identity {
	t.Helper()
	who := ident(id)
	_, err := f.users.EnsureUser(context.Background(), who, referredBy)
	require.NoError(t, err)
	return who
}

func (f *fixture) project(t *testing.T, owner Identity, name string) *models.Project {
	t.Helper()
	p, err := f.projects.Create(context.Background(), owner, &CreateProjectRequest{Name: name})
	require.NoError(t, err)
	return p
}

// addMember joins who to the project through an email invitation.
func (f *fixture) addMember(t *testing.T, owner Identity, projectID uint, who Identity) {
	t.Helper()
	ctx := context.Background()
	inv, err := f.invitations.CreateEmailInvite(ctx, owner, projectID, who.Email)
	require.NoError(t, err)
	_, err = f.invitations.Accept(ctx, who, inv.Token)
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, userID string) int64 {
	t.Helper()
	b, err := f.ledger.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	return b
}

func (f *fixture) txCount(t *testing.T, userID string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&models.CreditTransaction{}).Where("user_id = ?", userID).Count(&n).Error)
	return n
}

func (f *fixture) invitation(t *testing.T, id uint) models.ProjectInvitation {
	t.Helper()
	var inv models.ProjectInvitation
	require.NoError(t, f.db.First(&inv, id).Error)
	return inv
}

// insertBeforeCreate runs insert once, inside the creating transaction, right
// before the next INSERT into table. It stands in for a concurrent request
// that wrote the same row after our SELECT.
func insertBeforeCreate(t *testing.T, db *gorm.DB, table string, insert func(tx *gorm.DB) error) {
	t.Helper()
	var once sync.Once
	err := db.Callback().Create().Before("gorm:create").Register("test:insert_before_"+table, func(tx *gorm.DB) {
		if tx.Statement.Table != table {
			return
		}
		once.Do(func() {
			if err := insert(tx.Session(&gorm.Session{NewDB: true})); err != nil {
				tx.AddError(err)
			}
		})
	})
	require.NoError(t, err)
}
