package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/lukateg/starter-kit/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedger_AddAndDeduct(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "u1")
	require.Equal(t, int64(10), f.balance(t, u.SubjectID))

	added, err := f.ledger.AddCredits(ctx, u.SubjectID, 5, models.TxPurchase, "Top up", &TxMeta{OrderID: "ord_1"})
	require.NoError(t, err)
	assert.Equal(t, int64(15), added.BalanceAfter)
	require.NotNil(t, added.Transaction.OrderID)
	assert.Equal(t, "ord_1", *added.Transaction.OrderID)

	spent, err := f.ledger.DeductCredits(ctx, u.SubjectID, 3, models.TxUsage, "Export", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(12), spent.BalanceAfter)
	assert.Equal(t, int64(-3), spent.Transaction.Amount)

	assert.Equal(t, int64(12), f.balance(t, u.SubjectID))
	assert.NoError(t, f.ledger.VerifyReplay(ctx, u.SubjectID))

	list, err := f.ledger.ListTransactions(ctx, u.SubjectID, &TransactionListRequest{})
	require.NoError(t, err)
	require.Equal(t, int64(3), list.Total)
	assert.Equal(t, models.TxUsage, list.Items[0].Type)
	assert.Equal(t, models.TxInitialGrant, list.Items[2].Type)
}

func TestLedger_DeductBeyondBalanceWritesNothing(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "u1")
	before := f.txCount(t, u.SubjectID)

	_, err := f.ledger.DeductCredits(context.Background(), u.SubjectID, 15, models.TxUsage, "Too much", nil)

	var insufficient *InsufficientCreditsError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, int64(10), insufficient.Balance)
	assert.Equal(t, int64(15), insufficient.Required)
	assert.Equal(t, KindValidation, KindOf(err))
	assert.Equal(t, CodeInsufficientCredits, CodeOf(err))

	assert.Equal(t, int64(10), f.balance(t, u.SubjectID))
	assert.Equal(t, before, f.txCount(t, u.SubjectID))
}

func TestLedger_DeductExactBalance(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "u1")

	res, err := f.ledger.DeductCredits(context.Background(), u.SubjectID, 10, models.TxUsage, "All in", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.BalanceAfter)
}

func TestLedger_RejectsNonPositiveAmounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "u1")

	for _, amount := range []int64{0, -5} {
		_, err := f.ledger.AddCredits(ctx, u.SubjectID, amount, models.TxBonus, "", nil)
		assert.Equal(t, CodeInvalidAmount, CodeOf(err))

		_, err = f.ledger.DeductCredits(ctx, u.SubjectID, amount, models.TxUsage, "", nil)
		assert.Equal(t, CodeInvalidAmount, CodeOf(err))
	}
	assert.Equal(t, int64(1), f.txCount(t, u.SubjectID))
}

func TestLedger_RejectsUnknownType(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "u1")

	_, err := f.ledger.AddCredits(context.Background(), u.SubjectID, 1, "gift", "", nil)
	assert.Equal(t, CodeInvalidInput, CodeOf(err))
}

func TestLedger_UnknownUser(t *testing.T) {
	f := newFixture(t)

	_, err := f.ledger.AddCredits(context.Background(), "ghost", 5, models.TxBonus, "", nil)
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.Equal(t, int64(0), f.txCount(t, "ghost"))
}

func TestLedger_LowBalanceNotice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "u1")

	_, err := f.ledger.DeductCredits(ctx, u.SubjectID, 4, models.TxUsage, "", nil)
	require.NoError(t, err)
	assert.Empty(t, f.effects.ofKind(EffectLowBalance))

	_, err = f.ledger.DeductCredits(ctx, u.SubjectID, 3, models.TxUsage, "", nil)
	require.NoError(t, err)

	notices := f.effects.ofKind(EffectLowBalance)
	require.Len(t, notices, 1)
	assert.Equal(t, "3", notices[0].Payload["balance"])
	assert.Equal(t, "u1@example.com", notices[0].Email)
}

func TestLedger_EffectFailureDoesNotRollBack(t *testing.T) {
	for name, effects := range map[string]Effects{"error": failingEffects{}, "panic": panickingEffects{}} {
		t.Run(name, func(t *testing.T) {
			f := newFixtureWithEffects(t, effects)
			u := f.user(t, "u1")

			res, err := f.ledger.DeductCredits(context.Background(), u.SubjectID, 8, models.TxUsage, "", nil)
			require.NoError(t, err)
			assert.Equal(t, int64(2), res.BalanceAfter)
			assert.Equal(t, int64(2), f.balance(t, u.SubjectID))
		})
	}
}

func TestLedger_ConcurrentDeductsNeverOverdraw(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "u1")

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, rejected := 0, 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ledger.DeductCredits(context.Background(), u.SubjectID, 1, models.TxUsage, "", nil)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if CodeOf(err) == CodeInsufficientCredits {
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	assert.Equal(t, 10, rejected)
	assert.Equal(t, int64(0), f.balance(t, u.SubjectID))
	assert.NoError(t, f.ledger.VerifyReplay(context.Background(), u.SubjectID))
}

func TestLedger_FindByEventID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "u1")

	row, err := f.ledger.FindByEventID(ctx, "evt_1")
	require.NoError(t, err)
	assert.Nil(t, row)

	_, err = f.ledger.AddCredits(ctx, u.SubjectID, 20, models.TxPurchase, "", &TxMeta{EventID: "evt_1"})
	require.NoError(t, err)

	row, err = f.ledger.FindByEventID(ctx, "evt_1")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, int64(30), row.BalanceAfter)
}

func TestLedger_VerifyReplayDetectsDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "u1")

	require.NoError(t, f.db.Model(&models.User{}).Where("id = ?", u.SubjectID).Update("credits", 99).Error)
	assert.Error(t, f.ledger.VerifyReplay(ctx, u.SubjectID))
}
