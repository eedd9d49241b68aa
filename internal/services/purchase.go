package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/lukateg/starter-kit/internal/models"
	"github.com/lukateg/starter-kit/pkg/logger"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// PurchaseEvent is a verified payment-provider event.
type PurchaseEvent struct {
	EventID     string `json:"event_id" binding:"required"`
	OrderID     string `json:"order_id"`
	UserID      string `json:"user_id"`
	ExternalID  string `json:"customer_id"`
	Credits     int64  `json:"credits" binding:"required"`
	Type        string `json:"type"` // purchase, refund
	Description string `json:"description"`
}

// PurchaseResult reports how an event was applied.
type PurchaseResult struct {
	Duplicate     bool             `json:"duplicate"`
	FirstPurchase bool             `json:"first_purchase"`
	BalanceAfter  int64            `json:"balance_after"`
	Referral      *ReferralOutcome `json:"referral,omitempty"`
}

// PurchaseService applies payment webhooks to the ledger. It is the caller
// responsible for event-id deduplication.
type PurchaseService struct {
	db        *gorm.DB
	ledger    *LedgerService
	users     *UserService
	referrals *ReferralService
	group     singleflight.Group
	log       zerolog.Logger
}

func NewPurchaseService(db *gorm.DB, ledger *LedgerService, users *UserService, referrals *ReferralService) *PurchaseService {
	return &PurchaseService{
		db:        db,
		ledger:    ledger,
		users:     users,
		referrals: referrals,
		log:       logger.Module("purchases"),
	}
}

// HandlePurchase credits the buyer once per EventID and rewards the buyer's
// referrer the first time a purchase goes through.
func (s *PurchaseService) HandlePurchase(ctx context.Context, evt *PurchaseEvent) (*PurchaseResult, error) {
	evt.EventID = strings.TrimSpace(evt.EventID)
	if evt.EventID == "" {
		return nil, ErrValidation(CodeInvalidInput, "event_id is required")
	}
	if evt.Credits <= 0 {
		return nil, ErrValidation(CodeInvalidAmount, "credits must be positive")
	}
	if evt.Type == "" {
		evt.Type = models.TxPurchase
	}
	if evt.Type != models.TxPurchase && evt.Type != models.TxRefund {
		return nil, ErrValidation(CodeInvalidInput, "type must be 'purchase' or 'refund'")
	}

	v, err, _ := s.group.Do(evt.EventID, func() (interface{}, error) {
		return s.handle(ctx, evt)
	})
	if err != nil {
		return nil, err
	}
	result := *v.(*PurchaseResult)
	return &result, nil
}

func (s *PurchaseService) handle(ctx context.Context, evt *PurchaseEvent) (*PurchaseResult, error) {
	existing, err := s.ledger.FindByEventID(ctx, evt.EventID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.log.Info().Str("event_id", evt.EventID).Msg("duplicate payment event ignored")
		return &PurchaseResult{Duplicate: true, BalanceAfter: existing.BalanceAfter}, nil
	}

	ref := evt.UserID
	if ref == "" {
		ref = evt.ExternalID
	}
	user, err := s.users.FindByReference(ctx, ref)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrNotFound("user")
	}
	if evt.ExternalID != "" && user.ExternalID == nil {
		if err := s.users.LinkExternalID(ctx, user.ID, evt.ExternalID); err != nil {
			s.log.Warn().Err(err).Str("user_id", user.ID).Msg("failed to link customer id")
		}
	}

	firstPurchase := false
	if evt.Type == models.TxPurchase {
		var prior int64
		if err := s.db.WithContext(ctx).Model(&models.CreditTransaction{}).
			Where("user_id = ? AND type = ?", user.ID, models.TxPurchase).
			Count(&prior).Error; err != nil {
			return nil, err
		}
		firstPurchase = prior == 0
	}

	description := evt.Description
	if description == "" {
		description = fmt.Sprintf("%s of %d credits", evt.Type, evt.Credits)
	}
	added, err := s.ledger.AddCredits(ctx, user.ID, evt.Credits, evt.Type, description, &TxMeta{
		OrderID: evt.OrderID,
		EventID: evt.EventID,
	})
	if err != nil {
		return nil, err
	}
	result := &PurchaseResult{BalanceAfter: added.BalanceAfter, FirstPurchase: firstPurchase}

	// The coordinator is idempotent per purchaser, so calling it on every
	// purchase also retries a reward that failed on the first one.
	if evt.Type == models.TxPurchase {
		outcome, err := s.referrals.RewardReferrer(ctx, user.ID)
		if err != nil {
			s.log.Error().Err(err).Str("user_id", user.ID).Msg("referral reward failed")
		} else {
			result.Referral = outcome
		}
	}

	s.log.Info().
		Str("event_id", evt.EventID).
		Str("user_id", user.ID).
		Int64("credits", evt.Credits).
		Bool("first_purchase", firstPurchase).
		Msg("payment event applied")
	return result, nil
}
