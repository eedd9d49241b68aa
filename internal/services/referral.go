package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/lukateg/starter-kit/internal/config"
	"github.com/lukateg/starter-kit/internal/models"
	"github.com/lukateg/starter-kit/pkg/logger"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// Referral outcomes.
const (
	ReferralGranted           = "granted"
	ReferralPurchaserNotFound = "purchaser_not_found"
	ReferralNoReferrer        = "no_referrer"
	ReferralReferrerNotFound  = "referrer_not_found"
	ReferralAlreadyGranted    = "already_granted"
)

// ReferralOutcome describes what RewardReferrer did.
type ReferralOutcome struct {
	Result       string `json:"result"`
	ReferrerID   string `json:"referrer_id,omitempty"`
	Amount       int64  `json:"amount,omitempty"`
	BalanceAfter int64  `json:"balance_after,omitempty"`
}

func (o *ReferralOutcome) Granted() bool { return o != nil && o.Result == ReferralGranted }

// ReferralService pays the referrer of a purchasing user at most once per
// purchaser. The bonus row carries the purchaser id as its referral key and
// (user_id, referral_key) is unique.
type ReferralService struct {
	db      *gorm.DB
	ledger  *LedgerService
	users   *UserService
	credits *config.CreditsConfig
	effects Effects
	group   singleflight.Group
	log     zerolog.Logger
}

func NewReferralService(db *gorm.DB, ledger *LedgerService, users *UserService, credits *config.CreditsConfig, effects Effects) *ReferralService {
	return &ReferralService{
		db:      db,
		ledger:  ledger,
		users:   users,
		credits: credits,
		effects: effects,
		log:     logger.Module("referrals"),
	}
}

// RewardReferrer grants the referral bonus for purchaserRef, which may be a
// subject id or a payment-provider customer id. Repeated calls for the same
// purchaser are no-ops.
func (s *ReferralService) RewardReferrer(ctx context.Context, purchaserRef string) (*ReferralOutcome, error) {
	v, err, _ := s.group.Do(purchaserRef, func() (interface{}, error) {
		return s.rewardReferrer(ctx, purchaserRef)
	})
	if err != nil {
		return nil, err
	}
	outcome := *v.(*ReferralOutcome)
	return &outcome, nil
}

func (s *ReferralService) rewardReferrer(ctx context.Context, purchaserRef string) (*ReferralOutcome, error) {
	purchaser, err := s.users.FindByReference(ctx, purchaserRef)
	if err != nil {
		return nil, err
	}
	if purchaser == nil {
		s.log.Warn().Str("purchaser", purchaserRef).Msg("referral requested for unknown purchaser")
		return s.done(&ReferralOutcome{Result: ReferralPurchaserNotFound}), nil
	}
	if purchaser.ReferredBy == nil || *purchaser.ReferredBy == "" {
		return s.done(&ReferralOutcome{Result: ReferralNoReferrer}), nil
	}
	referrerID := *purchaser.ReferredBy

	granted, err := s.alreadyGranted(ctx, referrerID, purchaser.ID)
	if err != nil {
		return nil, err
	}
	if granted {
		return s.done(&ReferralOutcome{Result: ReferralAlreadyGranted, ReferrerID: referrerID}), nil
	}

	amount := s.credits.ReferralReward
	description := fmt.Sprintf("Referral bonus: %s made their first purchase", displayName(purchaser))
	result, err := s.ledger.AddCredits(ctx, referrerID, amount, models.TxBonus, description, &TxMeta{
		ReferralKey: purchaser.ID,
		Extra:       map[string]interface{}{"purchaser_id": purchaser.ID},
	})
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrDuplicatedKey):
			// Lost a race with another replica; the bonus exists.
			return s.done(&ReferralOutcome{Result: ReferralAlreadyGranted, ReferrerID: referrerID}), nil
		case KindOf(err) == KindNotFound:
			return s.done(&ReferralOutcome{Result: ReferralReferrerNotFound, ReferrerID: referrerID}), nil
		}
		return nil, err
	}

	s.log.Info().
		Str("referrer_id", referrerID).
		Str("purchaser_id", purchaser.ID).
		Int64("amount", amount).
		Msg("referral bonus granted")

	SafeNotify(ctx, s.effects, &Effect{
		Kind:    EffectReferralReward,
		UserID:  referrerID,
		Email:   s.ledger.userEmail(ctx, referrerID),
		Subject: "You earned a referral bonus",
		Payload: map[string]string{
			"purchaser_name": displayName(purchaser),
			"amount":         strconv.FormatInt(amount, 10),
		},
	})

	return s.done(&ReferralOutcome{
		Result:       ReferralGranted,
		ReferrerID:   referrerID,
		Amount:       amount,
		BalanceAfter: result.BalanceAfter,
	}), nil
}

func (s *ReferralService) alreadyGranted(ctx context.Context, referrerID, purchaserID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.CreditTransaction{}).
		Where("user_id = ? AND type = ? AND referral_key = ?", referrerID, models.TxBonus, purchaserID).
		Count(&count).Error
	return count > 0, err
}

func (s *ReferralService) done(o *ReferralOutcome) *ReferralOutcome {
	referralRewards.WithLabelValues(o.Result).Inc()
	return o
}

func displayName(u *models.User) string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}
