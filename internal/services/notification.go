package services

import (
	"context"
	"errors"

	"github.com/lukateg/starter-kit/internal/models"
	"github.com/lukateg/starter-kit/pkg/logger"
	"gorm.io/gorm"
)

// EffectDispatcher performs the actual delivery of an effect. It runs
// outside the request that produced the effect.
type EffectDispatcher struct {
	db    *gorm.DB
	email *EmailService
}

func NewEffectDispatcher(db *gorm.DB, email *EmailService) *EffectDispatcher {
	return &EffectDispatcher{db: db, email: email}
}

func (d *EffectDispatcher) Deliver(ctx context.Context, e *Effect) error {
	log := logger.Module("effects")
	log.Info().
		Str("kind", string(e.Kind)).
		Str("user_id", e.UserID).
		Str("email", e.Email).
		Msg("delivering effect")

	if e.Email == "" {
		effectDeliveries.WithLabelValues(string(e.Kind), "logged").Inc()
		return nil
	}

	unsubscribed, err := d.isUnsubscribed(ctx, e)
	if err != nil {
		return err
	}
	if unsubscribed {
		effectDeliveries.WithLabelValues(string(e.Kind), "unsubscribed").Inc()
		log.Debug().Str("email", e.Email).Msg("recipient unsubscribed, skipping email")
		return nil
	}

	if err := d.email.Send(ctx, []string{e.Email}, e.Subject, BuildEffectBody(e)); err != nil {
		effectDeliveries.WithLabelValues(string(e.Kind), "delivery_failed").Inc()
		return err
	}
	effectDeliveries.WithLabelValues(string(e.Kind), "delivered").Inc()
	return nil
}

func (d *EffectDispatcher) isUnsubscribed(ctx context.Context, e *Effect) (bool, error) {
	if d.db == nil {
		return false, nil
	}

	var user models.User
	query := d.db.WithContext(ctx).Select("email_unsubscribed")
	if e.UserID != "" {
		query = query.Where("id = ?", e.UserID)
	} else {
		query = query.Where("email = ?", normalizeEmail(e.Email))
	}
	if err := query.First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return user.EmailUnsubscribed, nil
}
