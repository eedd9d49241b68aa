package services

import (
	"context"
	"errors"

	"github.com/lukateg/starter-kit/internal/config"
	"github.com/lukateg/starter-kit/internal/models"
	"github.com/lukateg/starter-kit/pkg/logger"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserService provisions users from identity-provider sign-ins.
type UserService struct {
	db      *gorm.DB
	credits *config.CreditsConfig
	log     zerolog.Logger
}

func NewUserService(db *gorm.DB, credits *config.CreditsConfig) *UserService {
	return &UserService{db: db, credits: credits, log: logger.Module("users")}
}

// EnsureUser returns the caller's user row, creating it on first sight with
// the starting credit grant. referredBy is recorded only at creation and
// only when it names another existing user.
func (s *UserService) EnsureUser(ctx context.Context, id Identity, referredBy string) (*models.User, error) {
	if err := requireIdentity(id); err != nil {
		return nil, err
	}

	email := normalizeEmail(id.Email)
	var user models.User
	created := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("id = ?", id.SubjectID).First(&user).Error
		if err == nil {
			if email != "" && user.Email != email {
				user.Email = email
				return tx.Model(&user).Update("email", email).Error
			}
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		user = models.User{
			ID:      id.SubjectID,
			Email:   email,
			Name:    id.Name,
			Credits: s.credits.StartingGrant,
		}
		if referredBy != "" && referredBy != id.SubjectID {
			var referrer models.User
			if err := tx.Select("id").Where("id = ?", referredBy).First(&referrer).Error; err == nil {
				user.ReferredBy = &referrer.ID
			}
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&user)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// A parallel first request provisioned the user and its grant.
			return tx.Where("id = ?", id.SubjectID).First(&user).Error
		}
		created = true

		if user.Credits > 0 {
			return tx.Create(newTransactionRow(user.ID, user.Credits, models.TxInitialGrant,
				"Welcome credits", user.Credits, nil)).Error
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if created {
		s.log.Info().Str("user_id", user.ID).Int64("credits", user.Credits).Msg("user provisioned")
	}
	return &user, nil
}

func (s *UserService) GetByID(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound("user")
		}
		return nil, err
	}
	return &user, nil
}

// FindByReference resolves a user by subject id or payment-provider id.
// It returns nil without error when neither matches.
func (s *UserService) FindByReference(ctx context.Context, ref string) (*models.User, error) {
	if ref == "" {
		return nil, nil
	}
	var user models.User
	err := s.db.WithContext(ctx).Where("id = ? OR external_id = ?", ref, ref).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// LinkExternalID stores the payment-provider customer id on the user.
func (s *UserService) LinkExternalID(ctx context.Context, userID, externalID string) error {
	res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Update("external_id", externalID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound("user")
	}
	return nil
}

func (s *UserService) SetUnsubscribed(ctx context.Context, userID string, unsubscribed bool) error {
	res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Update("email_unsubscribed", unsubscribed)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound("user")
	}
	return nil
}

// Delete removes the user and its non-owner memberships. Ledger rows stay.
// Owners must transfer or delete their projects first.
func (s *UserService) Delete(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var owned int64
		if err := tx.Model(&models.ProjectMember{}).
			Where("user_id = ? AND role = ?", userID, models.RoleOwner).
			Count(&owned).Error; err != nil {
			return err
		}
		if owned > 0 {
			return ErrValidation(CodeOwnerCannotLeave, "transfer or delete owned projects before deleting the account")
		}

		if err := tx.Where("user_id = ?", userID).Delete(&models.ProjectMember{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", userID).Delete(&models.User{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound("user")
		}
		return nil
	})
}
