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
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// TxMeta carries optional dedup keys stored on a ledger row.
type TxMeta struct {
	OrderID     string
	EventID     string
	ReferralKey string
	Extra       map[string]interface{}
}

// LedgerResult is the outcome of a balance mutation.
type LedgerResult struct {
	BalanceAfter int64                     `json:"balance_after"`
	Transaction  *models.CreditTransaction `json:"transaction"`
}

type TransactionListRequest struct {
	Page     int `form:"page" binding:"omitempty,min=1"`
	PageSize int `form:"page_size" binding:"omitempty,min=1,max=100"`
}

type TransactionListResponse struct {
	Total    int64                      `json:"total"`
	Page     int                        `json:"page"`
	PageSize int                        `json:"page_size"`
	Items    []models.CreditTransaction `json:"items"`
}

// LedgerService owns users.credits and the credit_transactions log. It does
// not deduplicate by event id; callers handling external events must check
// FindByEventID first.
type LedgerService struct {
	db      *gorm.DB
	cfg     *config.CreditsConfig
	effects Effects
	log     zerolog.Logger
}

func NewLedgerService(db *gorm.DB, cfg *config.CreditsConfig, effects Effects) *LedgerService {
	return &LedgerService{
		db:      db,
		cfg:     cfg,
		effects: effects,
		log:     logger.Module("ledger"),
	}
}

// AddCredits credits amount to the user and appends the matching row.
func (s *LedgerService) AddCredits(ctx context.Context, userID string, amount int64, txType, description string, meta *TxMeta) (*LedgerResult, error) {
	if amount <= 0 {
		return nil, ErrValidation(CodeInvalidAmount, "amount must be positive")
	}
	result, err := s.applyDelta(ctx, userID, amount, txType, description, meta)
	s.record(txType, err)
	return result, err
}

// DeductCredits debits amount, failing with *InsufficientCreditsError when the
// balance cannot cover it. A low-balance notice is emitted after commit.
func (s *LedgerService) DeductCredits(ctx context.Context, userID string, amount int64, txType, description string, meta *TxMeta) (*LedgerResult, error) {
	if amount <= 0 {
		return nil, ErrValidation(CodeInvalidAmount, "amount must be positive")
	}
	result, err := s.applyDelta(ctx, userID, -amount, txType, description, meta)
	s.record(txType, err)
	if err != nil {
		return nil, err
	}

	if s.cfg != nil && result.BalanceAfter < s.cfg.LowBalanceThreshold {
		SafeNotify(ctx, s.effects, &Effect{
			Kind:    EffectLowBalance,
			UserID:  userID,
			Email:   s.userEmail(ctx, userID),
			Subject: "Your credit balance is running low",
			Payload: map[string]string{"balance": strconv.FormatInt(result.BalanceAfter, 10)},
		})
	}
	return result, nil
}

// applyDelta is the single read-check-write path for balances. The update is
// conditional on the balance staying non-negative, so two concurrent debits
// cannot both succeed past zero.
func (s *LedgerService) applyDelta(ctx context.Context, userID string, delta int64, txType, description string, meta *TxMeta) (*LedgerResult, error) {
	if !models.IsValidTransactionType(txType) {
		return nil, ErrValidation(CodeInvalidInput, fmt.Sprintf("unknown transaction type %q", txType))
	}

	var result LedgerResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		balance, err := currentBalance(tx, userID)
		if err != nil {
			return err
		}
		if delta < 0 && balance+delta < 0 {
			return &InsufficientCreditsError{Balance: balance, Required: -delta}
		}

		res := tx.Model(&models.User{}).
			Where("id = ? AND credits + ? >= 0", userID, delta).
			Update("credits", gorm.Expr("credits + ?", delta))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// A concurrent debit won the race.
			latest, err := currentBalance(tx, userID)
			if err != nil {
				return err
			}
			return &InsufficientCreditsError{Balance: latest, Required: -delta}
		}

		after, err := currentBalance(tx, userID)
		if err != nil {
			return err
		}

		row := newTransactionRow(userID, delta, txType, description, after, meta)
		if err := tx.Create(row).Error; err != nil {
			return err
		}

		result = LedgerResult{BalanceAfter: after, Transaction: row}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("user_id", userID).
		Int64("amount", delta).
		Str("type", txType).
		Int64("balance_after", result.BalanceAfter).
		Msg("ledger entry appended")
	return &result, nil
}

func currentBalance(tx *gorm.DB, userID string) (int64, error) {
	var user models.User
	if err := tx.Select("id", "credits").Where("id = ?", userID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrNotFound("user")
		}
		return 0, err
	}
	return user.Credits, nil
}

func newTransactionRow(userID string, amount int64, txType, description string, balanceAfter int64, meta *TxMeta) *models.CreditTransaction {
	row := &models.CreditTransaction{
		UserID:       userID,
		Amount:       amount,
		Type:         txType,
		Description:  description,
		BalanceAfter: balanceAfter,
	}
	if meta == nil {
		return row
	}
	if meta.OrderID != "" {
		row.OrderID = &meta.OrderID
	}
	if meta.EventID != "" {
		row.EventID = &meta.EventID
	}
	if meta.ReferralKey != "" {
		row.ReferralKey = &meta.ReferralKey
	}
	if len(meta.Extra) > 0 {
		row.Metadata = datatypes.JSONMap(meta.Extra)
	}
	return row
}

func (s *LedgerService) record(txType string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = KindOf(err).String()
		var insufficient *InsufficientCreditsError
		if errors.As(err, &insufficient) {
			outcome = CodeInsufficientCredits
		}
	}
	ledgerOperations.WithLabelValues(txType, outcome).Inc()
}

func (s *LedgerService) userEmail(ctx context.Context, userID string) string {
	var user models.User
	if err := s.db.WithContext(ctx).Select("email").Where("id = ?", userID).First(&user).Error; err != nil {
		return ""
	}
	return user.Email
}

// GetBalance returns the user's denormalized balance.
func (s *LedgerService) GetBalance(ctx context.Context, userID string) (int64, error) {
	return currentBalance(s.db.WithContext(ctx), userID)
}

// FindByEventID returns the ledger row recorded for an external event, or nil.
func (s *LedgerService) FindByEventID(ctx context.Context, eventID string) (*models.CreditTransaction, error) {
	if eventID == "" {
		return nil, nil
	}
	var row models.CreditTransaction
	err := s.db.WithContext(ctx).Where("event_id = ?", eventID).Order("id ASC").First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// ListTransactions returns the user's ledger rows, newest first.
func (s *LedgerService) ListTransactions(ctx context.Context, userID string, req *TransactionListRequest) (*TransactionListResponse, error) {
	if req.Page == 0 {
		req.Page = 1
	}
	if req.PageSize == 0 {
		req.PageSize = 20
	}

	var total int64
	var items []models.CreditTransaction

	query := s.db.WithContext(ctx).Model(&models.CreditTransaction{}).Where("user_id = ?", userID)
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	offset := (req.Page - 1) * req.PageSize
	if err := query.Order("id DESC").Offset(offset).Limit(req.PageSize).Find(&items).Error; err != nil {
		return nil, err
	}

	return &TransactionListResponse{
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Items:    items,
	}, nil
}

// VerifyReplay replays the user's log and reports the first row whose
// BalanceAfter disagrees with the running sum, or a final-sum mismatch.
func (s *LedgerService) VerifyReplay(ctx context.Context, userID string) error {
	db := s.db.WithContext(ctx)

	balance, err := currentBalance(db, userID)
	if err != nil {
		return err
	}

	var rows []models.CreditTransaction
	if err := db.Where("user_id = ?", userID).Order("id ASC").Find(&rows).Error; err != nil {
		return err
	}

	var running int64
	for _, row := range rows {
		running += row.Amount
		if running != row.BalanceAfter {
			return fmt.Errorf("transaction %d: balance_after %d, replayed %d", row.ID, row.BalanceAfter, running)
		}
	}
	if running != balance {
		return fmt.Errorf("user %s: credits %d, replayed %d", userID, balance, running)
	}
	return nil
}
