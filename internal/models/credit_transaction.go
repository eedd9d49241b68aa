package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	TxInitialGrant = "initial_grant"
	TxPurchase     = "purchase"
	TxUsage        = "usage"
	TxBonus        = "bonus"
	TxRefund       = "refund"
)

// CreditTransaction is an append-only ledger row. Replaying Amount in ID
// order reproduces every BalanceAfter and the owner's current credits.
type CreditTransaction struct {
	ID           uint              `gorm:"primaryKey" json:"id"`
	UserID       string            `gorm:"size:128;not null;index;uniqueIndex:idx_credit_referral_key" json:"user_id"`
	Amount       int64             `gorm:"not null" json:"amount"`
	Type         string            `gorm:"size:20;not null;index" json:"type"`
	Description  string            `gorm:"size:500" json:"description"`
	BalanceAfter int64             `gorm:"not null" json:"balance_after"`
	OrderID      *string           `gorm:"size:128;index" json:"order_id,omitempty"`
	EventID      *string           `gorm:"size:128;index" json:"event_id,omitempty"`
	ReferralKey  *string           `gorm:"size:128;uniqueIndex:idx_credit_referral_key" json:"-"`
	Metadata     datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt    time.Time         `gorm:"index" json:"created_at"`
}

func (CreditTransaction) TableName() string { return "credit_transactions" }

// IsValidTransactionType reports whether t is a known ledger entry type.
func IsValidTransactionType(t string) bool {
	switch t {
	case TxInitialGrant, TxPurchase, TxUsage, TxBonus, TxRefund:
		return true
	}
	return false
}
