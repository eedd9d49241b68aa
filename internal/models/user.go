package models

import "time"

// User is created on first sign-in. ID is the identity provider's subject id.
type User struct {
	ID                string    `gorm:"primaryKey;size:128" json:"id"`
	Email             string    `gorm:"index;size:255;not null" json:"email"` // stored lower-cased
	Name              string    `gorm:"size:200" json:"name"`
	Credits           int64     `gorm:"not null;default:0" json:"credits"`
	ReferredBy        *string   `gorm:"size:128;index" json:"referred_by,omitempty"`
	ExternalID        *string   `gorm:"uniqueIndex;size:128" json:"-"` // payment-provider customer id
	EmailUnsubscribed bool      `gorm:"default:false" json:"email_unsubscribed"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (User) TableName() string { return "users" }
