package models

import "time"

// Project is a tenant. Ownership lives in ProjectMember; OwnerID is only read
// for projects created before memberships existed.
type Project struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"size:200;not null" json:"name"`
	Description string    `gorm:"size:2000" json:"description"`
	OwnerID     string    `gorm:"size:128;index" json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Project) TableName() string { return "projects" }
