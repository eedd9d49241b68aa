package models

import (
	"time"

	"gorm.io/datatypes"
)

// Audit levels.
const (
	AuditLevelInfo    = "info"
	AuditLevelWarning = "warning"
)

// SystemLog is one audited state change, scoped to a project when it has one.
type SystemLog struct {
	ID        uint              `gorm:"primaryKey" json:"id"`
	Level     string            `gorm:"size:20;index" json:"level"`
	Module    string            `gorm:"size:100;index" json:"module"`
	Action    string            `gorm:"size:200;index" json:"action"`
	Message   string            `gorm:"type:text" json:"message"`
	UserID    *string           `gorm:"size:128;index" json:"user_id"`
	ProjectID *uint             `gorm:"index:idx_system_log_project_time,priority:1" json:"project_id"`
	IP        string            `gorm:"size:50" json:"ip"`
	UserAgent string            `gorm:"size:500" json:"user_agent"`
	Details   datatypes.JSONMap `json:"details,omitempty"`
	CreatedAt time.Time         `gorm:"index:idx_system_log_project_time,priority:2" json:"created_at"`
}

func (SystemLog) TableName() string { return "system_logs" }
