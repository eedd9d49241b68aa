package services

import (
	"context"
	"time"

	"github.com/lukateg/starter-kit/internal/models"
	"github.com/lukateg/starter-kit/pkg/logger"
	"gorm.io/gorm"
)

var auditDB *gorm.DB

// InitAuditLog sets the database used by the package-level audit helpers.
func InitAuditLog(db *gorm.DB) {
	auditDB = db
}

// AuditEntry is one state-changing request.
type AuditEntry struct {
	Module    string
	Action    string
	Message   string
	UserID    string
	ProjectID *uint
	IP        string
	UserAgent string
	Details   map[string]interface{}
}

func AuditInfo(e *AuditEntry) {
	writeAudit(models.AuditLevelInfo, e)
}

func AuditWarning(e *AuditEntry) {
	writeAudit(models.AuditLevelWarning, e)
}

func writeAudit(level string, e *AuditEntry) {
	if auditDB == nil {
		return
	}

	row := &models.SystemLog{
		Level:     level,
		Module:    e.Module,
		Action:    e.Action,
		Message:   e.Message,
		ProjectID: e.ProjectID,
		IP:        e.IP,
		UserAgent: e.UserAgent,
		Details:   e.Details,
		CreatedAt: time.Now(),
	}
	if e.UserID != "" {
		uid := e.UserID
		row.UserID = &uid
	}
	if err := auditDB.Create(row).Error; err != nil {
		l := logger.Module("audit")
		l.Warn().Err(err).Str("action", e.Action).Msg("failed to write audit log")
	}
}

type SystemLogService struct {
	db *gorm.DB
}

func NewSystemLogService(db *gorm.DB) *SystemLogService {
	return &SystemLogService{db: db}
}

// SystemLogListRequest filters a project's audit trail. Dates are
// YYYY-MM-DD and both ends are inclusive.
type SystemLogListRequest struct {
	Page     int    `form:"page" binding:"omitempty,min=1"`
	PageSize int    `form:"page_size" binding:"omitempty,min=1,max=100"`
	Level    string `form:"level" binding:"omitempty,oneof=info warning"`
	Module   string `form:"module"`
	Action   string `form:"action"`
	From     string `form:"from"`
	To       string `form:"to"`
}

type SystemLogListResponse struct {
	Total    int64
	Page     int
	PageSize int
	Items    []models.SystemLog
}

func (r *SystemLogListRequest) scope(projectID uint) (func(*gorm.DB) *gorm.DB, error) {
	var from, to time.Time
	var err error
	if r.From != "" {
		if from, err = time.ParseInLocation(time.DateOnly, r.From, time.Local); err != nil {
			return nil, ErrValidation(CodeInvalidInput, "from must be YYYY-MM-DD")
		}
	}
	if r.To != "" {
		if to, err = time.ParseInLocation(time.DateOnly, r.To, time.Local); err != nil {
			return nil, ErrValidation(CodeInvalidInput, "to must be YYYY-MM-DD")
		}
	}

	return func(db *gorm.DB) *gorm.DB {
		db = db.Where("project_id = ?", projectID)
		if r.Level != "" {
			db = db.Where("level = ?", r.Level)
		}
		if r.Module != "" {
			db = db.Where("module = ? OR module LIKE ?", r.Module, r.Module+".%")
		}
		if r.Action != "" {
			db = db.Where("action = ?", r.Action)
		}
		if !from.IsZero() {
			db = db.Where("created_at >= ?", from)
		}
		if !to.IsZero() {
			db = db.Where("created_at < ?", to.AddDate(0, 0, 1))
		}
		return db
	}, nil
}

// ListForProject returns the audit trail of one project, newest first.
// Module matches itself and its children, so "projects.invitations" also
// returns "projects.invitations.email".
func (s *SystemLogService) ListForProject(ctx context.Context, projectID uint, req *SystemLogListRequest) (*SystemLogListResponse, error) {
	if req.Page < 1 {
		req.Page = 1
	}
	if req.PageSize < 1 {
		req.PageSize = 20
	}
	filter, err := req.scope(projectID)
	if err != nil {
		return nil, err
	}

	resp := &SystemLogListResponse{Page: req.Page, PageSize: req.PageSize}
	base := s.db.WithContext(ctx).Model(&models.SystemLog{}).Scopes(filter)
	if err := base.Count(&resp.Total).Error; err != nil {
		return nil, err
	}
	err = s.db.WithContext(ctx).Scopes(filter).
		Order("created_at DESC, id DESC").
		Offset((req.Page - 1) * req.PageSize).
		Limit(req.PageSize).
		Find(&resp.Items).Error
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// CleanupOldLogs deletes logs older than retentionDays and returns how many
// rows went.
func (s *SystemLogService) CleanupOldLogs(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	result := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.SystemLog{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
