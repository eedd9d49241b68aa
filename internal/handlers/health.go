package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lukateg/starter-kit/internal/models"
	"github.com/lukateg/starter-kit/internal/services"
	"gorm.io/gorm"
)

// HealthHandler reports subsystem status.
type HealthHandler struct {
	db    *gorm.DB
	sweep *services.ExpirationSweep
}

func NewHealthHandler(db *gorm.DB, sweep *services.ExpirationSweep) *HealthHandler {
	return &HealthHandler{db: db, sweep: sweep}
}

// CheckHealth returns the health status of all subsystems.
func (h *HealthHandler) CheckHealth(c *gin.Context) {
	overall := "healthy"
	status := 200

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	dbStatus := "ok"
	sqlDB, err := h.db.DB()
	if err != nil {
		dbStatus = "error: " + err.Error()
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "error: " + err.Error()
	}
	if dbStatus != "ok" {
		overall = "unhealthy"
		status = 503
	}

	queueMode := "sync"
	if q := services.GetEffectQueue(); q != nil && q.IsAsync() {
		queueMode = "async (Redis)"
	}

	var pending int64
	h.db.WithContext(ctx).Model(&models.ProjectInvitation{}).
		Where("status = ?", models.InvitationPending).
		Count(&pending)

	components := gin.H{
		"database":            dbStatus,
		"effect_queue":        queueMode,
		"pending_invitations": pending,
	}
	if h.sweep != nil {
		if next := h.sweep.NextRun(); !next.IsZero() {
			components["next_sweep"] = next
		}
		if last, err := h.sweep.LastRun(ctx); err == nil && last != nil {
			components["last_sweep"] = gin.H{
				"run_date":  last.RunDate,
				"expired":   last.Processed,
				"succeeded": last.FinishedAt != nil && last.LastError == "",
			}
		}
	}

	c.JSON(status, gin.H{
		"status":     overall,
		"service":    "starter-kit",
		"components": components,
	})
}
