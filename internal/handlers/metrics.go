package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/lukateg/starter-kit/internal/models"
	"github.com/lukateg/starter-kit/internal/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// RegisterDBGauges exposes row counts and pool stats on the default registry.
func RegisterDBGauges(db *gorm.DB) {
	countWhere := func(model interface{}, query string, args ...interface{}) func() float64 {
		return func() float64 {
			var n int64
			q := db.Model(model)
			if query != "" {
				q = q.Where(query, args...)
			}
			if err := q.Count(&n).Error; err != nil {
				return -1
			}
			return float64(n)
		}
	}

	prometheus.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "starterkit_projects",
			Help: "Number of projects",
		}, countWhere(&models.Project{}, "")),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "starterkit_users",
			Help: "Number of users",
		}, countWhere(&models.User{}, "")),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "starterkit_invitations_pending",
			Help: "Number of pending invitations",
		}, countWhere(&models.ProjectInvitation{}, "status = ?", models.InvitationPending)),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "starterkit_effect_queue_async",
			Help: "Whether the async effect queue (Redis) is enabled (1=yes, 0=no)",
		}, func() float64 {
			if q := services.GetEffectQueue(); q != nil && q.IsAsync() {
				return 1
			}
			return 0
		}),
	)

	if sqlDB, err := db.DB(); err == nil {
		prometheus.MustRegister(collectors.NewDBStatsCollector(sqlDB, "starterkit"))
	}
}

// Metrics serves the Prometheus registry.
func Metrics() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
