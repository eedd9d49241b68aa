package main

import (
	"github.com/gin-gonic/gin"
	"github.com/lukateg/starter-kit/internal/handlers"
	"github.com/lukateg/starter-kit/internal/middleware"
	"github.com/lukateg/starter-kit/pkg/logger"
)

// registerRoutes sets up all HTTP routes on the given Gin engine.
func registerRoutes(r *gin.Engine, svc *appServices) {
	r.Use(logger.GinLogger(), logger.GinRecovery())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(middleware.CORS(svc.cfg.Server.AllowedOrigins))

	healthHandler := handlers.NewHealthHandler(svc.db, svc.sweep)
	r.GET("/health", healthHandler.CheckHealth)
	r.GET("/metrics", handlers.Metrics())

	userHandler := handlers.NewUserHandler(svc.users, svc.ledger)
	projectHandler := handlers.NewProjectHandler(svc.projects, svc.memberships, svc.auditLogs)
	memberHandler := handlers.NewProjectMemberHandler(svc.memberships)
	invitationHandler := handlers.NewInvitationHandler(svc.invitations)
	paymentHandler := handlers.NewPaymentWebhookHandler(svc.purchases, svc.cfg.Webhook.Secret)

	webhookLimiter := middleware.NewRateLimiter(svc.cfg.Webhook.RateLimitRPS, svc.cfg.Webhook.Burst)
	spendLimiter := middleware.NewKeyedRateLimiter(5, 10, middleware.ByUser)

	api := r.Group("/api")
	api.Use(middleware.AuditLog())
	{
		// Public
		api.GET("/invitations/preview", invitationHandler.Preview)
		api.POST("/webhooks/payments", webhookLimiter.Middleware(), paymentHandler.Handle)

		protected := api.Group("")
		protected.Use(middleware.AuthRequired(svc.users))
		{
			// Current user
			protected.GET("/me", userHandler.GetMe)
			protected.DELETE("/me", userHandler.DeleteMe)
			protected.PUT("/me/preferences", userHandler.UpdatePreferences)
			protected.GET("/me/credits", userHandler.GetCredits)
			protected.GET("/me/transactions", userHandler.ListTransactions)
			protected.POST("/me/credits/spend", spendLimiter.Middleware(), userHandler.Spend)

			// Projects
			protected.GET("/projects", projectHandler.List)
			protected.POST("/projects", projectHandler.Create)
			protected.GET("/projects/:id", projectHandler.Get)
			protected.DELETE("/projects/:id", projectHandler.Delete)
			protected.GET("/projects/:id/audit-logs", projectHandler.AuditLogs)

			// Members
			protected.GET("/projects/:id/members", memberHandler.List)
			protected.DELETE("/projects/:id/members/:userId", memberHandler.Remove)
			protected.PUT("/projects/:id/members/:userId/role", memberHandler.UpdateRole)
			protected.POST("/projects/:id/leave", memberHandler.Leave)
			protected.POST("/projects/:id/transfer-ownership", memberHandler.TransferOwnership)

			// Invitations
			protected.GET("/projects/:id/invitations", invitationHandler.List)
			protected.POST("/projects/:id/invitations/email", invitationHandler.CreateEmail)
			protected.POST("/projects/:id/invitations/link", invitationHandler.GetLink)
			protected.POST("/projects/:id/invitations/link/regenerate", invitationHandler.RegenerateLink)
			protected.DELETE("/projects/:id/invitations/:invitationId", invitationHandler.Revoke)
			protected.POST("/invitations/accept", invitationHandler.Accept)
		}
	}
}
