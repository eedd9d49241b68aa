package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/lukateg/starter-kit/internal/models"
	"github.com/lukateg/starter-kit/internal/services"
	"github.com/lukateg/starter-kit/internal/utils"
	"github.com/lukateg/starter-kit/pkg/logger"
	"github.com/lukateg/starter-kit/pkg/response"
)

const (
	ContextUserID = "user_id"
	ContextEmail  = "email"
	ContextName   = "name"
)

// UserProvisioner creates the local user row on first sign-in.
type UserProvisioner interface {
	EnsureUser(ctx context.Context, id services.Identity, referredBy string) (*models.User, error)
}

// AuthRequired verifies the bearer token and provisions the caller.
func AuthRequired(users UserProvisioner) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Unauthorized(c, "authorization header required")
			c.Abort()
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			response.Unauthorized(c, "invalid authorization header format")
			c.Abort()
			return
		}

		claims, err := utils.ParseToken(parts[1])
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}

		id := services.Identity{
			SubjectID: claims.Subject,
			Email:     claims.Email,
			Name:      claims.Name,
		}
		if users != nil {
			if _, err := users.EnsureUser(c.Request.Context(), id, claims.ReferredBy); err != nil {
				l := logger.Module("auth")
				l.Error().Err(err).Str("user_id", id.SubjectID).Msg("failed to provision user")
				response.ServerError(c, "failed to load user")
				c.Abort()
				return
			}
		}

		c.Set(ContextUserID, id.SubjectID)
		c.Set(ContextEmail, id.Email)
		c.Set(ContextName, id.Name)

		c.Next()
	}
}

// GetUserID gets the current user ID from context
func GetUserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}

// GetIdentity returns the verified caller, or the zero Identity outside
// AuthRequired.
func GetIdentity(c *gin.Context) services.Identity {
	return services.Identity{
		SubjectID: c.GetString(ContextUserID),
		Email:     c.GetString(ContextEmail),
		Name:      c.GetString(ContextName),
	}
}
