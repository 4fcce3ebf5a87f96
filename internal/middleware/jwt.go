package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/itranswarp/backend/internal/auth"
	"github.com/itranswarp/backend/internal/models"
	"github.com/itranswarp/backend/pkg/apperr"
	"github.com/itranswarp/backend/pkg/response"
)

const (
	// ContextUserID is the key for user ID in gin context.
	ContextUserID = "user_id"
	// ContextUserRole is the key for user role in gin context.
	ContextUserRole = "user_role"
	// ContextUserEmail is the key for user email in gin context.
	ContextUserEmail = "user_email"
)

// JWT returns a middleware that validates JWT and sets user claims in context.
func JWT(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.AbortError(c, apperr.AuthFailed("missing authorization header"))
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.AbortError(c, apperr.AuthFailed("invalid authorization header"))
			return
		}
		claims, err := jwtService.Validate(parts[1])
		if err != nil {
			response.AbortError(c, apperr.AuthFailed("invalid or expired token"))
			return
		}
		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUserRole, string(claims.Role))
		c.Set(ContextUserEmail, claims.Email)
		c.Next()
	}
}

// CurrentActor returns the authenticated caller set by JWT.
func CurrentActor(c *gin.Context) models.Actor {
	id, _ := c.Get(ContextUserID)
	role, _ := c.Get(ContextUserRole)
	uid, _ := id.(uuid.UUID)
	r, _ := role.(string)
	return models.Actor{ID: uid, Role: models.Role(r)}
}
