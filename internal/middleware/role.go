package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/itranswarp/backend/internal/models"
	"github.com/itranswarp/backend/pkg/apperr"
	"github.com/itranswarp/backend/pkg/response"
)

// RequireRole returns a middleware that allows only the given roles.
func RequireRole(roles ...models.Role) gin.HandlerFunc {
	allowed := make(map[string]struct{})
	for _, r := range roles {
		allowed[string(r)] = struct{}{}
	}
	return func(c *gin.Context) {
		roleVal, ok := c.Get(ContextUserRole)
		if !ok {
			response.AbortError(c, apperr.AuthFailed("missing user context"))
			return
		}
		role, _ := roleVal.(string)
		if _, ok := allowed[role]; !ok {
			response.AbortError(c, apperr.PermissionDenied("Permission denied."))
			return
		}
		c.Next()
	}
}
