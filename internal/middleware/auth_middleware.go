package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "timetracker/internal/errors"
	"timetracker/internal/model"
	"timetracker/internal/service"
)

const (
	UserIDContextKey = "userID"
	RoleContextKey   = "userRole"
)

func Auth(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			// EventSource cannot set headers, so the stream accepts a query token.
			token = c.Query("access_token")
		}
		if token == "" {
			writeError(c, apperrors.Unauthorized("missing authorization header"))
			return
		}

		principal, apiErr := authService.ParseToken(token)
		if apiErr != nil {
			writeError(c, apiErr)
			return
		}

		c.Set(UserIDContextKey, principal.UserID)
		c.Set(RoleContextKey, principal.Role)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
}

// RequireRoles must run after Auth.
func RequireRoles(roles ...model.Role) gin.HandlerFunc {
	roleSet := make(map[model.Role]struct{}, len(roles))
	for _, role := range roles {
		roleSet[role] = struct{}{}
	}

	return func(c *gin.Context) {
		if UserID(c) == "" {
			writeError(c, apperrors.Unauthorized(""))
			return
		}
		if _, ok := roleSet[Role(c)]; !ok {
			writeError(c, apperrors.Forbidden(""))
			return
		}
		c.Next()
	}
}

func UserID(c *gin.Context) string {
	value, ok := c.Get(UserIDContextKey)
	if !ok {
		return ""
	}
	userID, ok := value.(string)
	if !ok {
		return ""
	}
	return userID
}

func Role(c *gin.Context) model.Role {
	value, ok := c.Get(RoleContextKey)
	if !ok {
		return ""
	}
	role, _ := value.(model.Role)
	return role
}

func writeError(c *gin.Context, apiErr *apperrors.APIError) {
	c.AbortWithStatusJSON(apiErr.Status, apperrors.Envelope{Error: apiErr})
}
