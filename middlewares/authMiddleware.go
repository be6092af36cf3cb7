package middlewares

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tourdesk/backoffice/config"
	"github.com/tourdesk/backoffice/models"
	"github.com/tourdesk/backoffice/utils"
)

type authString string

const currentUserKey = authString("currentUser")

// CurrentUser returns the user loaded by RequireAuth or RequireAdmin.
func CurrentUser(ctx context.Context) *models.User {
	raw, _ := ctx.Value(currentUserKey).(*models.User)
	return raw
}

// authorize loads the session user. The stored role wins over the JWT claim
// so a demotion takes effect without waiting for the token to expire.
func authorize(ctx context.Context, adminOnly bool) (*models.User, error) {
	username, ok := utils.GetUsernameFromContext(ctx)
	if !ok || username == "" {
		return nil, utils.ErrUnauthorized
	}
	user, err := models.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, utils.ErrUnauthorized
		}
		return nil, err
	}
	if !utils.DereferencePtr(user.IsActive, false) {
		return nil, utils.ErrUnauthorized
	}
	if adminOnly && !user.IsAdmin() {
		return nil, utils.ErrForbidden
	}
	return user, nil
}

func requireUser(adminOnly bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := authorize(c.Request.Context(), adminOnly)
		switch {
		case errors.Is(err, utils.ErrUnauthorized):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		case errors.Is(err, utils.ErrForbidden):
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin role required"})
			return
		case err != nil:
			config.LogError(config.GetLogger(), "middlewares", "requireUser", "load user", nil, err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		user.PrepareGive()
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), currentUserKey, user))
		c.Next()
	}
}

// RequireAuth lets any active user through.
func RequireAuth() gin.HandlerFunc {
	return requireUser(false)
}

// RequireAdmin answers 401 without a session and 403 for non-admin users.
func RequireAdmin() gin.HandlerFunc {
	return requireUser(true)
}
