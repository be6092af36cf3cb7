package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tourdesk/backoffice/config"
	"github.com/tourdesk/backoffice/models"
	"github.com/tourdesk/backoffice/utils"
)

// bearerToken reads the admin session token from the "token" header or an
// "Authorization: Bearer" header.
func bearerToken(c *gin.Context) string {
	if token := strings.TrimSpace(c.Request.Header.Get("token")); token != "" {
		return token
	}
	auth := strings.TrimSpace(c.Request.Header.Get("Authorization"))
	const bearer = "Bearer "
	if len(auth) > len(bearer) && strings.EqualFold(auth[:len(bearer)], bearer) {
		return strings.TrimSpace(auth[len(bearer):])
	}
	return ""
}

// SessionMiddleware attaches the caller's identity to the request context.
// Requests without a token pass through anonymously; a token that does not
// verify or whose session was logged out is rejected.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.Next()
			return
		}

		validate, err := utils.JwtValidate(token)
		if err != nil || !validate.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		claim, ok := validate.Claims.(*utils.JwtCustomClaim)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		ctx := c.Request.Context()
		username, exists, err := models.SessionUsername(ctx, token)
		if err != nil {
			config.LogError(config.GetLogger(), "middlewares", "SessionMiddleware", "session lookup", claim.Username, err)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "session store unavailable"})
			return
		}
		if !exists || (username != "" && username != claim.Username) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		ctx = utils.SetTokenInContext(ctx, token)
		ctx = utils.SetUsernameInContext(ctx, claim.Username)
		ctx = utils.SetUserIdInContext(ctx, claim.ID)
		ctx = utils.SetRoleInContext(ctx, claim.Role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
