// Package admin serves back-office sessions and storefront configuration.
package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tourdesk/backoffice/config"
	"github.com/tourdesk/backoffice/middlewares"
	"github.com/tourdesk/backoffice/models"
	"github.com/tourdesk/backoffice/utils"
)

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginHandler serves POST /auth/login.
func LoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if err := utils.ValidateStruct(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		info, err := models.Login(c.Request.Context(), req.Username, req.Password)
		if err != nil {
			config.GetLogger().WithField("username", req.Username).Warn("login rejected: " + err.Error())
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, info)
	}
}

// LogoutHandler serves POST /auth/logout behind RequireAuth.
func LogoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := models.Logout(c.Request.Context()); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func MeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, middlewares.CurrentUser(c.Request.Context()))
	}
}
