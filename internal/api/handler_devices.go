package api

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type deviceTokenRequest struct {
	Token string `json:"token"`
}

// RegisterDeviceToken handles POST /device-tokens/.
func (h *Handler) RegisterDeviceToken(c *gin.Context) {
	var req deviceTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil && !emptyBody(err) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	token := strings.TrimSpace(req.Token)
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Token is required"})
		return
	}

	if err := h.store.UpsertDeviceToken(c.Request.Context(), token); err != nil {
		log.Printf("Error registering device token: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Token registered"})
}

// TestConnection handles GET /test-connection/.
func (h *Handler) TestConnection(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "success",
		"message":   "Backend connection successful",
		"timestamp": h.now().UTC(),
	})
}
