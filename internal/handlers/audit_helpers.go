package handlers

import (
	"github.com/gin-gonic/gin"

	"message-service/internal/observability"
)

const requestIDContextKey = "request_id"

// requestIDFromContext returns the request id, resolving it once per request.
func requestIDFromContext(c *gin.Context) string {
	if id := c.GetString(requestIDContextKey); id != "" {
		return id
	}
	id := observability.RequestMetaFrom(c.Request).RequestID
	c.Set(requestIDContextKey, id)
	return id
}

func userIDFromContext(c *gin.Context) *string {
	if userID := c.GetString("userID"); userID != "" {
		return &userID
	}
	return nil
}
