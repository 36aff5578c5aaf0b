package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"conversation-console/internal/middleware"
	"conversation-console/internal/session"
)

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(middleware.RequestIDKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(middleware.RequestIDKey, requestID)
	return requestID
}

// requestContext carries the request id into session calls so audit
// records can be correlated with access logs.
func requestContext(c *gin.Context) context.Context {
	return session.WithRequestID(c.Request.Context(), requestIDFromContext(c))
}
