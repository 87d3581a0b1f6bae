package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chat-realtime/internal/apperr"
	"chat-realtime/internal/middleware"
	"chat-realtime/internal/models"
	"chat-realtime/internal/observability"
)

// UserContextKey is where the auth middleware stores the caller.
const UserContextKey = middleware.UserContextKey

func requestIDFromContext(c *gin.Context) string {
	if id := observability.RequestID(c); id != "" {
		return id
	}
	requestID := c.GetHeader("X-Request-Id")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(observability.RequestIDKey, requestID)
	return requestID
}

func userFromContext(c *gin.Context) (models.User, bool) {
	val, ok := c.Get(UserContextKey)
	if !ok {
		return models.User{}, false
	}
	user, ok := val.(models.User)
	return user, ok && user.ID != 0
}

func externalIDFromContext(c *gin.Context) string {
	if user, ok := userFromContext(c); ok {
		return user.ExternalID
	}
	return ""
}

func writeError(c *gin.Context, err error) {
	appErr := apperr.From(err)
	status := http.StatusInternalServerError
	switch appErr.Kind {
	case apperr.KindAuthentication:
		status = http.StatusUnauthorized
	case apperr.KindAuthorization:
		status = http.StatusForbidden
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindModeration:
		status = http.StatusUnprocessableEntity
	case apperr.KindTransient:
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": appErr.Message, "code": appErr.Code})
}
