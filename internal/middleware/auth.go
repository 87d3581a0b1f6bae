package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chat-realtime/internal/apperr"
	"chat-realtime/internal/identity"
	"chat-realtime/internal/models"
)

// UserContextKey is where the authenticated models.User is stored.
const UserContextKey = "user"

type TokenVerifier interface {
	Verify(ctx context.Context, token string) (identity.Identity, error)
}

type UserResolver interface {
	Resolve(ctx context.Context, id identity.Identity) (models.User, error)
}

// AuthMiddleware validates the bearer token and resolves the caller.
func AuthMiddleware(verifier TokenVerifier, users UserResolver, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		id, err := verifier.Verify(c.Request.Context(), parts[1])
		if err != nil {
			code := apperr.CodeAuthenticationFailed
			switch {
			case errors.Is(err, identity.ErrExpired):
				code = apperr.CodeTokenExpired
			case errors.Is(err, identity.ErrMalformed):
				code = apperr.CodeTokenMalformed
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token", "code": code})
			return
		}

		user, err := users.Resolve(c.Request.Context(), id)
		if err != nil {
			appErr := apperr.From(err)
			if appErr.Kind == apperr.KindAuthentication {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": appErr.Message, "code": appErr.Code})
				return
			}
			logger.Warn("resolve user failed", zap.String("external_id", id.ExternalID), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "authentication unavailable", "code": apperr.CodeAuthUnavailable})
			return
		}

		c.Set(UserContextKey, user)
		c.Next()
	}
}
