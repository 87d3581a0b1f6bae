// Package directory maps verified identities onto internal user records.
package directory

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"chat-realtime/internal/apperr"
	"chat-realtime/internal/identity"
	"chat-realtime/internal/models"
	"chat-realtime/internal/repositories"
)

type Directory struct {
	users  repositories.UserRepository
	logger *zap.Logger
}

func New(users repositories.UserRepository, logger *zap.Logger) *Directory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{users: users, logger: logger}
}

// Resolve returns the user for id, creating it on first sight. Existing
// display fields win over whatever the identity provider sends now.
func (d *Directory) Resolve(ctx context.Context, id identity.Identity) (models.User, error) {
	if id.ExternalID == "" {
		return models.User{}, apperr.New(apperr.KindAuthentication, apperr.CodeAuthenticationFailed, "token has no subject")
	}

	user, err := d.users.UpsertByExternalID(ctx, models.User{
		ExternalID: id.ExternalID,
		Email:      id.Email,
		FirstName:  id.FirstName,
		LastName:   id.LastName,
		Username:   defaultUsername(id),
		AvatarURL:  id.AvatarURL,
	})
	if err != nil {
		d.logger.Error("resolve user failed", zap.String("external_id", id.ExternalID), zap.Error(err))
		return models.User{}, apperr.Transient("user directory unavailable", err)
	}
	if !user.IsActive {
		return models.User{}, apperr.New(apperr.KindAuthentication, apperr.CodeAccountDisabled, "account is disabled")
	}
	return user, nil
}

func defaultUsername(id identity.Identity) string {
	if id.Username != "" {
		return id.Username
	}
	if at := strings.IndexByte(id.Email, '@'); at > 0 {
		return id.Email[:at]
	}
	ext := id.ExternalID
	if len(ext) > 8 {
		ext = ext[:8]
	}
	return "user_" + ext
}
