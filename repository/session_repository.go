package repository

import (
	"context"

	"github.com/akinalp/groomnet/models"
)

// SessionRepository persists the sealed bearer token of the single user.
type SessionRepository interface {
	Save(ctx context.Context, encryptedToken string) error
	Get(ctx context.Context) (*models.StoredSession, error)
	Delete(ctx context.Context) error
}
