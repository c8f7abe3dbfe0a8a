package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/akinalp/groomnet/database"
	"github.com/akinalp/groomnet/models"
	"github.com/akinalp/groomnet/pkg"
)

type sqliteSessionRepo struct {
	db database.TxQuerier
}

// NewSQLiteSessionRepo returns a SessionRepository backed by the sessions table.
func NewSQLiteSessionRepo(db database.TxQuerier) SessionRepository {
	return &sqliteSessionRepo{db: db}
}

func (r *sqliteSessionRepo) Save(ctx context.Context, encryptedToken string) error {
	query := `
		INSERT INTO sessions (id, encrypted_token, updated_at)
		VALUES (1, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			encrypted_token = excluded.encrypted_token,
			updated_at = excluded.updated_at`

	if _, err := r.db.ExecContext(ctx, query, encryptedToken); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (r *sqliteSessionRepo) Get(ctx context.Context) (*models.StoredSession, error) {
	query := `SELECT encrypted_token, updated_at FROM sessions WHERE id = 1`

	session := &models.StoredSession{}
	err := r.db.QueryRowContext(ctx, query).Scan(&session.EncryptedToken, &session.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkg.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return session, nil
}

func (r *sqliteSessionRepo) Delete(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions`); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
