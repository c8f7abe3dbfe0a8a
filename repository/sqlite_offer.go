package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/akinalp/groomnet/database"
	"github.com/akinalp/groomnet/models"
)

type sqliteOfferRepo struct {
	db    *sql.DB
	limit int
}

// NewSQLiteOfferRepo returns an OfferRepository keeping at most limit rows.
// A limit <= 0 disables pruning.
func NewSQLiteOfferRepo(db *sql.DB, limit int) OfferRepository {
	return &sqliteOfferRepo{db: db, limit: limit}
}

func (r *sqliteOfferRepo) Record(ctx context.Context, entry *models.OfferHistoryEntry) error {
	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO offer_history
				(booking_id, customer_name, service_name, total_amount, outcome, received_at, resolved_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			RETURNING id`,
			entry.BookingID,
			entry.CustomerName,
			entry.ServiceName,
			entry.TotalAmount,
			string(entry.Outcome),
			entry.ReceivedAt.UTC(),
			entry.ResolvedAt.UTC(),
		).Scan(&entry.ID)
		if err != nil {
			return fmt.Errorf("failed to insert offer history: %w", err)
		}

		if r.limit <= 0 {
			return nil
		}

		// id is monotonic, so the newest rows have the highest ids.
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM offer_history
			WHERE id NOT IN (SELECT id FROM offer_history ORDER BY id DESC LIMIT ?)`,
			r.limit,
		); err != nil {
			return fmt.Errorf("failed to prune offer history: %w", err)
		}
		return nil
	})
}

func (r *sqliteOfferRepo) List(ctx context.Context, limit int) ([]models.OfferHistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, booking_id, customer_name, service_name, total_amount, outcome, received_at, resolved_at
		FROM offer_history
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list offer history: %w", err)
	}
	defer rows.Close()

	var entries []models.OfferHistoryEntry
	for rows.Next() {
		var e models.OfferHistoryEntry
		var outcome string
		if err := rows.Scan(
			&e.ID, &e.BookingID, &e.CustomerName, &e.ServiceName,
			&e.TotalAmount, &outcome, &e.ReceivedAt, &e.ResolvedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan offer history row: %w", err)
		}
		e.Outcome = models.OfferOutcome(outcome)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate offer history: %w", err)
	}

	return entries, nil
}
