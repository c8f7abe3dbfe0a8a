package repository

import (
	"context"

	"github.com/akinalp/groomnet/models"
)

// OfferRepository stores resolved offers, newest first.
type OfferRepository interface {
	// Record inserts entry and prunes the table to the configured limit.
	Record(ctx context.Context, entry *models.OfferHistoryEntry) error
	List(ctx context.Context, limit int) ([]models.OfferHistoryEntry, error)
}
