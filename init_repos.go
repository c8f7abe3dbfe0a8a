package main

import (
	"database/sql"

	"github.com/akinalp/groomnet/config"
	"github.com/akinalp/groomnet/repository"
)

// Repositories holds every repository instance.
type Repositories struct {
	Session repository.SessionRepository
	Offer   repository.OfferRepository
}

func initRepositories(db *sql.DB, cfg *config.Config) *Repositories {
	return &Repositories{
		Session: repository.NewSQLiteSessionRepo(db),
		Offer:   repository.NewSQLiteOfferRepo(db, cfg.Sync.OfferHistoryLimit),
	}
}
