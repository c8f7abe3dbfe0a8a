package models

import "time"

// StoredSession is the persisted bearer token, sealed with AES-GCM.
// There is at most one row: the agent serves a single user.
type StoredSession struct {
	EncryptedToken string    `json:"-"`
	UpdatedAt      time.Time `json:"updated_at"`
}
