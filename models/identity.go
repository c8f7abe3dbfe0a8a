package models

import "time"

// Role values carried in the token claims.
const (
	RoleBarber   = "barber"
	RoleCustomer = "customer"
)

// Identity is the signed-in user as derived from the bearer token.
// BarberID is zero for non-barber accounts.
type Identity struct {
	UserID    int64     `json:"user_id"`
	BarberID  int64     `json:"barber_id,omitempty"`
	Role      string    `json:"role"`
	Token     string    `json:"-"` // never serialized
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// IsBarber reports whether the identity can receive booking offers.
func (i *Identity) IsBarber() bool {
	return i != nil && i.Role == RoleBarber && i.BarberID > 0
}
