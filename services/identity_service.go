package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"

	"github.com/akinalp/groomnet/models"
	"github.com/akinalp/groomnet/pkg"
	"github.com/akinalp/groomnet/pkg/crypto"
	"github.com/akinalp/groomnet/pkg/eventbus"
	"github.com/akinalp/groomnet/repository"
)

// IdentityService owns the signed-in identity and tells subscribers when it
// changes. Presence and notification sync react to these events instead of
// polling token storage.
//
// The token is issued and verified by the marketplace server; the agent only
// reads its claims (user id, role, barber id, expiry) and never checks the
// signature.
type IdentityService struct {
	repo  repository.SessionRepository
	key   []byte
	clock clock.Clock

	mu      sync.RWMutex
	current *models.Identity

	bus *eventbus.Bus[*models.Identity]
}

// NewIdentityService creates a signed-out service. key seals the token at rest.
func NewIdentityService(repo repository.SessionRepository, key []byte, clk clock.Clock) *IdentityService {
	if clk == nil {
		clk = clock.New()
	}
	return &IdentityService{
		repo:  repo,
		key:   key,
		clock: clk,
		bus:   eventbus.New[*models.Identity](),
	}
}

// Login validates token's claims, stores it sealed and publishes the new identity.
func (s *IdentityService) Login(ctx context.Context, token string) (*models.Identity, error) {
	identity, err := ParseIdentity(token, s.clock)
	if err != nil {
		return nil, err
	}

	sealed, err := crypto.Encrypt(identity.Token, s.key)
	if err != nil {
		return nil, fmt.Errorf("%w: seal token: %v", pkg.ErrInternal, err)
	}
	if err := s.repo.Save(ctx, sealed); err != nil {
		return nil, err
	}

	log.Printf("[identity] signed in: user=%d role=%s", identity.UserID, identity.Role)
	s.set(identity)
	return copyIdentity(identity), nil
}

// Restore loads the stored session at startup. A missing, unreadable or
// expired session leaves the service signed out without error; the
// unusable row is deleted.
func (s *IdentityService) Restore(ctx context.Context) (*models.Identity, error) {
	stored, err := s.repo.Get(ctx)
	if errors.Is(err, pkg.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	token, err := crypto.Decrypt(stored.EncryptedToken, s.key)
	if err != nil {
		log.Printf("[identity] stored session unreadable, discarding: %v", err)
		return nil, s.repo.Delete(ctx)
	}

	identity, err := ParseIdentity(token, s.clock)
	if err != nil {
		log.Printf("[identity] stored session rejected, discarding: %v", err)
		return nil, s.repo.Delete(ctx)
	}

	log.Printf("[identity] session restored: user=%d role=%s", identity.UserID, identity.Role)
	s.set(identity)
	return copyIdentity(identity), nil
}

// Logout deletes the stored session and publishes a nil identity.
func (s *IdentityService) Logout(ctx context.Context) error {
	if err := s.repo.Delete(ctx); err != nil {
		return err
	}
	log.Println("[identity] signed out")
	s.set(nil)
	return nil
}

// Current returns a copy of the identity, nil when signed out.
func (s *IdentityService) Current() *models.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyIdentity(s.current)
}

// Token returns the bearer token, "" when signed out.
func (s *IdentityService) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return ""
	}
	return s.current.Token
}

// Subscribe returns a channel receiving identity changes (nil on logout).
// A slow reader may skip intermediate identities but always receives the
// newest one.
func (s *IdentityService) Subscribe() (<-chan *models.Identity, func()) {
	return s.bus.SubscribeLatest()
}

// Close stops all subscriptions.
func (s *IdentityService) Close() {
	s.bus.Close()
}

func (s *IdentityService) set(identity *models.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = identity
	s.bus.Publish(copyIdentity(identity))
}

func copyIdentity(identity *models.Identity) *models.Identity {
	if identity == nil {
		return nil
	}
	cp := *identity
	return &cp
}

// ─── Token claims ───

// ParseIdentity reads the identity out of a bearer token. Expired tokens and
// tokens without a user id are pkg.ErrUnauthorized.
func ParseIdentity(token string, clk clock.Clock) (*models.Identity, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", pkg.ErrUnauthorized)
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: malformed token: %v", pkg.ErrUnauthorized, err)
	}

	userID, ok := claimInt(claims, "user_id")
	if !ok {
		return nil, fmt.Errorf("%w: token has no user_id", pkg.ErrUnauthorized)
	}

	identity := &models.Identity{
		UserID: userID,
		Role:   claimString(claims, "role"),
		Token:  token,
	}

	if identity.Role == models.RoleBarber {
		if barberID, ok := claimInt(claims, "barber_id"); ok {
			identity.BarberID = barberID
		} else {
			identity.BarberID = userID
		}
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return nil, fmt.Errorf("%w: bad exp claim: %v", pkg.ErrUnauthorized, err)
	}
	if exp != nil {
		identity.ExpiresAt = exp.Time.UTC()
		if !clk.Now().Before(exp.Time) {
			return nil, fmt.Errorf("%w: token expired at %s", pkg.ErrUnauthorized, exp.Time.UTC().Format("2006-01-02 15:04:05"))
		}
	}

	return identity, nil
}

func claimInt(claims jwt.MapClaims, name string) (int64, bool) {
	switch v := claims[name].(type) {
	case float64:
		if v > 0 {
			return int64(v), true
		}
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			return n, true
		}
	}
	return 0, false
}

func claimString(claims jwt.MapClaims, name string) string {
	s, _ := claims[name].(string)
	return strings.ToLower(s)
}
