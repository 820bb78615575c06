// Package identity maps an inbound connection's credential to a
// stable user identity. It is a pure lookup over an external store;
// credential issuance (password hashing, JWT minting) lives elsewhere.
package identity

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rtcmeet/signaling/internal/directory"
	"github.com/rtcmeet/signaling/internal/domain"
)

var ErrUnauthorized = errors.New("unauthorized")

// Resolver verifies a credential and returns the user it names.
type Resolver interface {
	Resolve(ctx context.Context, credential string) (*domain.User, error)
}

// StoreResolver looks tokens up in the shared key-value store, where
// the authentication surface writes them at login.
type StoreResolver struct {
	store directory.Store
	ttl   time.Duration
}

func NewStoreResolver(store directory.Store, ttl time.Duration) *StoreResolver {
	return &StoreResolver{store: store, ttl: ttl}
}

func tokenKey(credential string) string {
	return fmt.Sprintf("auth:token:%s", credential)
}

func (r *StoreResolver) Resolve(ctx context.Context, credential string) (*domain.User, error) {
	if credential == "" {
		return nil, ErrUnauthorized
	}
	fields, err := r.store.HGetAll(ctx, tokenKey(credential))
	if err != nil {
		return nil, fmt.Errorf("token lookup: %w", err)
	}
	userID, username := fields["userId"], fields["username"]
	if userID == "" || username == "" {
		return nil, ErrUnauthorized
	}
	// Sliding expiry: an active connection keeps its token alive.
	if r.ttl > 0 {
		_ = r.store.Expire(ctx, tokenKey(credential), r.ttl)
	}
	return domain.NewUser(domain.UserID(userID), username)
}

// SecretResolver accepts "<secret>:<username>" credentials against a
// shared deploy secret, for setups without a user store. The user id
// is minted per credential resolution.
type SecretResolver struct {
	secret string
}

func NewSecretResolver(secret string) *SecretResolver {
	return &SecretResolver{secret: secret}
}

func (r *SecretResolver) Resolve(_ context.Context, credential string) (*domain.User, error) {
	if r.secret == "" {
		return nil, ErrUnauthorized
	}
	secret, username, ok := strings.Cut(credential, ":")
	if !ok {
		return nil, ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(secret), []byte(r.secret)) != 1 {
		return nil, ErrUnauthorized
	}
	if username == "" {
		username = "guest"
	}
	return domain.NewUser(domain.UserID(uuid.NewString()), username)
}
