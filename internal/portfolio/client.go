// Package portfolio validates cross-service portfolio ownership. The
// portfolio's owning service lives behind another schema, so ids are
// stored locally as opaque references and validated here at write time
// instead of through a database foreign key.
package portfolio

import (
	"context"
	"sync"
	"time"

	"github.com/ksred/ledger-api/internal/types"
	"github.com/rs/zerolog/log"
)

// OwnerClient answers whether a client may operate on a portfolio.
type OwnerClient interface {
	ValidateOwner(ctx context.Context, clientID, portfolioID string) error
}

// CachingClient wraps an OwnerClient with a short-TTL cache so repeated
// validations in a burst of orders do not re-cross the service boundary.
// Only positive answers are cached; denials are always re-checked.
type CachingClient struct {
	inner OwnerClient
	ttl   time.Duration

	mu    sync.RWMutex
	valid map[string]time.Time
}

func NewCachingClient(inner OwnerClient, ttl time.Duration) *CachingClient {
	return &CachingClient{
		inner: inner,
		ttl:   ttl,
		valid: make(map[string]time.Time),
	}
}

func (c *CachingClient) ValidateOwner(ctx context.Context, clientID, portfolioID string) error {
	key := clientID + ":" + portfolioID

	c.mu.RLock()
	expiry, ok := c.valid[key]
	c.mu.RUnlock()
	if ok && time.Now().Before(expiry) {
		return nil
	}

	if err := c.inner.ValidateOwner(ctx, clientID, portfolioID); err != nil {
		return err
	}

	c.mu.Lock()
	c.valid[key] = time.Now().Add(c.ttl)
	c.mu.Unlock()
	return nil
}

// LocalRegistry is an OwnerClient for deployments without an upstream
// portfolio service: ownership is whatever was registered in-process.
type LocalRegistry struct {
	mu     sync.RWMutex
	owners map[string]string // portfolio id -> client id
}

func NewLocalRegistry() *LocalRegistry {
	return &LocalRegistry{owners: make(map[string]string)}
}

// Register binds a portfolio to its owning client.
func (r *LocalRegistry) Register(clientID, portfolioID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owners[portfolioID] = clientID

	log.Debug().
		Str("client_id", clientID).
		Str("portfolio_id", portfolioID).
		Msg("portfolio ownership registered")
}

func (r *LocalRegistry) ValidateOwner(_ context.Context, clientID, portfolioID string) error {
	r.mu.RLock()
	owner, ok := r.owners[portfolioID]
	r.mu.RUnlock()

	if !ok {
		return types.NewValidationError("portfolio_id", "unknown portfolio")
	}
	if owner != clientID {
		return types.NewValidationError("portfolio_id", "portfolio not owned by caller")
	}
	return nil
}

// AllowAll skips ownership validation. Used when an upstream gateway has
// already authorized the (client, portfolio) pair.
type AllowAll struct{}

func (AllowAll) ValidateOwner(_ context.Context, _, _ string) error {
	return nil
}
