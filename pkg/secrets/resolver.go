package secrets

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/aipoopers/zonemarket/pkg/utils"
)

// ErrMissingField means the secret exists but lacks the requested field.
var ErrMissingField = errors.New("secret field missing")

// KeyResolver resolves one credential field (the backend anon key) from a
// Provider and keeps it in a TTL cache. A secret that does not exist (or lacks
// the field) is remembered: later calls fail without touching the provider.
type KeyResolver struct {
	logger   *zap.Logger
	provider Provider
	secret   string
	field    string
	cache    *Cache[string]

	mu      sync.Mutex
	missing error
}

func NewKeyResolver(logger *zap.Logger, provider Provider, secret, field string, cache *Cache[string]) *KeyResolver {
	return &KeyResolver{
		logger:   logger,
		provider: provider,
		secret:   secret,
		field:    field,
		cache:    cache,
	}
}

// Resolve returns the credential, hitting the provider only on a cache miss.
func (r *KeyResolver) Resolve(ctx context.Context) (string, error) {
	if v, ok := r.cache.Get(r.secret); ok {
		return v, nil
	}

	r.mu.Lock()
	missing := r.missing
	r.mu.Unlock()
	if missing != nil {
		return "", missing
	}

	m, err := r.provider.GetSecret(ctx, r.secret)
	if err != nil {
		err = fmt.Errorf("resolve %s: %w", r.secret, err)
		if errors.Is(err, ErrNotFound) {
			return "", r.markMissing(err)
		}
		r.logger.Warn("secrets.fetch_failed",
			zap.String("secret", r.secret),
			zap.Error(err))
		return "", err
	}

	v := m[r.field]
	if v == "" {
		return "", r.markMissing(fmt.Errorf("%w: %s in %s", ErrMissingField, r.field, r.secret))
	}

	r.cache.Put(r.secret, v)
	r.logger.Debug("secrets.resolved", zap.String("secret", r.secret), zap.String("key", utils.MaskKey(v)))
	return v, nil
}

// Invalidate forgets the cached credential and any remembered absence.
func (r *KeyResolver) Invalidate() {
	r.cache.Bust(r.secret)
	r.mu.Lock()
	r.missing = nil
	r.mu.Unlock()
}

func (r *KeyResolver) markMissing(err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.missing == nil {
		r.missing = err
		r.logger.Error("secrets.missing",
			zap.String("secret", r.secret),
			zap.String("field", r.field),
			zap.Error(err))
	}
	return r.missing
}
