package secrets

import (
	"context"
	"errors"
)

// ErrNotFound means the secret source does not exist (missing file, unknown secret id).
var ErrNotFound = errors.New("secret not found")

// Provider retrieves secrets as flat key/value maps.
// Concrete implementations (local file, AWS) satisfy this.
type Provider interface {
	GetSecret(ctx context.Context, key string) (map[string]string, error)
}
