package secrets

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// SecretProvider defines the interface for secret sources
type SecretProvider interface {
	// GetSecret retrieves a secret by key
	GetSecret(ctx context.Context, key string) (*Secret, error)
}

// Secret represents a secret with metadata
type Secret struct {
	Key       string            `json:"key"`
	Value     []byte            `json:"-"` // Never serialize the actual value
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// String never exposes the value
func (s *Secret) String() string {
	return fmt.Sprintf("Secret{%s: [REDACTED]}", s.Key)
}

// SecretNotFoundError is returned when a provider has no value for a key
type SecretNotFoundError struct {
	Key      string
	Provider string
}

func (e *SecretNotFoundError) Error() string {
	return fmt.Sprintf("secret %q not found in %s provider", e.Key, e.Provider)
}

// Resolve returns the value for key as a string, or fallback when the provider
// has none. Any other provider error is returned.
func Resolve(ctx context.Context, p SecretProvider, key, fallback string) (string, error) {
	secret, err := p.GetSecret(ctx, key)
	if err != nil {
		var missing *SecretNotFoundError
		if errors.As(err, &missing) {
			return fallback, nil
		}
		return "", err
	}
	return string(secret.Value), nil
}
