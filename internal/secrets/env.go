package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

// EnvProvider implements SecretProvider for environment variables.
// The executor shared secret is read as CRABDROP_EXECUTOR_SECRET by default.
type EnvProvider struct {
	prefix string
}

// NewEnvProvider creates a new environment variable secret provider
func NewEnvProvider(prefix string) *EnvProvider {
	return &EnvProvider{prefix: prefix}
}

// GetSecret retrieves a secret from environment variables
func (p *EnvProvider) GetSecret(ctx context.Context, key string) (*Secret, error) {
	envKey := p.buildEnvKey(key)
	value := strings.TrimSpace(os.Getenv(envKey))

	if value == "" {
		return nil, &SecretNotFoundError{
			Key:      key,
			Provider: "environment",
		}
	}

	return &Secret{
		Key:       key,
		Value:     []byte(value),
		CreatedAt: time.Now(), // We can't know the actual creation time from env vars
		Metadata: map[string]string{
			"source":  "environment",
			"env_key": envKey,
		},
	}, nil
}

// EnvKey returns the variable name consulted for key
func (p *EnvProvider) EnvKey(key string) string {
	return p.buildEnvKey(key)
}

func (p *EnvProvider) buildEnvKey(key string) string {
	key = strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
	if p.prefix == "" {
		return key
	}
	return fmt.Sprintf("%s_%s", strings.ToUpper(p.prefix), key)
}
