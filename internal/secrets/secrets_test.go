package secrets

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvProvider_GetSecret(t *testing.T) {
	t.Setenv("CRABDROP_EXECUTOR_SECRET", " s3cr3t ")
	provider := NewEnvProvider("crabdrop")
	ctx := context.Background()

	secret, err := provider.GetSecret(ctx, "executor.secret")
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", string(secret.Value))
	assert.Equal(t, "CRABDROP_EXECUTOR_SECRET", secret.Metadata["env_key"])
	assert.NotContains(t, secret.String(), "s3cr3t")

	_, err = provider.GetSecret(ctx, "missing")
	var notFound *SecretNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "missing", notFound.Key)

	assert.Equal(t, "PG_DSN", NewEnvProvider("").EnvKey("pg-dsn"))
}

type brokenProvider struct{}

func (brokenProvider) GetSecret(ctx context.Context, key string) (*Secret, error) {
	return nil, errors.New("vault sealed")
}

func TestResolve(t *testing.T) {
	t.Setenv("CRABDROP_EXECUTOR_SECRET", "from-env")
	ctx := context.Background()
	provider := NewEnvProvider("CRABDROP")

	value, err := Resolve(ctx, provider, "executor_secret", "fallback")
	require.NoError(t, err)
	assert.Equal(t, "from-env", value)

	value, err = Resolve(ctx, provider, "unset_key", "fallback")
	require.NoError(t, err)
	assert.Equal(t, "fallback", value)

	_, err = Resolve(ctx, brokenProvider{}, "executor_secret", "fallback")
	assert.Error(t, err)
}

func TestRedactor(t *testing.T) {
	r := NewRedactor()

	tests := []struct {
		name   string
		input  string
		leaked string
	}{
		{"postgres_url", "failed to open postgres://crab:hunter2@db:5432/crabs?sslmode=disable", "hunter2"},
		{"kv_dsn", "host=db user=crab password=hunter2 dbname=crabs", "hunter2"},
		{"bearer", "Authorization: Bearer abc.def-123", "abc.def-123"},
		{"secret_kv", `secret: "topsecret"`, "topsecret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := r.RedactString(tt.input)
			assert.NotContains(t, out, tt.leaked)
			assert.Contains(t, out, "[REDACTED]")
		})
	}

	// Wallets and tx handles are log fields, not secrets
	assert.Equal(t, "wallet 7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU",
		r.RedactString("wallet 7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"))

	r.AddLiteral("shared-deploy-key")
	assert.Equal(t, "executor said [REDACTED]", r.RedactError(fmt.Errorf("executor said shared-deploy-key")))
	assert.Empty(t, r.RedactError(nil))

	assert.Error(t, r.AddPattern("("))
}
