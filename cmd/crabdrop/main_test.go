package main

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSeed(t *testing.T) {
	tests := []struct {
		seed                   string
		username, code, wallet string
		wantErr                bool
	}{
		{seed: "alice:CODE-1:W1", username: "alice", code: "CODE-1", wallet: "W1"},
		{seed: "bob:CODE-2", username: "bob", code: "CODE-2"},
		{seed: "carol", wantErr: true},
		{seed: ":CODE-3:W3", wantErr: true},
		{seed: "a:b:c:d", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.seed, func(t *testing.T) {
			username, code, wallet, err := parseSeed(tt.seed)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.username, username)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.wallet, wallet)
		})
	}
}

func TestSetupLogging(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.GlobalLevel())
	defer func(l zerolog.Logger) { log.Logger = l }(log.Logger)

	var buf bytes.Buffer
	require.NoError(t, setupLogging(&buf, "warn", "json"))
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	log.Info().Msg("hidden")
	log.Warn().Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"app":"crabdrop"`)

	// A buffer is never a terminal, so auto falls back to JSON
	buf.Reset()
	require.NoError(t, setupLogging(&buf, "", "auto"))
	log.Warn().Msg("auto")
	assert.Contains(t, buf.String(), `"message":"auto"`)

	assert.Error(t, setupLogging(&buf, "loud", ""))
	assert.Error(t, setupLogging(&buf, "", "xml"))
}

func TestRootCommand(t *testing.T) {
	root := newRootCmd()

	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "migrate", "stats", "pending", "finalize", "release", "init-config"} {
		assert.True(t, names[want], "missing command %s", want)
	}

	finalize, _, err := root.Find([]string{"finalize"})
	require.NoError(t, err)
	assert.NotNil(t, finalize.Flags().Lookup("wallet"))
	assert.NotNil(t, finalize.Flags().Lookup("tx"))
}

func TestReleaseRequiresDatabase(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"release", "--wallet", "W1", "--config", t.TempDir() + "/none.yaml", "--log-level", "error"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "needs the database")
}

func TestInitConfig(t *testing.T) {
	path := t.TempDir() + "/crabdrop.yaml"

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"init-config", "--config", path})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "wrote")

	root = newRootCmd()
	root.SetArgs([]string{"init-config", "--config", path})
	assert.ErrorContains(t, root.Execute(), "already exists")
}
