package cli

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/lesson-progress-tracker/internal/auth"
	"github.com/JakeFAU/lesson-progress-tracker/internal/config"
)

func stubConfig(t *testing.T, fn func(string) (config.Config, error)) {
	t.Helper()
	orig := loadConfig
	loadConfig = fn
	t.Cleanup(func() { loadConfig = orig })
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTokenCommandSignsForLearner(t *testing.T) {
	var gotPath string
	stubConfig(t, func(path string) (config.Config, error) {
		gotPath = path
		cfg := config.Config{}
		cfg.Auth.JWTSecret = "s3cret"
		return cfg, nil
	})

	out, err := run(t, "--config", "tracker.yaml", "token", "--learner", "ada@example.com", "--ttl", "5m")
	require.NoError(t, err)
	require.Equal(t, "tracker.yaml", gotPath)

	verifier, err := auth.NewVerifier("s3cret")
	require.NoError(t, err)
	learner, err := verifier.Learner(strings.TrimSpace(out))
	require.NoError(t, err)
	require.Equal(t, "ada@example.com", learner)
}

func TestTokenCommandRequiresLearner(t *testing.T) {
	stubConfig(t, func(string) (config.Config, error) {
		cfg := config.Config{}
		cfg.Auth.JWTSecret = "s3cret"
		return cfg, nil
	})

	_, err := run(t, "token")
	require.ErrorContains(t, err, "--learner is required")
}

func TestTokenCommandRequiresSecret(t *testing.T) {
	stubConfig(t, func(string) (config.Config, error) {
		return config.Config{}, nil
	})

	_, err := run(t, "token", "--learner", "ada@example.com")
	require.ErrorContains(t, err, "jwt_secret")
}

func TestConfigErrorStopsSubcommands(t *testing.T) {
	stubConfig(t, func(string) (config.Config, error) {
		return config.Config{}, errors.New("boom")
	})

	_, err := run(t, "serve")
	require.ErrorContains(t, err, "load config: boom")
}

func TestResolveConfigWithoutPreRun(t *testing.T) {
	_, err := resolveConfig(context.Background())
	require.Error(t, err)
}
