package es

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// === Helpers ===

type TestingEnv struct {
	*Env
	t *testing.T
}

func (e *TestingEnv) Assert() *TestingEnvAssert {
	return &TestingEnvAssert{env: e}
}

// StartTestEnv builds an in-memory Env and tears it down with the test.
func StartTestEnv(
	t *testing.T,
	opts ...EnvOption,
) *TestingEnv {
	e, err := NewEnv(
		WithInMemory(),
		WithEnvOpts(opts...),
	)
	require.NoError(t, err)
	t.Cleanup(e.Shutdown)
	return &TestingEnv{
		t:   t,
		Env: e,
	}
}

type TestingEnvAssert struct {
	env *TestingEnv
}

func (t *TestingEnvAssert) Append(
	ctx context.Context,
	expect Version,
	aggType string,
	aggID string,
	events ...any,
) *AppendResult {
	res, err := t.env.AppendWithResult(ctx, expect, aggType, aggID, events...)
	require.NoError(t.env.t, err)
	return res
}
