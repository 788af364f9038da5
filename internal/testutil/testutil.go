// Package testutil provides shared test helpers for the gateway.
//
// All helpers accept [testing.TB] for compatibility with both tests and
// benchmarks. Functions that halt the test on failure use [require] from
// testify; functions that record failures without stopping use [assert].
//
// Every helper calls t.Helper() so that test failure messages report the
// caller's file and line number rather than this package's.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gwerr "github.com/akp/postbufferer/pkg/errors"
)

// RequireErrorCode halts the test if err is nil, is not a *gwerr.Error,
// or does not carry the expected error code. This is the primary helper
// for validating gateway error responses.
//
// Example:
//
//	_, err := store.Take(ctx, "a@b.com")
//	testutil.RequireErrorCode(t, err, gwerr.CodeNotFound)
func RequireErrorCode(t testing.TB, err error, code gwerr.Code, msgAndArgs ...any) {
	t.Helper()
	require.Error(t, err, msgAndArgs...)
	gwErr, ok := gwerr.AsError(err)
	require.True(t, ok, "expected *gwerr.Error, got %T: %v", err, err)
	require.Equal(t, code, gwErr.Code,
		"error code mismatch: got %q, want %q (message: %s)",
		gwErr.Code, code, gwErr.Message)
}

// AssertErrorCode records a test failure (without halting) if err is nil,
// is not a *gwerr.Error, or does not carry the expected error code.
// Use this in table-driven tests where you want to check all rows.
func AssertErrorCode(t testing.TB, err error, code gwerr.Code, msgAndArgs ...any) bool {
	t.Helper()
	if !assert.Error(t, err, msgAndArgs...) {
		return false
	}
	gwErr, ok := gwerr.AsError(err)
	if !assert.True(t, ok, "expected *gwerr.Error, got %T: %v", err, err) {
		return false
	}
	return assert.Equal(t, code, gwErr.Code,
		"error code mismatch: got %q, want %q (message: %s)",
		gwErr.Code, code, gwErr.Message)
}

// TempConfigFile creates a temporary file with the given content and
// extension (e.g., ".yaml", ".json") inside t.TempDir(). The file is
// automatically cleaned up when the test finishes.
//
// The file is created with mode 0600 (owner read/write only) following
// the principle of least privilege for configuration files.
func TempConfigFile(t testing.TB, content, ext string) string {
	t.Helper()
	dir := t.TempDir()
	name := "config" + ext
	path := filepath.Join(dir, name)
	err := os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err, "failed to write temp config file %s", path)
	return path
}

// SetEnv sets an environment variable and registers a cleanup function
// that restores the original value (or unsets it if it was not set)
// when the test completes.
//
// This is safe for use in parallel tests only if each test sets a
// unique environment variable. For shared variables, do not use
// t.Parallel().
func SetEnv(t testing.TB, key, value string) {
	t.Helper()
	prev, existed := os.LookupEnv(key)
	err := os.Setenv(key, value)
	require.NoError(t, err, "failed to set env var %s", key)
	t.Cleanup(func() {
		if existed {
			_ = os.Setenv(key, prev)
		} else {
			_ = os.Unsetenv(key)
		}
	})
}

// UnsetEnv unsets an environment variable and registers a cleanup
// function that restores the original value when the test completes.
func UnsetEnv(t testing.TB, key string) {
	t.Helper()
	prev, existed := os.LookupEnv(key)
	err := os.Unsetenv(key)
	require.NoError(t, err, "failed to unset env var %s", key)
	t.Cleanup(func() {
		if existed {
			_ = os.Setenv(key, prev)
		}
	})
}
