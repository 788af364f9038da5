package facebook

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"

	"github.com/akp/postbufferer/pkg/clients/redis"
	gwerr "github.com/akp/postbufferer/pkg/errors"
)

// stateKeyPrefix is prepended to the caller's verified email to form the
// Redis key holding that caller's pending CSRF state.
const stateKeyPrefix = "fb_state+"

// stateLength is the length of a generated CSRF state token.
const stateLength = 16

// stateAlphabet is the character set for generated state tokens.
const stateAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateState returns a random alphanumeric CSRF state token of
// [stateLength] characters, drawn from crypto/rand.
func GenerateState() (string, error) {
	buf := make([]byte, stateLength)
	alphabetLen := big.NewInt(int64(len(stateAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			return "", gwerr.Wrap(err, gwerr.CodeInternal,
				"facebook: failed to generate state token")
		}
		buf[i] = stateAlphabet[n.Int64()]
	}
	return string(buf), nil
}

// StateStore persists per-user CSRF state tokens in Redis for the window
// between issuing a login redirect and receiving the provider callback.
// Each user has at most one pending state, keyed by their verified email;
// starting a new login overwrites any previous pending state.
type StateStore struct {
	client *redis.Client

	// ttl bounds how long a pending state survives. Zero means states
	// never expire on their own.
	ttl time.Duration
}

// NewStateStore creates a StateStore on top of the given Redis client.
// A non-zero ttl caps the login window: a callback arriving after the
// state expired is treated the same as one with no pending login.
func NewStateStore(client *redis.Client, ttl time.Duration) *StateStore {
	return &StateStore{client: client, ttl: ttl}
}

// Put stores the state token for the given email, replacing any pending
// state from an earlier login attempt.
//
// Store failures are reported as [gwerr.CodeUnavailableDependency]: a
// login cannot proceed safely without a recorded state.
func (s *StateStore) Put(ctx context.Context, email, state string) error {
	if err := s.client.Set(ctx, stateKeyPrefix+email, state, s.ttl); err != nil {
		return gwerr.Wrap(err, gwerr.CodeUnavailableDependency,
			"facebook: failed to store login state")
	}
	return nil
}

// Get returns the pending state token for the given email.
//
// The token is read without being consumed; it remains valid until it is
// overwritten by a new login or expires. A missing key is reported as
// [gwerr.CodeNotFound]; any other store failure as
// [gwerr.CodeUnavailableDependency].
func (s *StateStore) Get(ctx context.Context, email string) (string, error) {
	state, err := s.client.Get(ctx, stateKeyPrefix+email)
	if err != nil {
		if gwerr.IsNotFound(err) {
			return "", gwerr.Wrap(err, gwerr.CodeNotFound,
				"facebook: no pending login state")
		}
		return "", gwerr.Wrap(err, gwerr.CodeUnavailableDependency,
			"facebook: failed to read login state")
	}
	return state, nil
}

// Clear removes the pending state for the given email. It is a no-op when
// no state exists.
func (s *StateStore) Clear(ctx context.Context, email string) error {
	if _, err := s.client.Del(ctx, stateKeyPrefix+email); err != nil {
		return gwerr.Wrap(err, gwerr.CodeUnavailableDependency,
			"facebook: failed to clear login state")
	}
	return nil
}
