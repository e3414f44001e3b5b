package auth_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-cms/pkg/simplecms"
	"github.com/tendant/simple-cms/pkg/simplecms/auth"
)

func countingIssuer(calls *atomic.Int32, expires time.Time) auth.Issuer {
	return auth.IssuerFunc(func(ctx context.Context) (auth.Credentials, error) {
		n := calls.Add(1)
		return auth.Credentials{
			AccessKeyID:     "AKID",
			SecretAccessKey: "secret",
			SessionToken:    "session",
			Expires:         expires,
			Principal:       "editor@example.com",
			Token:           "token-" + string(rune('0'+n)),
		}, nil
	})
}

func TestNewSession_RequiresIssuer(t *testing.T) {
	_, err := auth.NewSession(nil)
	assert.ErrorIs(t, err, simplecms.ErrConfiguration)
}

func TestSession_Provider(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	session, err := auth.NewSession(countingIssuer(&calls, time.Now().Add(time.Hour)))
	require.NoError(t, err)

	provider := session.Provider()
	creds, err := provider.Retrieve(ctx)
	require.NoError(t, err)
	assert.Equal(t, "AKID", creds.AccessKeyID)
	assert.Equal(t, "session", creds.SessionToken)
	assert.True(t, creds.CanExpire)

	_, err = provider.Retrieve(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load(), "cached credentials are reused")
	assert.Equal(t, "editor@example.com", session.Principal())
}

func TestSession_Token(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var calls atomic.Int32
	session, err := auth.NewSession(countingIssuer(&calls, now.Add(10*time.Minute)),
		auth.WithClock(func() time.Time { return now }),
		auth.WithExpiryWindow(time.Minute))
	require.NoError(t, err)

	token, err := session.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "token-1", token)

	token, err = session.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "token-1", token)

	// within the expiry window the token is renewed
	now = now.Add(9*time.Minute + 30*time.Second)
	token, err = session.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "token-2", token)
}

func TestSession_InvalidateAndRefresh(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	session, err := auth.NewSession(countingIssuer(&calls, time.Now().Add(time.Hour)))
	require.NoError(t, err)

	_, err = session.Token(ctx)
	require.NoError(t, err)

	session.Invalidate()
	assert.Empty(t, session.Principal())

	_, err = session.Token(ctx)
	assert.ErrorIs(t, err, simplecms.ErrAuth)
	assert.ErrorIs(t, err, auth.ErrLoggedOut)

	_, err = session.Provider().Retrieve(ctx)
	assert.ErrorIs(t, err, simplecms.ErrAuth)

	require.NoError(t, session.Refresh(ctx))
	token, err := session.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "token-2", token)
}

func TestSession_IssuerFailure(t *testing.T) {
	boom := errors.New("identity provider unavailable")
	session, err := auth.NewSession(auth.IssuerFunc(func(context.Context) (auth.Credentials, error) {
		return auth.Credentials{}, boom
	}))
	require.NoError(t, err)

	err = session.Refresh(context.Background())
	assert.ErrorIs(t, err, simplecms.ErrAuth)
	assert.ErrorIs(t, err, boom)
}

func TestStatic(t *testing.T) {
	session, err := auth.NewSession(auth.Static(auth.Credentials{AccessKeyID: "a", SecretAccessKey: "b"}))
	require.NoError(t, err)

	creds, err := session.Provider().Retrieve(context.Background())
	require.NoError(t, err)
	assert.False(t, creds.CanExpire)
}
