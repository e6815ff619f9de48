package githubapp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMinter struct {
	mintCalls int
	token     InstallationToken
	err       error
}

func (f *fakeMinter) MintInstallationToken(ctx context.Context, installationID int64) (*InstallationToken, error) {
	f.mintCalls++
	if f.err != nil {
		return nil, f.err
	}
	tok := f.token
	return &tok, nil
}

func TestTokenCacheServesFreshToken(t *testing.T) {
	minter := &fakeMinter{token: InstallationToken{Token: "fresh-token", ExpiresAt: time.Now().Add(1 * time.Hour)}}
	cache := NewTokenCache(minter)

	tok, err := cache.Token(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", tok)
	assert.Equal(t, 1, minter.mintCalls)

	tok, err = cache.Token(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", tok)
	assert.Equal(t, 1, minter.mintCalls, "no remint expected for a fresh token")
}

func TestTokenCacheRemintsNearExpiry(t *testing.T) {
	minter := &fakeMinter{token: InstallationToken{Token: "stale-token", ExpiresAt: time.Now().Add(3 * time.Minute)}}
	cache := NewTokenCache(minter)

	_, err := cache.Token(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, 1, minter.mintCalls)

	// Expiring in 3 minutes is within the 5 minute margin: must be reminted.
	minter.token = InstallationToken{Token: "replacement", ExpiresAt: time.Now().Add(1 * time.Hour)}
	tok, err := cache.Token(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "replacement", tok)
	assert.Equal(t, 2, minter.mintCalls)
}

func TestTokenCacheTenMinuteTokenServedWithoutRemint(t *testing.T) {
	minter := &fakeMinter{token: InstallationToken{Token: "ten-minute", ExpiresAt: time.Now().Add(10 * time.Minute)}}
	cache := NewTokenCache(minter)

	_, err := cache.Token(context.Background(), 7)
	require.NoError(t, err)

	tok, err := cache.Token(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "ten-minute", tok)
	assert.Equal(t, 1, minter.mintCalls)
}

func TestTokenCacheInvalidate(t *testing.T) {
	minter := &fakeMinter{token: InstallationToken{Token: "tok", ExpiresAt: time.Now().Add(1 * time.Hour)}}
	cache := NewTokenCache(minter)

	_, err := cache.Token(context.Background(), 42)
	require.NoError(t, err)

	cache.Invalidate(42)

	_, err = cache.Token(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, 2, minter.mintCalls, "invalidated entry must be reminted")
}

func TestTokenCachePerInstallation(t *testing.T) {
	minter := &fakeMinter{token: InstallationToken{Token: "tok", ExpiresAt: time.Now().Add(1 * time.Hour)}}
	cache := NewTokenCache(minter)

	_, err := cache.Token(context.Background(), 1)
	require.NoError(t, err)
	_, err = cache.Token(context.Background(), 2)
	require.NoError(t, err)

	assert.Equal(t, 2, minter.mintCalls, "each installation mints its own token")
}
