package githubapp

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// tokenFreshnessMargin is how close to expiry a cached installation token may
// be before it is considered stale and reminted.
const tokenFreshnessMargin = 5 * time.Minute

// InstallationToken is the ephemeral capability GitHub grants per installation.
type InstallationToken struct {
	Token     string
	ExpiresAt time.Time
}

// TokenMinter mints a fresh installation token. Implemented by Client against
// the GitHub API; tests substitute fakes.
type TokenMinter interface {
	MintInstallationToken(ctx context.Context, installationID int64) (*InstallationToken, error)
}

// TokenCache caches one installation token per installation id. Concurrent
// requests for the same installation may race to remint near expiry; the last
// write wins and the superseded token simply lapses. Entries leave the cache
// only on explicit installation teardown.
type TokenCache struct {
	minter TokenMinter

	mu     sync.Mutex
	tokens map[int64]InstallationToken
}

func NewTokenCache(minter TokenMinter) *TokenCache {
	return &TokenCache{
		minter: minter,
		tokens: make(map[int64]InstallationToken),
	}
}

// Token returns a token valid for at least the freshness margin, minting a
// replacement when the cached one is missing or too close to expiry.
func (c *TokenCache) Token(ctx context.Context, installationID int64) (string, error) {
	c.mu.Lock()
	cached, ok := c.tokens[installationID]
	c.mu.Unlock()

	if ok && time.Until(cached.ExpiresAt) > tokenFreshnessMargin {
		return cached.Token, nil
	}

	minted, err := c.minter.MintInstallationToken(ctx, installationID)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.tokens[installationID] = *minted
	c.mu.Unlock()

	log.Debug().
		Int64("installation_id", installationID).
		Time("expires_at", minted.ExpiresAt).
		Msg("Minted installation token")

	return minted.Token, nil
}

// Invalidate drops the cached token for an installation. Called on
// installation removal.
func (c *TokenCache) Invalidate(installationID int64) {
	c.mu.Lock()
	delete(c.tokens, installationID)
	c.mu.Unlock()
}
