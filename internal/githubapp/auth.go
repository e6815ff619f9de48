package githubapp

import (
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AppAuth mints the short-lived RS256 JWTs a GitHub App uses to authenticate
// as itself (for /app and installation token endpoints).
type AppAuth struct {
	appID      int64
	privateKey *rsa.PrivateKey
}

// NewAppAuth parses the PEM-encoded private key issued for the app.
func NewAppAuth(appID int64, privateKeyPEM string) (*AppAuth, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(privateKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("failed to parse GitHub App private key: %w", err)
	}
	return &AppAuth{appID: appID, privateKey: key}, nil
}

// AppJWT returns a freshly signed app JWT. Issued-at is backdated 60 seconds
// to absorb clock skew; GitHub rejects tokens with exp more than 10 minutes out.
func (a *AppAuth) AppJWT() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-60 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(10 * time.Minute)),
		Issuer:    fmt.Sprintf("%d", a.appID),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(a.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign app JWT: %w", err)
	}
	return signed, nil
}
