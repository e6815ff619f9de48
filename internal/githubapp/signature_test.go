package githubapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"action":"opened"}`)
	secret := "webhook-secret"

	assert.True(t, VerifySignature(secret, body, signBody(secret, body)))
	assert.False(t, VerifySignature(secret, body, signBody("wrong-secret", body)))
	assert.False(t, VerifySignature(secret, []byte(`{"action":"edited"}`), signBody(secret, body)))
	assert.False(t, VerifySignature(secret, body, ""), "missing header is rejected")
	assert.False(t, VerifySignature(secret, body, "sha1=deadbeef"), "only sha256 signatures accepted")
	assert.False(t, VerifySignature("", body, signBody("", body)), "empty secret never verifies")
}
