package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthHandler_CheckSecret(t *testing.T) {
	t.Run("should accept anything when no secret is configured", func(t *testing.T) {
		auth := NewAuthHandler("")
		assert.False(t, auth.Enabled())
		assert.True(t, auth.CheckSecret(""))
		assert.True(t, auth.CheckSecret("whatever"))
	})

	t.Run("should require the exact secret when configured", func(t *testing.T) {
		auth := NewAuthHandler("s3cret")
		assert.True(t, auth.Enabled())
		assert.True(t, auth.CheckSecret("s3cret"))
		assert.False(t, auth.CheckSecret(""))
		assert.False(t, auth.CheckSecret("s3cret "))
	})
}

func TestAuthHandler_GenerateChallenge(t *testing.T) {
	auth := NewAuthHandler("test-secret")

	t.Run("should generate 32-byte challenge as hex", func(t *testing.T) {
		challenge, err := auth.GenerateChallenge()
		require.NoError(t, err)
		assert.Len(t, challenge, 64)
	})

	t.Run("should generate unique challenges", func(t *testing.T) {
		challenge1, err1 := auth.GenerateChallenge()
		challenge2, err2 := auth.GenerateChallenge()

		require.NoError(t, err1)
		require.NoError(t, err2)
		assert.NotEqual(t, challenge1, challenge2)
	})
}

func TestAuthHandler_VerifySignature(t *testing.T) {
	auth := NewAuthHandler("test-secret")

	t.Run("should verify valid signature", func(t *testing.T) {
		challenge, err := auth.GenerateChallenge()
		require.NoError(t, err)

		assert.True(t, auth.VerifySignature(challenge, computeHMAC(challenge, "test-secret")))
	})

	t.Run("should agree with Sign", func(t *testing.T) {
		assert.Equal(t, computeHMAC("abc", "test-secret"), Sign("test-secret", "abc"))
	})

	t.Run("should reject invalid signature", func(t *testing.T) {
		challenge, err := auth.GenerateChallenge()
		require.NoError(t, err)

		assert.False(t, auth.VerifySignature(challenge, "invalid-signature"))
	})

	t.Run("should reject signature with wrong secret", func(t *testing.T) {
		challenge, err := auth.GenerateChallenge()
		require.NoError(t, err)

		assert.False(t, auth.VerifySignature(challenge, computeHMAC(challenge, "wrong-secret")))
	})
}

func TestAuthHandler_HandleAuthResponse(t *testing.T) {
	auth := NewAuthHandler("test-secret")

	t.Run("should succeed with valid signature", func(t *testing.T) {
		client := &Client{ID: "test-client", Challenge: "test-challenge"}

		result := auth.HandleAuthResponse(client, computeHMAC("test-challenge", "test-secret"))

		assert.True(t, result.Success)
		assert.Equal(t, "auth.success", result.Event)
		assert.True(t, client.Authenticated)
		assert.Equal(t, 0, client.AuthAttempts)
		assert.Empty(t, client.Challenge)
	})

	t.Run("should fail with invalid signature", func(t *testing.T) {
		client := &Client{ID: "test-client", Challenge: "test-challenge"}

		result := auth.HandleAuthResponse(client, "invalid-signature")

		assert.False(t, result.Success)
		assert.Equal(t, "auth.failure", result.Event)
		assert.False(t, client.Authenticated)
		assert.Equal(t, 1, client.AuthAttempts)
	})

	t.Run("should block after 3 failed attempts", func(t *testing.T) {
		client := &Client{ID: "test-client", Challenge: "test-challenge", AuthAttempts: 2}

		result := auth.HandleAuthResponse(client, "invalid-signature")

		assert.False(t, result.Success)
		assert.Contains(t, result.Message, "Too many failed attempts")
		assert.Equal(t, 3, client.AuthAttempts)
	})

	t.Run("should fail when no challenge exists", func(t *testing.T) {
		client := &Client{ID: "test-client"}

		result := auth.HandleAuthResponse(client, "any-signature")

		assert.False(t, result.Success)
		assert.Contains(t, result.Message, "No challenge found")
	})
}

func TestClientLimiter(t *testing.T) {
	t.Run("should cap in-flight requests until released", func(t *testing.T) {
		limiter := newClientLimiter(100, 2)

		require.NoError(t, limiter.acquire())
		require.NoError(t, limiter.acquire())
		assert.ErrorIs(t, limiter.acquire(), errTooManyConcurrent)

		limiter.release()
		assert.NoError(t, limiter.acquire())
	})

	t.Run("should cap requests per minute", func(t *testing.T) {
		now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
		limiter := newClientLimiter(2, 10)
		limiter.now = func() time.Time { return now }

		require.NoError(t, limiter.acquire())
		require.NoError(t, limiter.acquire())
		assert.ErrorIs(t, limiter.acquire(), errRateLimited)

		now = now.Add(61 * time.Second)
		assert.NoError(t, limiter.acquire())
	})
}

func computeHMAC(challenge, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(challenge))
	return hex.EncodeToString(h.Sum(nil))
}
