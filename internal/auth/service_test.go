package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokens(t *testing.T) {
	svc := NewService("test-secret", time.Hour)

	t.Run("should round-trip claims", func(t *testing.T) {
		token, err := svc.IssueToken("user-1", "operator")
		require.NoError(t, err)

		claims, err := svc.VerifyToken(token)
		require.NoError(t, err)
		assert.Equal(t, "user-1", claims.UserID)
		assert.Equal(t, "operator", claims.Role)
	})

	t.Run("should reject tampered tokens", func(t *testing.T) {
		token, err := svc.IssueToken("user-1", "operator")
		require.NoError(t, err)

		_, err = svc.VerifyToken(token + "x")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("should reject tokens signed with another secret", func(t *testing.T) {
		other := NewService("other-secret", time.Hour)
		token, err := other.IssueToken("user-1", "operator")
		require.NoError(t, err)

		_, err = svc.VerifyToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("should reject expired tokens", func(t *testing.T) {
		shortLived := &Service{secret: []byte("test-secret"), ttl: -time.Minute}
		token, err := shortLived.IssueToken("user-1", "operator")
		require.NoError(t, err)

		_, err = svc.VerifyToken(token)
		assert.ErrorIs(t, err, ErrTokenExpired)
	})

	t.Run("should reject garbage", func(t *testing.T) {
		_, err := svc.VerifyToken("not.a.token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}
