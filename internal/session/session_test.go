package session

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/dsemenov/market/internal/apperr"
)

func TestIssueAndVerify(t *testing.T) {
	m := NewManager([]byte("test-secret"))

	token, exp, err := m.Issue(42)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.True(t, exp.After(time.Now().Add(364*24*time.Hour)))

	userID, err := m.Verify(token)
	require.NoError(t, err)
	require.Equal(t, uint(42), userID)
}

func TestVerifyWrongSecret(t *testing.T) {
	m := NewManager([]byte("test-secret"))
	other := NewManager([]byte("other-secret"))

	token, _, err := m.Issue(7)
	require.NoError(t, err)

	_, err = other.Verify(token)
	require.ErrorIs(t, err, apperr.ErrInvalidSession)
}

func TestVerifyExpired(t *testing.T) {
	m := NewManager([]byte("test-secret"))

	claims := jwt.MapClaims{
		"sub": 7,
		"exp": time.Now().Add(-time.Minute).Unix(),
	}
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.Secret)
	require.NoError(t, err)

	_, err = m.Verify(expired)
	require.ErrorIs(t, err, apperr.ErrInvalidSession)
}

func TestVerifyGarbage(t *testing.T) {
	m := NewManager([]byte("test-secret"))

	_, err := m.Verify("not-a-token")
	require.ErrorIs(t, err, apperr.ErrInvalidSession)
}
