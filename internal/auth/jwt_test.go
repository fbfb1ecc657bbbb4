package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_IssueVerifyRoundtrip(t *testing.T) {
	m, err := NewManager("secret", "pulse", time.Hour)
	require.NoError(t, err)

	now := time.Now()
	token, err := m.Issue(now, "alice")
	require.NoError(t, err)

	userID, err := m.Verify(token, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "alice", userID.String())
}

func TestManager_RejectsExpiredToken(t *testing.T) {
	m, err := NewManager("secret", "pulse", time.Hour)
	require.NoError(t, err)

	now := time.Now()
	token, err := m.Issue(now, "alice")
	require.NoError(t, err)

	_, err = m.Verify(token, now.Add(2*time.Hour))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestManager_RejectsWrongSecret(t *testing.T) {
	issuer, err := NewManager("secret-a", "pulse", time.Hour)
	require.NoError(t, err)
	verifier, err := NewManager("secret-b", "pulse", time.Hour)
	require.NoError(t, err)

	now := time.Now()
	token, err := issuer.Issue(now, "alice")
	require.NoError(t, err)

	_, err = verifier.Verify(token, now)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestManager_RejectsWrongIssuer(t *testing.T) {
	a, err := NewManager("secret", "other-service", time.Hour)
	require.NoError(t, err)
	b, err := NewManager("secret", "pulse", time.Hour)
	require.NoError(t, err)

	now := time.Now()
	token, err := a.Issue(now, "alice")
	require.NoError(t, err)

	_, err = b.Verify(token, now)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestManager_RejectsGarbage(t *testing.T) {
	m, err := NewManager("secret", "pulse", time.Hour)
	require.NoError(t, err)

	_, err = m.Verify("not.a.token", time.Now())
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewManager_RequiresSecret(t *testing.T) {
	_, err := NewManager("", "pulse", time.Hour)
	assert.Error(t, err)
}
