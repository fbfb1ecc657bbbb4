package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PULSE_JWT_SECRET", "secret")
	t.Setenv("PULSE_ADDR", "")
	t.Setenv("PULSE_POSTGRES_DSN", "")
	t.Setenv("PULSE_JWT_ISSUER", "")
	t.Setenv("PULSE_TOKEN_TTL_HOURS", "")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", c.Addr)
	assert.Empty(t, c.PostgresDSN)
	assert.Equal(t, "pulse", c.JWTIssuer)
	assert.Equal(t, 24*time.Hour, c.TokenTTL)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PULSE_JWT_SECRET", "secret")
	t.Setenv("PULSE_ADDR", ":9090")
	t.Setenv("PULSE_POSTGRES_DSN", "postgres://localhost/pulse")
	t.Setenv("PULSE_JWT_ISSUER", "pulse-staging")
	t.Setenv("PULSE_TOKEN_TTL_HOURS", "72")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", c.Addr)
	assert.Equal(t, "postgres://localhost/pulse", c.PostgresDSN)
	assert.Equal(t, "pulse-staging", c.JWTIssuer)
	assert.Equal(t, 72*time.Hour, c.TokenTTL)
}

func TestLoad_RequiresJWTSecret(t *testing.T) {
	t.Setenv("PULSE_JWT_SECRET", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_RejectsBadTTL(t *testing.T) {
	t.Setenv("PULSE_JWT_SECRET", "secret")
	t.Setenv("PULSE_TOKEN_TTL_HOURS", "zero")

	_, err := Load()
	assert.Error(t, err)
}
