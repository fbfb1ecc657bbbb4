package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds everything the server process reads from the environment.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	// PostgresDSN selects the durable call record store. Empty keeps
	// records in memory.
	PostgresDSN string

	JWTSecret string
	JWTIssuer string
	TokenTTL  time.Duration
}

func Load() (Config, error) {
	c := Config{
		Addr:      ":8080",
		JWTIssuer: "pulse",
		TokenTTL:  24 * time.Hour,
	}

	if v := strings.TrimSpace(os.Getenv("PULSE_ADDR")); v != "" {
		c.Addr = v
	}
	c.PostgresDSN = strings.TrimSpace(os.Getenv("PULSE_POSTGRES_DSN"))
	c.JWTSecret = os.Getenv("PULSE_JWT_SECRET")
	if v := strings.TrimSpace(os.Getenv("PULSE_JWT_ISSUER")); v != "" {
		c.JWTIssuer = v
	}
	if v := strings.TrimSpace(os.Getenv("PULSE_TOKEN_TTL_HOURS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, errors.New("PULSE_TOKEN_TTL_HOURS must be a positive integer")
		}
		c.TokenTTL = time.Duration(n) * time.Hour
	}

	if c.JWTSecret == "" {
		return Config{}, errors.New("PULSE_JWT_SECRET is required")
	}
	return c, nil
}
