package service

import (
	"testing"
	"time"

	"payhub/internal/core/ports"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidate_RoundTrip(t *testing.T) {
	svc := NewJWTTokenService("test-secret", time.Hour, "payhub")

	token, expiresAt, err := svc.Generate("retry-operator", ports.ScopeInternal)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "retry-operator", claims.Subject)
	assert.Equal(t, ports.ScopeInternal, claims.Scope)
}

func TestValidate_WrongSecret(t *testing.T) {
	svc := NewJWTTokenService("test-secret", time.Hour, "payhub")
	other := NewJWTTokenService("other-secret", time.Hour, "payhub")

	token, _, err := svc.Generate("svc", ports.ScopeInternal)
	require.NoError(t, err)

	_, err = other.Validate(token)
	assert.Error(t, err)
}

func TestValidate_WrongIssuer(t *testing.T) {
	svc := NewJWTTokenService("test-secret", time.Hour, "payhub")
	imposter := NewJWTTokenService("test-secret", time.Hour, "someone-else")

	token, _, err := imposter.Generate("svc", ports.ScopeInternal)
	require.NoError(t, err)

	_, err = svc.Validate(token)
	assert.Error(t, err)
}

func TestValidate_Expired(t *testing.T) {
	svc := NewJWTTokenService("test-secret", -time.Minute, "payhub")

	token, _, err := svc.Generate("svc", ports.ScopeInternal)
	require.NoError(t, err)

	_, err = svc.Validate(token)
	assert.Error(t, err)
}

func TestValidate_RejectsUnsignedAlgorithm(t *testing.T) {
	svc := NewJWTTokenService("test-secret", time.Hour, "payhub")

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub":   "svc",
		"scope": ports.ScopeInternal,
		"iss":   "payhub",
	})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = svc.Validate(token)
	assert.Error(t, err)
}

func TestValidate_MissingSubject(t *testing.T) {
	svc := NewJWTTokenService("test-secret", time.Hour, "payhub")

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"scope": ports.ScopeInternal,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
		"iss":   "payhub",
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = svc.Validate(signed)
	assert.Error(t, err)
}
