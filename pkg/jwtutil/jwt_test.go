package jwtutil

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidate(t *testing.T) {
	j := NewJWTUtil(&JWTConfig{SigningKey: "secret", Issuer: "payroll-test"})

	token, err := j.GenerateToken("user-1", "user@example.com", time.Hour)
	require.NoError(t, err)

	claims, err := j.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID())
	assert.Equal(t, "user@example.com", claims.Email)
}

func TestValidateRejectsWrongKey(t *testing.T) {
	token, err := NewJWTUtil(&JWTConfig{SigningKey: "a"}).GenerateToken("user-1", "", time.Hour)
	require.NoError(t, err)

	_, err = NewJWTUtil(&JWTConfig{SigningKey: "b"}).ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateRejectsExpired(t *testing.T) {
	j := NewJWTUtil(&JWTConfig{SigningKey: "secret"})
	token, err := j.GenerateToken("user-1", "", -time.Minute)
	require.NoError(t, err)

	_, err = j.ValidateToken(token)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestValidateRejectsWrongIssuer(t *testing.T) {
	token, err := NewJWTUtil(&JWTConfig{SigningKey: "secret", Issuer: "other"}).GenerateToken("user-1", "", time.Hour)
	require.NoError(t, err)

	_, err = NewJWTUtil(&JWTConfig{SigningKey: "secret", Issuer: "payroll"}).ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateRejectsMissingSubject(t *testing.T) {
	claims := UserClaims{RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = NewJWTUtil(&JWTConfig{SigningKey: "secret"}).ValidateToken(token)
	assert.Error(t, err)
}

func TestGenerateRequiresUserID(t *testing.T) {
	_, err := NewJWTUtil(&JWTConfig{SigningKey: "secret"}).GenerateToken("", "", time.Hour)
	assert.Error(t, err)
}
