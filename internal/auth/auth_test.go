package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidateToken(t *testing.T) {
	cfg := Config{Secret: "test-secret", Expiry: time.Hour}

	token, err := GenerateToken(cfg, "user-1", "ops", RoleAdmin)
	require.NoError(t, err)

	claims, err := ValidateToken("test-secret", token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "ops", claims.Username)
	assert.Equal(t, RoleAdmin, claims.Role)
	assert.Equal(t, "user-1", claims.Subject)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	token, err := GenerateToken(Config{Secret: "one"}, "u", "n", RoleAdmin)
	require.NoError(t, err)

	_, err = ValidateToken("two", token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = ValidateToken("", token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	claims := Claims{
		UserID: "u",
		Role:   RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("s"))
	require.NoError(t, err)

	_, err = ValidateToken("s", token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestValidateTokenRejectsOtherAlgorithms(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Role: RoleAdmin}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = ValidateToken("s", token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestGenerateTokenRequiresSecret(t *testing.T) {
	_, err := GenerateToken(Config{}, "u", "n", RoleAdmin)
	assert.Error(t, err)
}

func TestHashAPIKey(t *testing.T) {
	hash, err := HashAPIKey("admin-key")
	require.NoError(t, err)
	assert.Equal(t, "$2a$", hash[:4])
	assert.True(t, CheckAPIKey("admin-key", hash))
	assert.False(t, CheckAPIKey("other", hash))
}

func TestCheckAPIKey(t *testing.T) {
	// bcrypt hash of "changeme"
	knownHash := "$2a$10$uejoNCSLZ9YkKOZriLlSGeg0pm/nuGVS3nRuSPyYuk/Z7HJHKBhGO"

	tests := []struct {
		name       string
		provided   string
		configured string
		expected   bool
	}{
		{"plaintext match", "secret", "secret", true},
		{"plaintext mismatch", "secret", "Secret", false},
		{"bcrypt match", "changeme", knownHash, true},
		{"bcrypt mismatch", "root", knownHash, false},
		{"nothing configured", "secret", "", false},
		{"nothing provided", "", "secret", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CheckAPIKey(tt.provided, tt.configured))
		})
	}
}
