package provisioning

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

const (
	tokenPrefix = "mca_"
	tokenLength = 32 // 32 bytes = 256 bits
)

// GenerateAgentToken creates a new agent credential with crypto/rand.
func GenerateAgentToken() (string, error) {
	bytes := make([]byte, tokenLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(bytes)
	return tokenPrefix + encoded, nil
}

// HashAgentToken computes the SHA-256 digest stored in place of the token.
func HashAgentToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return fmt.Sprintf("%x", hash)
}

// VerifyAgentToken reports whether token hashes to hash.
func VerifyAgentToken(token, hash string) bool {
	return subtle.ConstantTimeCompare([]byte(HashAgentToken(token)), []byte(hash)) == 1
}
