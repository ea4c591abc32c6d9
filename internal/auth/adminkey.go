package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"

	"golang.org/x/crypto/argon2"
)

// AdminKeyHeader carries the operator key on admin requests.
const AdminKeyHeader = "X-Admin-Key"

// HashKey generates a salted Argon2id hash of key. Both values are base64.
func HashKey(key string) (hash string, salt string, err error) {
	rawSalt := make([]byte, 16)
	if _, err := rand.Read(rawSalt); err != nil {
		return "", "", err
	}

	sum := argon2.IDKey([]byte(key), rawSalt, 1, 64*1024, 4, 32)
	return base64.StdEncoding.EncodeToString(sum), base64.StdEncoding.EncodeToString(rawSalt), nil
}

// VerifyKey compares key with a salted hash produced by HashKey.
func VerifyKey(key, salt, hash string) (bool, error) {
	decodedSalt, err := base64.StdEncoding.DecodeString(salt)
	if err != nil {
		return false, fmt.Errorf("failed to decode salt: %w", err)
	}
	decodedHash, err := base64.StdEncoding.DecodeString(hash)
	if err != nil {
		return false, fmt.Errorf("failed to decode hash: %w", err)
	}

	sum := argon2.IDKey([]byte(key), decodedSalt, 1, 64*1024, 4, 32)
	return subtle.ConstantTimeCompare(decodedHash, sum) == 1, nil
}

// AdminGuard admits requests whose X-Admin-Key verifies against hash/salt.
// With an empty hash every request is refused.
func AdminGuard(hash, salt string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(AdminKeyHeader)
			if hash == "" || key == "" {
				unauthorized(w, "admin key required")
				return
			}
			ok, err := VerifyKey(key, salt, hash)
			if err != nil || !ok {
				unauthorized(w, "invalid admin key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
