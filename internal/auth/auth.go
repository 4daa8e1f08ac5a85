// Package auth authenticates the administrators allowed to trigger
// migrations. The core operations themselves receive already-authenticated
// intent; this package only guards the HTTP surface.
package auth

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// KeyVerifier checks a presented admin key against the configured one.
type KeyVerifier struct {
	configured string
	isBcrypt   bool
}

// NewKeyVerifier creates a verifier for the configured admin key. A value
// starting with a bcrypt prefix is treated as a hash; anything else is
// compared in constant time (plaintext keys are for development only).
func NewKeyVerifier(configured string) *KeyVerifier {
	return &KeyVerifier{
		configured: configured,
		isBcrypt:   strings.HasPrefix(configured, "$2a$") || strings.HasPrefix(configured, "$2b$") || strings.HasPrefix(configured, "$2y$"),
	}
}

// Verify reports whether the presented key matches. An empty configured key
// rejects everything.
func (v *KeyVerifier) Verify(presented string) bool {
	if v.configured == "" || presented == "" {
		return false
	}
	if v.isBcrypt {
		return bcrypt.CompareHashAndPassword([]byte(v.configured), []byte(presented)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(v.configured), []byte(presented)) == 1
}

// HashKey returns the bcrypt hash of a plaintext admin key, suitable for the
// config file.
func HashKey(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// AdminAuthMiddleware returns middleware that requires a valid admin key in
// the Authorization header. onFailure, when non-nil, is invoked on every
// rejected request.
func AdminAuthMiddleware(verifier *KeyVerifier, onFailure func()) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearerToken(r)
			if !verifier.Verify(token) {
				if onFailure != nil {
					onFailure()
				}
				writeUnauthorized(w, "missing or invalid admin key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Error: errorBody{Code: "unauthorized", Message: message},
	})
}
