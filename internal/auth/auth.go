// Package auth implements the feed service's optional ingress gate: a
// per-partner API key, bcrypt-hashed at rest, checked only on the feed
// ingestion endpoints. Query endpoints are unauthenticated by default.
// There is no session, role, or token concept here.
package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/orderingest/core/internal/partner"
)

// Gate validates an incoming feed request's API key against a bcrypt
// hash registered per partner, or against a master key that bypasses
// the per-partner check entirely.
type Gate struct {
	enabled    bool
	masterHash string
	hashes     map[partner.ID]string
}

// NewGate builds a Gate. enabled=false makes every Authenticate call a
// no-op success, for local development without provisioned keys.
func NewGate(enabled bool, masterHash string, hashes map[partner.ID]string) *Gate {
	copied := make(map[partner.ID]string, len(hashes))
	for k, v := range hashes {
		copied[k] = v
	}
	return &Gate{enabled: enabled, masterHash: masterHash, hashes: copied}
}

// HashKey bcrypt-hashes a plaintext API key at the configured cost, for use
// when provisioning a new partner credential.
func HashKey(plaintext string, cost int) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// outcome is the three-way result of an API-key check.
type outcome int

const (
	outcomeOK outcome = iota
	outcomeMissing
	outcomeInvalid
)

// authenticate checks key against the master hash and against id's
// registered hash.
func (g *Gate) authenticate(key string, id partner.ID) outcome {
	if !g.enabled {
		return outcomeOK
	}
	if key == "" {
		return outcomeMissing
	}
	if g.masterHash != "" && bcrypt.CompareHashAndPassword([]byte(g.masterHash), []byte(key)) == nil {
		return outcomeOK
	}
	if hash, ok := g.hashes[id]; ok && bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil {
		return outcomeOK
	}
	return outcomeInvalid
}

// RequirePartner wraps a handler that only ever serves the given partner,
// enforcing the 401 MISSING_API_KEY / 403 INVALID_API_KEY contract.
func (g *Gate) RequirePartner(id partner.ID, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get("X-API-Key"))
		switch g.authenticate(key, id) {
		case outcomeOK:
			next.ServeHTTP(w, r)
		case outcomeMissing:
			writeAuthError(w, http.StatusUnauthorized, "MISSING_API_KEY", "missing X-API-Key header")
		default:
			writeAuthError(w, http.StatusForbidden, "INVALID_API_KEY", "X-API-Key does not match this partner")
		}
	})
}

func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"code": code, "message": message})
}
