package api

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"livermore/internal/store/postgres"
)

// requireAPIKey authenticates the bearer token against the api_keys table.
// Keys are stored hashed; only the SHA-256 of the presented key crosses the
// process boundary.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if raw == "" || raw == r.Header.Get("Authorization") {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "missing bearer API key")
			return
		}

		sum := sha256.Sum256([]byte(raw))
		_, err := s.db.LookupAPIKey(r.Context(), hex.EncodeToString(sum[:]))
		if err != nil {
			if errors.Is(err, postgres.ErrUserNotFound) {
				writeError(w, http.StatusUnauthorized, "unauthenticated", "unknown API key")
				return
			}
			log.Warn().Str("component", "api").Err(err).Msg("api key lookup failed")
			writeError(w, http.StatusInternalServerError, "internal", "key lookup failed")
			return
		}
		next.ServeHTTP(w, r)
	})
}
