package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/arbiter-hq/arbiter/internal/arberr"
	"github.com/arbiter-hq/arbiter/internal/security"
)

// securityHeaders strips version-revealing response headers and sets a
// generic Server identifier, adapted from the dashboard's header-removal
// wrapper but trimmed to the one behavior this surface needs.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "arbiter")
		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimPrefix(h, prefix)
}

// withAuth wraps a handler so it only runs once the security gate has
// authorized op for the caller's bearer token. The command endpoint is
// the only surface that needs this; read endpoints are intentionally
// left open per the no-mutating-endpoints-on-the-observer-surface split.
func (s *Server) withAuth(op string, mutating bool, next func(w http.ResponseWriter, r *http.Request, identity security.Identity)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		targetID := mux.Vars(r)["id"]
		decision, err := s.deps.Gate.Authorize(token, op, targetID, mutating, nil)
		if err != nil {
			writeArberr(w, err)
			return
		}
		next(w, r, decision.Identity)
	}
}

func writeArberr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch arberr.KindOf(err) {
	case arberr.KindUnauthorized:
		status = http.StatusUnauthorized
	case arberr.KindForbidden:
		status = http.StatusForbidden
	case arberr.KindRateLimited:
		status = http.StatusTooManyRequests
	case arberr.KindNotFound:
		status = http.StatusNotFound
	case arberr.KindValidation:
		status = http.StatusBadRequest
	case arberr.KindConflict:
		status = http.StatusConflict
	case arberr.KindUnavailable, arberr.KindTimeout, arberr.KindExhausted:
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
