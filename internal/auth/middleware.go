package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrMissingToken = errors.New("missing authorization header")
	ErrInvalidToken = errors.New("invalid api token")
)

// Service checks bearer tokens against a bcrypt hash
type Service struct {
	tokenHash []byte
}

// NewService creates a new auth service. An empty hash disables authentication.
func NewService(tokenHash string) *Service {
	if tokenHash == "" {
		log.Warn().Msg("API_TOKEN_HASH not set, /v1 is unauthenticated")
	}
	return &Service{tokenHash: []byte(tokenHash)}
}

// Enabled reports whether a token is required.
func (s *Service) Enabled() bool { return len(s.tokenHash) > 0 }

// Authenticate validates an Authorization header value ("Bearer <token>").
func (s *Service) Authenticate(header string) error {
	if !s.Enabled() {
		return nil
	}
	if header == "" {
		return ErrMissingToken
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ErrInvalidToken
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return ErrInvalidToken
	}
	if err := bcrypt.CompareHashAndPassword(s.tokenHash, []byte(token)); err != nil {
		return ErrInvalidToken
	}
	return nil
}

// Middleware rejects requests without a valid bearer token
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.Authenticate(r.Header.Get("Authorization")); err != nil {
			log.Debug().Err(err).Str("path", r.URL.Path).Msg("Rejected request")
			writeJSONError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HashToken returns the bcrypt hash to put in API_TOKEN_HASH.
func HashToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
