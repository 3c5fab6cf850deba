package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/konnect-pay/internal/common"
)

var errNoToken = errors.New("auth: token missing")

// Middleware guards operator routes with a bearer token.
type Middleware struct {
	Tokens *Tokens
	Logger zerolog.Logger
}

// RequireOperator rejects requests without a valid bearer token and stores the subject on the context.
func (m Middleware) RequireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Tokens == nil {
			common.JSONError(w, http.StatusServiceUnavailable, "AUTH_NOT_CONFIGURED", "operator access disabled", nil)
			return
		}
		subject, err := m.Tokens.Subject(bearerToken(r))
		if err != nil {
			if !errors.Is(err, errNoToken) {
				m.Logger.Warn().Err(err).Str("path", r.URL.Path).Msg("operator token rejected")
			}
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(common.WithSubject(r.Context(), subject)))
	})
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
