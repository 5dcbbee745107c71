// Package middleware provides the HTTP middleware chain.
package middleware

import (
	"context"
	"net/http"
	"strings"

	apperrors "github.com/voidwallet/voidd/internal/errors"
	"github.com/voidwallet/voidd/internal/httputil"
	"github.com/voidwallet/voidd/pkg/logger"
)

type contextKey string

const walletKey contextKey = "wallet"

// TokenVerifier turns a bearer token into a wallet address.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// AuthMiddleware authenticates requests with a bearer session token and
// places the wallet address in the request context.
type AuthMiddleware struct {
	verifier TokenVerifier
	log      *logger.Logger
}

func NewAuthMiddleware(verifier TokenVerifier, log *logger.Logger) *AuthMiddleware {
	if log == nil {
		log = logger.NewDefault("middleware")
	}
	return &AuthMiddleware{verifier: verifier, log: log}
}

// Handler returns the middleware handler.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			httputil.WriteError(w, apperrors.Unauthorized("Missing Authorization header"))
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			httputil.WriteError(w, apperrors.Unauthorized("Invalid Authorization header format"))
			return
		}

		wallet, err := m.verifier.Verify(parts[1])
		if err != nil {
			m.log.WithError(err).WithField("path", r.URL.Path).Warn("session verification failed")
			httputil.WriteError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), walletKey, wallet)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetWallet extracts the authenticated wallet from the context, empty when
// the request skipped authentication.
func GetWallet(ctx context.Context) string {
	wallet, _ := ctx.Value(walletKey).(string)
	return wallet
}
