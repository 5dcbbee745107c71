package middleware

import (
	"context"
	"net/http"

	"github.com/voidwallet/voidd/internal/app/storage"
	apperrors "github.com/voidwallet/voidd/internal/errors"
	"github.com/voidwallet/voidd/internal/httputil"
)

// Enrollment answers whether a wallet has enrolled a secret kind.
type Enrollment interface {
	Require(ctx context.Context, wallet string, kind storage.SecretKind) error
}

// SecretGate blocks ledger-reading routes until the wallet has enrolled
// the required visibility secret. Must run after AuthMiddleware.
type SecretGate struct {
	enrollment Enrollment
	kind       storage.SecretKind
}

func NewSecretGate(enrollment Enrollment, kind storage.SecretKind) *SecretGate {
	return &SecretGate{enrollment: enrollment, kind: kind}
}

// Handler returns the middleware handler.
func (g *SecretGate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wallet := GetWallet(r.Context())
		if wallet == "" {
			httputil.WriteError(w, apperrors.Unauthorized("Missing session"))
			return
		}
		if err := g.enrollment.Require(r.Context(), wallet, g.kind); err != nil {
			httputil.WriteError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}
