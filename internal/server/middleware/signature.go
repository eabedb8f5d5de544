package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/escrowmarket/internal/crypto"
	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

// MaxBodyBytes caps signed request bodies.
const MaxBodyBytes = 64 << 10

type callerKey struct{}

// WithCaller returns a context carrying an authenticated identity.
func WithCaller(ctx context.Context, id domain.Identity) context.Context {
	return context.WithValue(ctx, callerKey{}, id)
}

// CallerFrom returns the identity authenticated by Signature.
func CallerFrom(ctx context.Context) (domain.Identity, bool) {
	id, ok := ctx.Value(callerKey{}).(domain.Identity)
	return id, ok && !id.IsZero()
}

// Signature authenticates the caller of a write request from the
// X-Escrow-Address, X-Escrow-Timestamp, X-Escrow-Nonce and X-Escrow-Signature
// headers. The body is read once, verified and handed on unchanged.
func Signature(v *crypto.Verifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
			if err != nil {
				writeError(w, http.StatusRequestEntityTooLarge, "request body too large", "BodyTooLarge")
				return
			}
			_ = r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(body))

			id, err := v.Verify(r.Context(), crypto.SignedRequest{
				Address:   r.Header.Get(crypto.HeaderAddress),
				Timestamp: r.Header.Get(crypto.HeaderTimestamp),
				Nonce:     r.Header.Get(crypto.HeaderNonce),
				Signature: r.Header.Get(crypto.HeaderSignature),
				Method:    r.Method,
				Path:      r.URL.Path,
				Body:      body,
			})
			if errors.Is(err, crypto.ErrNonceUnavailable) {
				logger.ErrorContext(r.Context(), "middleware: nonce store",
					slog.String("error", err.Error()),
				)
				writeError(w, http.StatusServiceUnavailable, "signature check unavailable", "Unavailable")
				return
			}
			if err != nil {
				logger.DebugContext(r.Context(), "middleware: signature rejected",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				writeError(w, http.StatusUnauthorized, signatureMessage(err), "Unauthenticated")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), id)))
		})
	}
}

func signatureMessage(err error) string {
	switch {
	case errors.Is(err, crypto.ErrSignatureMissing):
		return "missing signature headers"
	case errors.Is(err, crypto.ErrSignatureExpired):
		return "signature expired"
	case errors.Is(err, crypto.ErrSignatureReplayed):
		return "signature already used"
	default:
		return "invalid signature"
	}
}
