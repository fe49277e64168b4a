package middleware

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/Fantasim/bitwallet-coordinator/internal/storage"
	"github.com/Fantasim/bitwallet-coordinator/internal/walletauth"
)

type ctxKey int

const (
	copayerIDKey ctxKey = iota
	walletIDKey
)

// WalletAuth verifies the x-identity/x-signature headers every mutating
// call carries (§2): message = method|url|bodyJson, checked against every
// one of the resolved copayer's requestPubKeys (only one need match — a
// copayer may carry more than one authorized device key via addAccess).
// On success it attaches copayerId/walletId to the request context for
// handlers to read via CopayerID/WalletID. Mounted per-route rather than
// globally, since createWallet/joinWallet/feelevels are unauthenticated.
func WalletAuth(db *storage.DB) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			copayerID := r.Header.Get("x-identity")
			signature := r.Header.Get("x-signature")
			if copayerID == "" || signature == "" {
				writeUnauthorized(w)
				return
			}

			c, err := db.GetCopayer(copayerID)
			if err != nil {
				slog.Error("auth: load copayer failed", "copayerId", copayerID, "error", err)
				writeUnauthorized(w)
				return
			}
			if c == nil {
				writeUnauthorized(w)
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				writeUnauthorized(w)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			message := r.Method + "|" + r.URL.RequestURI() + "|" + string(body)

			authorized := false
			for _, key := range c.RequestPubKeys {
				if ok, err := walletauth.VerifySignature(message, signature, key.Key); err == nil && ok {
					authorized = true
					break
				}
			}
			if !authorized {
				slog.Warn("request signature verification failed", "copayerId", copayerID, "path", r.URL.Path)
				writeUnauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), copayerIDKey, copayerID)
			ctx = context.WithValue(ctx, walletIDKey, c.WalletID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"code":"NOT_AUTHORIZED","message":"not authorized"}`))
}

// CopayerID returns the authenticated copayer id WalletAuth attached.
func CopayerID(ctx context.Context) string {
	v, _ := ctx.Value(copayerIDKey).(string)
	return v
}

// WalletID returns the authenticated copayer's wallet id WalletAuth
// resolved and attached.
func WalletID(ctx context.Context) string {
	v, _ := ctx.Value(walletIDKey).(string)
	return v
}
