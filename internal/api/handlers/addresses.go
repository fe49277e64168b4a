package handlers

import (
	"log/slog"
	"net/http"

	"github.com/Fantasim/bitwallet-coordinator/internal/api/middleware"
	"github.com/Fantasim/bitwallet-coordinator/internal/walletsvc"
)

type deriveAddressBody struct {
	IsChange bool `json:"isChange"`
}

// Addresses handles GET/POST /addresses: GET lists every address derived
// for the wallet so far, POST derives the next one on the requested chain
// (§4.2 "deriveAddress"/"list").
func Addresses(svc *walletsvc.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		walletID := middleware.WalletID(r.Context())

		switch r.Method {
		case http.MethodGet:
			addrs, err := svc.ListAddresses(r.Context(), walletID)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, addrs)

		case http.MethodPost:
			var body deriveAddressBody
			if err := decodeJSON(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
				return
			}
			addr, err := svc.DeriveAddress(r.Context(), walletID, body.IsChange)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, addr)

		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}
}

// StartScan handles POST /addresses/scan. Runs asynchronously per §6 — the
// handler kicks the scan off on its own goroutine and returns immediately;
// callers observe progress through the wallet's scanStatus field, surfaced
// by GET /wallets (§4.2 "Scan").
func StartScan(svc *walletsvc.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		walletID := middleware.WalletID(r.Context())

		go func() {
			if err := svc.Scan(r.Context(), walletID); err != nil {
				slog.Error("address scan failed", "walletId", walletID, "error", err)
			}
		}()

		writeJSON(w, http.StatusAccepted, map[string]string{"status": "running"})
	}
}
