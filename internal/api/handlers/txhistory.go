package handlers

import (
	"net/http"

	"github.com/Fantasim/bitwallet-coordinator/internal/api/middleware"
	"github.com/Fantasim/bitwallet-coordinator/internal/config"
	"github.com/Fantasim/bitwallet-coordinator/internal/walletsvc"
)

// TxHistory handles GET /txhistory?skip=&limit= (§6). Built off the
// wallet's own movement notifications rather than a bulk explorer query —
// internal/explorer.Client only exposes single-address/single-tx lookups.
func TxHistory(svc *walletsvc.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		walletID := middleware.WalletID(r.Context())

		skip := parseIntParam(r, "skip", 0)
		limit := parseIntParam(r, "limit", config.HistoryLimit)
		if limit > config.HistoryLimit {
			limit = config.HistoryLimit
		}

		history, err := svc.Storage.ListTxHistory(walletID, skip, limit)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, history)
	}
}
