package handlers

import (
	"net/http"

	"github.com/Fantasim/bitwallet-coordinator/internal/api/middleware"
	"github.com/Fantasim/bitwallet-coordinator/internal/config"
	"github.com/Fantasim/bitwallet-coordinator/internal/walletsvc"
)

// UTXOs handles GET /utxos — the raw unspent set a client needs to build
// its own transaction proposal offline (§4.2 "Utxos").
func UTXOs(svc *walletsvc.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		walletID := middleware.WalletID(r.Context())

		wlt, err := svc.Storage.GetWallet(walletID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if wlt == nil {
			writeServiceError(w, config.ErrWalletNotFound)
			return
		}

		utxos, err := svc.CollectUTXOs(r.Context(), wlt)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, utxos)
	}
}
