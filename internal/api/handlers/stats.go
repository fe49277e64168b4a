package handlers

import (
	"net/http"

	"github.com/Fantasim/bitwallet-coordinator/internal/api/middleware"
	"github.com/Fantasim/bitwallet-coordinator/internal/walletsvc"
)

// Stats handles GET /stats (§4.2 "Stats").
func Stats(svc *walletsvc.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		walletID := middleware.WalletID(r.Context())

		result, err := svc.Stats(r.Context(), walletID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}
