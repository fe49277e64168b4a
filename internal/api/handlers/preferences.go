package handlers

import (
	"net/http"

	"github.com/Fantasim/bitwallet-coordinator/internal/api/middleware"
	"github.com/Fantasim/bitwallet-coordinator/internal/models"
	"github.com/Fantasim/bitwallet-coordinator/internal/walletsvc"
)

// GetPreferences handles GET /preferences.
func GetPreferences(svc *walletsvc.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		walletID := middleware.WalletID(r.Context())
		copayerID := middleware.CopayerID(r.Context())

		p, err := svc.GetPreferences(r.Context(), walletID, copayerID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if p == nil {
			p = &models.Preferences{WalletID: walletID, CopayerID: copayerID}
		}
		writeJSON(w, http.StatusOK, p)
	}
}

type savePreferencesBody struct {
	Email    string `json:"email"`
	Language string `json:"language"`
	Unit     string `json:"unit"`
}

// SavePreferences handles PUT /preferences.
func SavePreferences(svc *walletsvc.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		walletID := middleware.WalletID(r.Context())
		copayerID := middleware.CopayerID(r.Context())

		var body savePreferencesBody
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
			return
		}

		p := models.Preferences{
			WalletID: walletID, CopayerID: copayerID,
			Email: body.Email, Language: body.Language, Unit: models.Unit(body.Unit),
		}
		if err := svc.SavePreferences(r.Context(), p); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}
