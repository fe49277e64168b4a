package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Fantasim/bitwallet-coordinator/internal/api/middleware"
	"github.com/Fantasim/bitwallet-coordinator/internal/models"
	"github.com/Fantasim/bitwallet-coordinator/internal/walletsvc"
)

type createWalletBody struct {
	Name               string `json:"name"`
	M                  int    `json:"m"`
	N                  int    `json:"n"`
	Network            string `json:"network"`
	PubKey             string `json:"pubKey"`
	DerivationStrategy string `json:"derivationStrategy"`
	AddressType        string `json:"addressType"`
	SingleAddress      bool   `json:"singleAddress"`
}

// CreateWallet handles POST /wallets. Unauthenticated per §6 — there is no
// copayer yet to sign the request.
func CreateWallet(svc *walletsvc.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body createWalletBody
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
			return
		}

		wallet, err := svc.CreateWallet(r.Context(), walletsvc.CreateWalletRequest{
			Name:               body.Name,
			M:                  body.M,
			N:                  body.N,
			Network:            models.Network(body.Network),
			PubKey:             body.PubKey,
			DerivationStrategy: models.DerivationStrategy(body.DerivationStrategy),
			AddressType:        models.AddressType(body.AddressType),
			SingleAddress:      body.SingleAddress,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, wallet)
	}
}

type joinWalletBody struct {
	Name            string `json:"name"`
	XPubKey         string `json:"xPubKey"`
	RequestPubKey   string `json:"requestPubKey"`
	WalletSignature string `json:"walletSignature"`
}

// JoinWallet handles POST /wallets/{id}/copayers. Unauthenticated per §6 —
// knowledge of the wallet secret is the authentication (verified inside
// walletsvc.Service.JoinWallet).
func JoinWallet(svc *walletsvc.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		walletID := chi.URLParam(r, "id")

		var body joinWalletBody
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
			return
		}

		copayer, err := svc.JoinWallet(r.Context(), walletID, walletsvc.JoinWalletRequest{
			Name:            body.Name,
			XPubKey:         body.XPubKey,
			RequestPubKey:   body.RequestPubKey,
			WalletSignature: body.WalletSignature,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, copayer)
	}
}

type addAccessBody struct {
	Name           string `json:"name"`
	RequestPubKey  string `json:"requestPubKey"`
	ChainSignature string `json:"chainSignature"`
}

// AddAccess handles PUT /copayers, authenticated — the caller appends a new
// request-signing key to its own copayer identity (§4.2 "addAccess").
func AddAccess(svc *walletsvc.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		walletID := middleware.WalletID(r.Context())
		copayerID := middleware.CopayerID(r.Context())

		var body addAccessBody
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
			return
		}

		key, err := svc.AddAccess(r.Context(), walletID, walletsvc.AddAccessRequest{
			CopayerID:      copayerID,
			Name:           body.Name,
			RequestPubKey:  body.RequestPubKey,
			ChainSignature: body.ChainSignature,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, key)
	}
}

// Status handles GET /wallets — the composite wallet+preferences+pending
// view (§4.2 "status").
func Status(svc *walletsvc.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		walletID := middleware.WalletID(r.Context())

		result, err := svc.Status(r.Context(), walletID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// assertOwnsWallet reports whether the authenticated copayer's wallet
// matches resourceWalletID, writing a TX_NOT_FOUND/WALLET_NOT_FOUND-style
// 400 (the same response as for a missing resource, so another wallet's
// resource is never confirmed to exist) when it doesn't.
func assertOwnsWallet(w http.ResponseWriter, r *http.Request, resourceWalletID string, notFoundCode string) bool {
	if middleware.WalletID(r.Context()) != resourceWalletID {
		writeError(w, http.StatusBadRequest, notFoundCode, "not found")
		return false
	}
	return true
}
