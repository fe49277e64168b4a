package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Fantasim/bitwallet-coordinator/internal/api/middleware"
	"github.com/Fantasim/bitwallet-coordinator/internal/config"
	"github.com/Fantasim/bitwallet-coordinator/internal/models"
	"github.com/Fantasim/bitwallet-coordinator/internal/txproposal"
)

// ListPendingTxProposals handles GET /txproposals (§4.1 list pending).
func ListPendingTxProposals(svc *txproposal.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		walletID := middleware.WalletID(r.Context())

		proposals, err := svc.Storage.ListTxProposals(walletID, true)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, proposals)
	}
}

// GetTxProposal handles GET /txproposals/:id (§4.1 read one).
func GetTxProposal(svc *txproposal.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		p, err := svc.Storage.GetTxProposal(id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if p == nil {
			writeServiceError(w, config.ErrTxNotFound)
			return
		}
		if !assertOwnsWallet(w, r, p.WalletID, config.ErrorTxNotFound) {
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

type createTxBody struct {
	Outputs                 []models.Output `json:"outputs"`
	FeePerKb                int64           `json:"feePerKb"`
	ChangeAddress           string          `json:"changeAddress"`
	ExcludeUnconfirmedUtxos bool            `json:"excludeUnconfirmedUtxos"`
	ExcludedOutpoints       []string        `json:"excludedUtxos"`
	Version                 int             `json:"version"`
	NoShuffleOutputs        bool            `json:"noShuffleOutputs"`
	SendMax                 bool            `json:"sendMax"`
	PayProURL               string          `json:"payProUrl"`
	CustomData              string          `json:"customData"`
	DryRun                  bool            `json:"dryRun"`
}

// CreateTxProposal handles POST /txproposals (§4.1 createTx).
func CreateTxProposal(svc *txproposal.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		walletID := middleware.WalletID(r.Context())
		copayerID := middleware.CopayerID(r.Context())

		var body createTxBody
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
			return
		}

		p, err := svc.CreateTx(r.Context(), walletID, txproposal.CreateTxRequest{
			CreatorID:               copayerID,
			Outputs:                 body.Outputs,
			FeePerKb:                body.FeePerKb,
			ChangeAddress:           body.ChangeAddress,
			ExcludeUnconfirmedUtxos: body.ExcludeUnconfirmedUtxos,
			ExcludedOutpoints:       body.ExcludedOutpoints,
			Version:                 body.Version,
			NoShuffleOutputs:        body.NoShuffleOutputs,
			SendMax:                 body.SendMax,
			PayProURL:               body.PayProURL,
			CustomData:              body.CustomData,
			DryRun:                  body.DryRun,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, p)
	}
}

type publishTxBody struct {
	ProposalSignature string `json:"proposalSignature"`
}

// PublishTxProposal handles POST /txproposals/:id/publish (§4.1 publishTx).
func PublishTxProposal(svc *txproposal.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		copayerID := middleware.CopayerID(r.Context())

		existing, err := svc.Storage.GetTxProposal(id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if existing == nil {
			writeServiceError(w, config.ErrTxNotFound)
			return
		}
		if !assertOwnsWallet(w, r, existing.WalletID, config.ErrorTxNotFound) {
			return
		}

		var body publishTxBody
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
			return
		}

		p, err := svc.PublishTx(r.Context(), id, copayerID, body.ProposalSignature)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

type signTxBody struct {
	XPubKey    string   `json:"xPubKey"`
	Signatures []string `json:"signatures"`
}

// SignTxProposal handles POST /txproposals/:id/signatures (§4.1 signTx).
func SignTxProposal(svc *txproposal.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		copayerID := middleware.CopayerID(r.Context())

		existing, err := svc.Storage.GetTxProposal(id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if existing == nil {
			writeServiceError(w, config.ErrTxNotFound)
			return
		}
		if !assertOwnsWallet(w, r, existing.WalletID, config.ErrorTxNotFound) {
			return
		}

		var body signTxBody
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
			return
		}

		p, err := svc.SignTx(r.Context(), id, txproposal.SignTxRequest{
			CopayerID:  copayerID,
			XPubKey:    body.XPubKey,
			Signatures: body.Signatures,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

// BroadcastTxProposal handles POST /txproposals/:id/broadcast (§4.1 broadcastTx).
func BroadcastTxProposal(svc *txproposal.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		existing, err := svc.Storage.GetTxProposal(id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if existing == nil {
			writeServiceError(w, config.ErrTxNotFound)
			return
		}
		if !assertOwnsWallet(w, r, existing.WalletID, config.ErrorTxNotFound) {
			return
		}

		p, err := svc.BroadcastTx(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

type rejectTxBody struct {
	Comment string `json:"comment"`
}

// RejectTxProposal handles POST /txproposals/:id/rejections (§4.1 rejectTx).
func RejectTxProposal(svc *txproposal.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		copayerID := middleware.CopayerID(r.Context())

		existing, err := svc.Storage.GetTxProposal(id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if existing == nil {
			writeServiceError(w, config.ErrTxNotFound)
			return
		}
		if !assertOwnsWallet(w, r, existing.WalletID, config.ErrorTxNotFound) {
			return
		}

		var body rejectTxBody
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
			return
		}

		p, err := svc.RejectTx(r.Context(), id, copayerID, body.Comment)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

// RemoveTxProposal handles DELETE /txproposals/:id (§4.1 removePendingTx).
func RemoveTxProposal(svc *txproposal.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		copayerID := middleware.CopayerID(r.Context())

		existing, err := svc.Storage.GetTxProposal(id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if existing == nil {
			writeServiceError(w, config.ErrTxNotFound)
			return
		}
		if !assertOwnsWallet(w, r, existing.WalletID, config.ErrorTxNotFound) {
			return
		}

		if err := svc.RemovePendingTx(r.Context(), id, copayerID); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
