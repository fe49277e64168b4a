// Package txproposal implements the transaction-proposal voting state
// machine of §4.1: createTx, publishTx, signTx, rejectTx, broadcastTx, and
// removePendingTx, plus the deterministic coin-selection algorithm and the
// P2PKH/P2SH multisig transaction assembly backing them. Grounded on the
// teacher's internal/tx/btc_tx.go (single-sig P2WPKH consolidation),
// generalized to a jointly-signed, multi-destination, version-polymorphic
// proposal that is built once and signed across several separate calls.
package txproposal

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/google/uuid"

	"github.com/Fantasim/bitwallet-coordinator/internal/broker"
	"github.com/Fantasim/bitwallet-coordinator/internal/config"
	"github.com/Fantasim/bitwallet-coordinator/internal/explorer"
	"github.com/Fantasim/bitwallet-coordinator/internal/models"
	"github.com/Fantasim/bitwallet-coordinator/internal/storage"
	"github.com/Fantasim/bitwallet-coordinator/internal/walletauth"
	"github.com/Fantasim/bitwallet-coordinator/internal/walletlock"
	"github.com/Fantasim/bitwallet-coordinator/internal/walletsvc"
)

// Service carries the proposal state machine's collaborators. It mirrors
// walletsvc.Service's explicit, per-startup container shape (§9 "process-
// wide state"), kept as a sibling service rather than a method set on
// walletsvc.Service so each stays scoped to one SPEC_FULL.md component;
// Wallets supplies the wallet/address/UTXO lookups a proposal needs but
// does not itself own.
type Service struct {
	Storage  *storage.DB
	Lock     *walletlock.Manager
	Explorer *explorer.Client
	Broker   *broker.Broker
	Wallets  *walletsvc.Service

	lockTimeout time.Duration
	ticker      atomic.Uint32
}

// New builds a Service over its collaborators.
func New(db *storage.DB, lock *walletlock.Manager, exp *explorer.Client, br *broker.Broker, wallets *walletsvc.Service, lockTimeout time.Duration) *Service {
	return &Service{Storage: db, Lock: lock, Explorer: exp, Broker: br, Wallets: wallets, lockTimeout: lockTimeout}
}

func (s *Service) runLocked(ctx context.Context, walletID string, fn func(ctx context.Context) error) error {
	lock, err := s.Lock.Acquire(ctx, walletlock.WalletResource(walletID), s.lockTimeout)
	if err != nil {
		return fmt.Errorf("acquire lock for wallet %s: %w", walletID, config.ErrLockTimeout)
	}
	defer lock.Release()
	return fn(ctx)
}

func (s *Service) notify(walletID, notifType, creatorID string, data map[string]any) error {
	n := models.Notification{
		ID:        models.FormatNotificationID(time.Now().UnixMilli(), s.ticker.Add(1)),
		Type:      notifType,
		Data:      data,
		WalletID:  walletID,
		CreatorID: creatorID,
		CreatedOn: time.Now().Unix(),
	}
	inserted, err := s.Storage.AppendNotification(&n)
	if err != nil {
		return fmt.Errorf("persist notification %s for wallet %s: %w", notifType, walletID, err)
	}
	if inserted {
		s.Broker.Publish(n)
	}
	return nil
}

func (s *Service) loadProposal(proposalID string) (*models.TxProposal, error) {
	p, err := s.Storage.GetTxProposal(proposalID)
	if err != nil {
		return nil, fmt.Errorf("load proposal %s: %w", proposalID, err)
	}
	if p == nil {
		return nil, fmt.Errorf("proposal %s: %w", proposalID, config.ErrTxNotFound)
	}
	return p, nil
}

// CreateTxRequest describes a candidate transaction (§4.1 createTx).
type CreateTxRequest struct {
	CreatorID               string
	Outputs                 []models.Output
	FeePerKb                int64
	ChangeAddress           string
	ExcludeUnconfirmedUtxos bool
	ExcludedOutpoints       []string // "txid:vout"
	Version                 int
	NoShuffleOutputs        bool
	SendMax                 bool
	PayProURL               string
	CustomData              string
	DryRun                  bool
}

// CreateTx validates outputs, checks the creation backoff, selects inputs,
// and persists a StatusTemporary proposal (§4.1 createTx). DryRun builds
// and returns the proposal without persisting it, for client-side preview.
func (s *Service) CreateTx(ctx context.Context, walletID string, req CreateTxRequest) (*models.TxProposal, error) {
	// Change-address derivation takes walletsvc's own per-wallet lock
	// (internal/walletsvc.Service.DeriveAddress), so it must happen before
	// this method acquires the same named lock below — acquiring it twice
	// for one wallet in the same call chain would deadlock against itself.
	w, err := s.Storage.GetWallet(walletID)
	if err != nil {
		return nil, fmt.Errorf("load wallet %s: %w", walletID, err)
	}
	if w == nil {
		return nil, fmt.Errorf("wallet %s: %w", walletID, config.ErrWalletNotFound)
	}
	if !w.IsComplete() {
		return nil, fmt.Errorf("wallet %s: %w", walletID, config.ErrWalletNotComplete)
	}
	if req.ChangeAddress != "" && w.SingleAddress {
		return nil, fmt.Errorf("wallet %s: %w", walletID, config.ErrTxCannotCreate)
	}
	if len(req.Outputs) == 0 {
		return nil, fmt.Errorf("wallet %s: %w", walletID, config.ErrTxCannotCreate)
	}

	var changeAddr *models.Address
	if !w.SingleAddress {
		if req.ChangeAddress != "" {
			changeAddr = &models.Address{Address: req.ChangeAddress, WalletID: walletID, Network: w.Network}
		} else {
			ca, err := s.Wallets.DeriveAddress(ctx, walletID, true)
			if err != nil {
				return nil, fmt.Errorf("derive change address: %w", err)
			}
			changeAddr = ca
		}
	}

	var created *models.TxProposal

	err = s.runLocked(ctx, walletID, func(ctx context.Context) error {
		w, err := s.Storage.GetWallet(walletID)
		if err != nil {
			return fmt.Errorf("load wallet %s: %w", walletID, err)
		}
		if w == nil {
			return fmt.Errorf("wallet %s: %w", walletID, config.ErrWalletNotFound)
		}

		net := networkParams(w.Network)
		minOutput := maxInt64(config.MinOutputAmount, config.DustThreshold)
		for _, out := range req.Outputs {
			addr, err := btcutil.DecodeAddress(out.ToAddress, net)
			if err != nil {
				return fmt.Errorf("output address %q: %w", out.ToAddress, config.ErrInvalidAddress)
			}
			if !addr.IsForNet(net) {
				return fmt.Errorf("output address %q: %w", out.ToAddress, config.ErrIncorrectAddressNetwork)
			}
			if !req.SendMax && out.Amount < minOutput {
				return fmt.Errorf("output amount %d: %w", out.Amount, config.ErrDustAmount)
			}
		}

		recent, err := s.Storage.ListTxProposals(walletID, false)
		if err != nil {
			return fmt.Errorf("list proposals for backoff check: %w", err)
		}
		if backoffBlocked(toProposalPointers(recent), req.CreatorID, time.Now()) {
			return fmt.Errorf("wallet %s: %w", walletID, config.ErrTxCannotCreate)
		}

		utxos, err := s.Wallets.CollectUTXOs(ctx, w)
		if err != nil {
			return err
		}
		reserved, err := s.Wallets.ReservedOutpointKeys(walletID)
		if err != nil {
			return err
		}
		excluded := map[string]bool{}
		for _, k := range req.ExcludedOutpoints {
			excluded[k] = true
		}
		for i := range utxos {
			key := outpointKey(utxos[i].TxID, utxos[i].Vout)
			if reserved[key] {
				utxos[i].Locked = true
			}
		}

		feePerKb := req.FeePerKb
		if feePerKb <= 0 {
			feePerKb = config.MinFeePerKb
		}
		if feePerKb < config.MinFeePerKb || feePerKb > config.MaxFeePerKb {
			return fmt.Errorf("feePerKb %d outside [%d,%d]: %w", feePerKb, config.MinFeePerKb, config.MaxFeePerKb, config.ErrInvalidConfig)
		}

		outputs := req.Outputs
		if req.SendMax {
			maxAmount, err := sendMaxAmount(utxos, reserved, excluded, req.ExcludeUnconfirmedUtxos, feePerKb, w)
			if err != nil {
				return err
			}
			if maxAmount < minOutput {
				return fmt.Errorf("wallet %s: %w", walletID, config.ErrInsufficientFunds)
			}
			outputs = []models.Output{{ToAddress: req.Outputs[0].ToAddress, Amount: maxAmount}}
		}

		selection, err := SelectCoins(utxos, outputTotal(outputs), feePerKb, SelectionOptions{
			Wallet:              w,
			ExcludeUnconfirmed:  req.ExcludeUnconfirmedUtxos,
			ExcludedOutpoints:   excluded,
		})
		if err != nil {
			return err
		}
		if selection.Fee > config.MaxTxFee {
			return fmt.Errorf("wallet %s: %w", walletID, config.ErrInsufficientFundsForFee)
		}

		vsize := estimateTxVsize(w, len(selection.Inputs), len(outputs), changeAddr != nil)
		if vsize > config.MaxTxSizeInKb*1000 {
			return fmt.Errorf("wallet %s: %w", walletID, config.ErrTxMaxSizeExceeded)
		}

		inputs := make([]models.Input, len(selection.Inputs))
		for i, u := range selection.Inputs {
			inputs[i] = models.Input{
				TxID: u.TxID, Vout: u.Vout, Address: u.Address, Satoshis: u.Satoshis,
				Confirmations: u.Confirmations, Path: u.Path, PublicKeys: u.PublicKeys,
			}
		}

		version := req.Version
		if version == 0 {
			version = 3
		}

		p := &models.TxProposal{
			ID:                 uuid.NewString(),
			WalletID:           walletID,
			CreatorID:          req.CreatorID,
			Version:            version,
			Network:            w.Network,
			Outputs:            outputs,
			OutputOrder:        buildOutputOrder(len(outputs), req.NoShuffleOutputs),
			ChangeAddress:      changeAddr,
			Inputs:             inputs,
			Fee:                selection.Fee,
			FeePerKb:           feePerKb,
			RequiredSignatures: w.M,
			RequiredRejections: requiredRejections(w),
			Status:             models.StatusTemporary,
			CreatedOn:          time.Now().Unix(),
			PayProURL:          req.PayProURL,
			CustomData:         req.CustomData,
			ExcludeUnconfirmed: req.ExcludeUnconfirmedUtxos,
		}

		if !req.DryRun {
			if err := s.Storage.CreateTxProposal(p); err != nil {
				return fmt.Errorf("persist proposal: %w", err)
			}
		}
		created = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// PublishTx verifies a copayer's signature over the proposal's signing
// payload, re-checks input availability, and transitions temporary ->
// pending (§4.1 publishTx).
func (s *Service) PublishTx(ctx context.Context, proposalID, copayerID, proposalSignature string) (*models.TxProposal, error) {
	p0, err := s.loadProposal(proposalID)
	if err != nil {
		return nil, err
	}

	var result *models.TxProposal
	err = s.runLocked(ctx, p0.WalletID, func(ctx context.Context) error {
		p, err := s.loadProposal(proposalID)
		if err != nil {
			return err
		}
		w, err := s.Storage.GetWallet(p.WalletID)
		if err != nil {
			return fmt.Errorf("load wallet %s: %w", p.WalletID, err)
		}
		if w == nil {
			return fmt.Errorf("wallet %s: %w", p.WalletID, config.ErrWalletNotFound)
		}
		if p.Status != models.StatusTemporary {
			return fmt.Errorf("proposal %s: %w", proposalID, config.ErrTxNotPending)
		}
		copayer := w.CopayerByID(copayerID)
		if copayer == nil {
			return fmt.Errorf("copayer %s not in wallet: %w", copayerID, config.ErrNotAuthorized)
		}

		wrapped, err := NewProposal(p)
		if err != nil {
			return err
		}
		payload, err := wrapped.SigningPayload()
		if err != nil {
			return err
		}
		if !verifiedByAny(copayer, string(payload), proposalSignature) {
			return fmt.Errorf("proposal %s: %w", proposalID, config.ErrBadSignatures)
		}

		reserved, err := s.Wallets.ReservedOutpointKeys(w.ID)
		if err != nil {
			return err
		}
		for _, in := range p.Inputs {
			if reserved[outpointKey(in.TxID, in.Vout)] {
				return fmt.Errorf("proposal %s: %w", proposalID, config.ErrUnavailableUTXOs)
			}
		}

		p.Status = models.StatusPending
		if err := s.Storage.UpdateTxProposal(p); err != nil {
			return fmt.Errorf("persist publish: %w", err)
		}
		result = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.notify(result.WalletID, models.NotificationNewTxProposal, copayerID, map[string]any{"txProposalId": result.ID}); err != nil {
		return result, err
	}
	return result, nil
}

// SignTxRequest carries one copayer's signatures over every input, in
// input order, plus the copayer's extended public key, which is recorded on
// the accept action; the expected per-input public keys are derived from
// the copayer's stored XPubKey, not from this field.
type SignTxRequest struct {
	CopayerID  string
	XPubKey    string
	Signatures []string
}

// SignTx verifies each input signature against the derived public key at
// that input's path, records an accept action, and — once the m-th accept
// is reached — assembles and stores the final raw transaction (§4.1 signTx).
func (s *Service) SignTx(ctx context.Context, proposalID string, req SignTxRequest) (*models.TxProposal, error) {
	p0, err := s.loadProposal(proposalID)
	if err != nil {
		return nil, err
	}

	var result *models.TxProposal
	var finallyAccepted bool
	err = s.runLocked(ctx, p0.WalletID, func(ctx context.Context) error {
		p, err := s.loadProposal(proposalID)
		if err != nil {
			return err
		}
		w, err := s.Storage.GetWallet(p.WalletID)
		if err != nil {
			return fmt.Errorf("load wallet %s: %w", p.WalletID, err)
		}
		if w == nil {
			return fmt.Errorf("wallet %s: %w", p.WalletID, config.ErrWalletNotFound)
		}
		if p.Status != models.StatusPending {
			return fmt.Errorf("proposal %s: %w", proposalID, config.ErrTxNotPending)
		}
		if p.ActionByCopayer(req.CopayerID) != nil {
			return fmt.Errorf("copayer %s: %w", req.CopayerID, config.ErrCopayerVoted)
		}
		if len(req.Signatures) != len(p.Inputs) {
			return fmt.Errorf("proposal %s: %w", proposalID, config.ErrBadSignatures)
		}
		copayer := w.CopayerByID(req.CopayerID)
		if copayer == nil {
			return fmt.Errorf("copayer %s not in wallet: %w", req.CopayerID, config.ErrNotAuthorized)
		}

		if err := verifyInputSignatures(p, w, *copayer, req.Signatures); err != nil {
			return err
		}

		p.Actions = append(p.Actions, models.Action{
			CopayerID:  req.CopayerID,
			Type:       models.ActionAccept,
			Signatures: req.Signatures,
			XPub:       req.XPubKey,
			CreatedOn:  time.Now().Unix(),
		})

		if p.CountActions(models.ActionAccept) >= w.M {
			finalTx, err := assembleFinalTx(p, w)
			if err != nil {
				return fmt.Errorf("assemble final tx for proposal %s: %w", proposalID, err)
			}
			rawHex, err := serializeTx(finalTx)
			if err != nil {
				return err
			}
			p.RawTx = rawHex
			p.TxID = finalTx.TxHash().String()
			p.Status = models.StatusAccepted
			finallyAccepted = true
		}

		if err := s.Storage.UpdateTxProposal(p); err != nil {
			return fmt.Errorf("persist sign: %w", err)
		}
		result = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	if finallyAccepted {
		if err := s.notify(result.WalletID, models.NotificationTxProposalFinallyAccepted, req.CopayerID, map[string]any{
			"txProposalId": result.ID,
			"txid":         result.TxID,
		}); err != nil {
			return result, err
		}
	}
	return result, nil
}

// verifyInputSignatures checks each of a copayer's per-input signatures
// against the legacy sighash of that input, scripted against the redeem
// script (P2SH) or the input's own pkScript (P2PKH), and the specific
// public key that copayer contributed to the input's address.
func verifyInputSignatures(p *models.TxProposal, w *models.Wallet, copayer models.Copayer, sigs []string) error {
	tx, err := buildUnsignedTx(p)
	if err != nil {
		return fmt.Errorf("rebuild tx for signature verification: %w", err)
	}
	net := networkParams(p.Network)

	for i, in := range p.Inputs {
		var scriptCode []byte
		if w.AddressType == models.AddressP2SH {
			scriptCode, err = redeemScriptFor(in, w.M, net)
		} else {
			scriptCode, err = payToAddressScript(in.Address, net)
		}
		if err != nil {
			return fmt.Errorf("input %d script: %w", i, err)
		}

		digest, err := sigHashForInput(tx, i, scriptCode)
		if err != nil {
			return fmt.Errorf("input %d sighash: %w", i, err)
		}

		pubKeyIndex, err := copayerPubKeyIndex(in, copayer)
		if err != nil {
			return fmt.Errorf("input %d: %w", i, config.ErrBadSignatures)
		}

		ok, err := walletauth.VerifyDigestSignature(digest, sigs[i], in.PublicKeys[pubKeyIndex])
		if err != nil || !ok {
			return fmt.Errorf("input %d: %w", i, config.ErrBadSignatures)
		}
	}
	return nil
}

// RejectTx records a reject action, transitioning to rejected once r
// rejections are reached (§4.1 rejectTx).
func (s *Service) RejectTx(ctx context.Context, proposalID, copayerID, comment string) (*models.TxProposal, error) {
	p0, err := s.loadProposal(proposalID)
	if err != nil {
		return nil, err
	}

	var result *models.TxProposal
	var finallyRejected bool
	err = s.runLocked(ctx, p0.WalletID, func(ctx context.Context) error {
		p, err := s.loadProposal(proposalID)
		if err != nil {
			return err
		}
		w, err := s.Storage.GetWallet(p.WalletID)
		if err != nil {
			return fmt.Errorf("load wallet %s: %w", p.WalletID, err)
		}
		if w == nil {
			return fmt.Errorf("wallet %s: %w", p.WalletID, config.ErrWalletNotFound)
		}
		if p.Status != models.StatusPending {
			return fmt.Errorf("proposal %s: %w", proposalID, config.ErrTxNotPending)
		}
		if p.ActionByCopayer(copayerID) != nil {
			return fmt.Errorf("copayer %s: %w", copayerID, config.ErrCopayerVoted)
		}
		if w.CopayerByID(copayerID) == nil {
			return fmt.Errorf("copayer %s not in wallet: %w", copayerID, config.ErrNotAuthorized)
		}

		p.Actions = append(p.Actions, models.Action{
			CopayerID: copayerID,
			Type:      models.ActionReject,
			Comment:   comment,
			CreatedOn: time.Now().Unix(),
		})

		if p.CountActions(models.ActionReject) >= requiredRejections(w) {
			p.Status = models.StatusRejected
			finallyRejected = true
		}

		if err := s.Storage.UpdateTxProposal(p); err != nil {
			return fmt.Errorf("persist reject: %w", err)
		}
		result = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	if finallyRejected {
		if err := s.notify(result.WalletID, models.NotificationTxProposalFinallyRejected, copayerID, map[string]any{
			"txProposalId": result.ID,
			"rejectedBy":   result.Rejectors(),
		}); err != nil {
			return result, err
		}
	}
	return result, nil
}

// BroadcastTx forwards the assembled raw transaction to the explorer
// (§4.1 broadcastTx). An explorer error is followed by a lookup: if the
// tx is already on-chain (someone else relayed it first), the proposal is
// still marked broadcasted and flagged third-party.
func (s *Service) BroadcastTx(ctx context.Context, proposalID string) (*models.TxProposal, error) {
	p0, err := s.loadProposal(proposalID)
	if err != nil {
		return nil, err
	}

	var result *models.TxProposal
	var thirdParty bool
	err = s.runLocked(ctx, p0.WalletID, func(ctx context.Context) error {
		p, err := s.loadProposal(proposalID)
		if err != nil {
			return err
		}
		if p.Status == models.StatusBroadcasted {
			return fmt.Errorf("proposal %s: %w", proposalID, config.ErrTxAlreadyBroadcasted)
		}
		if p.Status != models.StatusAccepted {
			return fmt.Errorf("proposal %s: %w", proposalID, config.ErrTxNotAccepted)
		}

		txid, broadcastErr := s.Explorer.Broadcast(ctx, p.RawTx)
		if broadcastErr != nil {
			existing, lookupErr := s.Explorer.GetTransaction(ctx, p.TxID)
			if lookupErr != nil || existing == nil || existing.TxID != p.TxID {
				return fmt.Errorf("broadcast proposal %s: %w", proposalID, broadcastErr)
			}
			thirdParty = true
		} else {
			p.TxID = txid
		}

		p.Status = models.StatusBroadcasted
		p.BroadcastedOn = time.Now().Unix()
		if err := s.Storage.UpdateTxProposal(p); err != nil {
			return fmt.Errorf("persist broadcast: %w", err)
		}
		result = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	notifType := models.NotificationNewOutgoingTx
	if thirdParty {
		notifType = models.NotificationNewOutgoingTxByThirdParty
	}
	if err := s.notify(result.WalletID, notifType, result.CreatorID, map[string]any{
		"txProposalId": result.ID,
		"txid":         result.TxID,
	}); err != nil {
		return result, err
	}
	return result, nil
}

// RemovePendingTx deletes a proposal the creator no longer wants to
// publish (§4.1 removePendingTx): only the creator may remove it, only
// before any other copayer has accepted it, and only after DeleteLockTime has
// elapsed since creation.
func (s *Service) RemovePendingTx(ctx context.Context, proposalID, copayerID string) error {
	p0, err := s.loadProposal(proposalID)
	if err != nil {
		return err
	}
	return s.runLocked(ctx, p0.WalletID, func(ctx context.Context) error {
		p, err := s.loadProposal(proposalID)
		if err != nil {
			return err
		}
		if p.CreatorID != copayerID {
			return fmt.Errorf("proposal %s: %w", proposalID, config.ErrNotAuthorized)
		}
		if p.Status == models.StatusBroadcasted {
			return fmt.Errorf("proposal %s: %w", proposalID, config.ErrTxCannotRemove)
		}
		for _, a := range p.Actions {
			if a.Type == models.ActionAccept && a.CopayerID != copayerID {
				return fmt.Errorf("proposal %s: %w", proposalID, config.ErrTxCannotRemove)
			}
		}
		if time.Since(time.Unix(p.CreatedOn, 0)) < config.DeleteLockTime {
			return fmt.Errorf("proposal %s: %w", proposalID, config.ErrTxCannotRemove)
		}
		if err := s.Storage.DeleteTxProposal(p.ID); err != nil {
			return fmt.Errorf("delete proposal %s: %w", proposalID, err)
		}
		return nil
	})
}

// requiredRejections is r = min(m, n-m+1) (§4.1).
func requiredRejections(w *models.Wallet) int {
	r := w.N - w.M + 1
	if w.M < r {
		return w.M
	}
	return r
}

// verifiedByAny reports whether sig validates against any of a copayer's
// registered request public keys — a copayer may carry several (added via
// addAccess), and any one of them authenticates the request.
func verifiedByAny(c *models.Copayer, message, sigHex string) bool {
	for _, k := range c.RequestPubKeys {
		if ok, err := walletauth.VerifySignature(message, sigHex, k.Key); err == nil && ok {
			return true
		}
	}
	return false
}

// buildOutputOrder returns an identity permutation when shuffling is
// suppressed, otherwise a random permutation of [0, n) — matching
// copay-core's practice of hiding which output is the payment versus
// change by randomizing broadcast order metadata.
func buildOutputOrder(n int, noShuffle bool) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if !noShuffle {
		rand.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	return order
}

// toProposalPointers adapts a value slice as returned by
// storage.ListTxProposals (newest first) to the oldest-first pointer slice
// backoffBlocked expects.
func toProposalPointers(proposals []models.TxProposal) []*models.TxProposal {
	out := make([]*models.TxProposal, len(proposals))
	for i := range proposals {
		out[len(proposals)-1-i] = &proposals[i]
	}
	return out
}

// sendMaxAmount computes the maximum single-output amount spendable from
// every unlocked, safe, selection-eligible UTXO at feePerKb, excluding
// inputs that would push the transaction over MAX_TX_SIZE_IN_KB.
func sendMaxAmount(utxos []models.UTXO, reserved, excluded map[string]bool, excludeUnconfirmed bool, feePerKb int64, w *models.Wallet) (int64, error) {
	var usable []models.UTXO
	for _, u := range utxos {
		if u.Locked || u.Unsafe || reserved[outpointKey(u.TxID, u.Vout)] || excluded[outpointKey(u.TxID, u.Vout)] {
			continue
		}
		if excludeUnconfirmed && u.Confirmations == 0 {
			continue
		}
		usable = append(usable, u)
	}

	var total int64
	n := 0
	for _, u := range usable {
		vsize := estimateTxVsize(w, n+1, 1, false)
		if vsize > config.MaxTxSizeInKb*1000 {
			break
		}
		total += u.Satoshis
		n++
	}
	if n == 0 {
		return 0, config.ErrInsufficientFunds
	}

	fee := feeFor(estimateTxVsize(w, n, 1, false), feePerKb)
	amount := total - fee
	if amount <= 0 {
		return 0, config.ErrInsufficientFundsForFee
	}
	return amount, nil
}
