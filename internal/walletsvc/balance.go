package walletsvc

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Fantasim/bitwallet-coordinator/internal/config"
	"github.com/Fantasim/bitwallet-coordinator/internal/explorer"
	"github.com/Fantasim/bitwallet-coordinator/internal/models"
)

// AddressBalance is one address's contribution to a wallet balance (§4.2
// "Balance" per-address breakdown).
type AddressBalance struct {
	Address string `json:"address"`
	Path    string `json:"path"`
	Amount  int64  `json:"amount"`
}

// BalanceResult is the composite figure returned by GET /wallets/:id/balance.
type BalanceResult struct {
	TotalAmount              int64            `json:"totalAmount"`
	TotalConfirmedAmount     int64            `json:"totalConfirmedAmount"`
	LockedAmount             int64            `json:"lockedAmount"`
	LockedConfirmedAmount    int64            `json:"lockedConfirmedAmount"`
	AvailableAmount          int64            `json:"availableAmount"`
	AvailableConfirmedAmount int64            `json:"availableConfirmedAmount"`
	TotalUnsafeAmount        int64            `json:"totalUnsafeAmount"`
	ByAddress                []AddressBalance `json:"byAddress"`
	EstimatedMaxSendSize     int               `json:"estimatedMaxSendSize"` // vbytes, input count only
}

// Balance sums a wallet's UTXOs into the totals of §4.2 "Balance": total vs.
// confirmed-only, locked (reserved by a pending/accepted proposal) vs.
// available, and unsafe (RBF-signaled or deep unconfirmed ancestry) set
// aside from the spendable figure.
//
// Wallets with more than config.TwoStepBalanceThreshold addresses use the
// two-step mode §4.2 describes: the quick pass only queries the cached
// "active addresses" and returns immediately, while a full recompute over
// every address runs in the background and publishes BalanceUpdated if the
// two figures disagree.
func (s *Service) Balance(ctx context.Context, walletID string) (*BalanceResult, error) {
	w, err := s.Storage.GetWallet(walletID)
	if err != nil {
		return nil, fmt.Errorf("load wallet %s: %w", walletID, err)
	}
	if w == nil {
		return nil, fmt.Errorf("wallet %s: %w", walletID, config.ErrWalletNotFound)
	}

	addrs, err := s.Storage.ListAddresses(walletID)
	if err != nil {
		return nil, fmt.Errorf("list addresses for wallet %s: %w", walletID, err)
	}

	reserved, err := s.reservedOutpoints(walletID)
	if err != nil {
		return nil, err
	}

	if int64(len(addrs)) <= config.TwoStepBalanceThreshold {
		utxos, err := s.collectUTXOsForAddresses(ctx, w, addrs)
		if err != nil {
			return nil, err
		}
		return buildBalanceResult(utxos, reserved, w), nil
	}

	quickUTXOs, err := s.collectUTXOsForAddresses(ctx, w, s.quickScanAddresses(walletID, addrs))
	if err != nil {
		return nil, err
	}
	quick := buildBalanceResult(quickUTXOs, reserved, w)

	go s.recomputeBalance(walletID, w, addrs, quick.TotalAmount)

	return quick, nil
}

// quickScanAddresses returns the address subset the two-step mode's fast
// pass should query: the cached "active addresses" set if one exists and
// still maps onto a non-empty subset of addrs, else every address already
// known to have activity, else (first call, nothing known yet) every
// address — matching the single-pass behavior below threshold.
func (s *Service) quickScanAddresses(walletID string, addrs []models.Address) []models.Address {
	if cached, ok := s.activeAddrs.get(walletID); ok {
		set := make(map[string]bool, len(cached))
		for _, a := range cached {
			set[a] = true
		}
		var out []models.Address
		for _, a := range addrs {
			if set[a.Address] {
				out = append(out, a)
			}
		}
		if len(out) > 0 {
			return out
		}
	}

	var out []models.Address
	for _, a := range addrs {
		if a.HasActivity {
			out = append(out, a)
		}
	}
	if len(out) == 0 {
		return addrs
	}
	return out
}

// recomputeBalance runs the two-step mode's background full pass: collects
// every address's UTXOs, refreshes the active-address cache from whichever
// addresses actually held one, and publishes BalanceUpdated if the total
// disagrees with the quick pass already returned to the caller. Runs
// detached from the request context, which is gone by the time this
// finishes.
func (s *Service) recomputeBalance(walletID string, w *models.Wallet, addrs []models.Address, quickTotal int64) {
	ctx, cancel := context.WithTimeout(context.Background(), config.APITimeout)
	defer cancel()

	utxos, err := s.collectUTXOsForAddresses(ctx, w, addrs)
	if err != nil {
		slog.Error("two-step balance recompute failed", "walletId", walletID, "error", err)
		return
	}

	active := make([]string, 0, len(utxos))
	seen := map[string]bool{}
	for _, u := range utxos {
		if !seen[u.Address] {
			seen[u.Address] = true
			active = append(active, u.Address)
		}
	}
	s.activeAddrs.set(walletID, active)

	reserved, err := s.reservedOutpoints(walletID)
	if err != nil {
		slog.Error("two-step balance recompute: load reserved outpoints failed", "walletId", walletID, "error", err)
		return
	}
	full := buildBalanceResult(utxos, reserved, w)

	if full.TotalAmount == quickTotal {
		return
	}
	if err := s.notify(walletID, models.NotificationBalanceUpdated, "", map[string]any{
		"totalAmount": full.TotalAmount,
	}); err != nil {
		slog.Error("publish BalanceUpdated failed", "walletId", walletID, "error", err)
	}
}

// buildBalanceResult tallies a UTXO set into the §4.2 "Balance" totals,
// shared by both the single-pass and two-step code paths above.
func buildBalanceResult(utxos []models.UTXO, reserved map[outpoint]bool, w *models.Wallet) *BalanceResult {
	byAddress := map[string]*AddressBalance{}
	res := &BalanceResult{}

	for _, u := range utxos {
		res.TotalAmount += u.Satoshis
		if u.Confirmed() {
			res.TotalConfirmedAmount += u.Satoshis
		}
		if u.Unsafe {
			res.TotalUnsafeAmount += u.Satoshis
		}

		locked := reserved[outpoint{u.TxID, u.Vout}]
		if locked {
			res.LockedAmount += u.Satoshis
			if u.Confirmed() {
				res.LockedConfirmedAmount += u.Satoshis
			}
		} else if !u.Unsafe {
			res.AvailableAmount += u.Satoshis
			if u.Confirmed() {
				res.AvailableConfirmedAmount += u.Satoshis
			}
			res.EstimatedMaxSendSize += estimatedInputVsize(w)
		}

		ab, ok := byAddress[u.Address]
		if !ok {
			ab = &AddressBalance{Address: u.Address, Path: u.Path}
			byAddress[u.Address] = ab
		}
		ab.Amount += u.Satoshis
	}
	for _, ab := range byAddress {
		res.ByAddress = append(res.ByAddress, *ab)
	}
	if res.EstimatedMaxSendSize > 0 {
		res.EstimatedMaxSendSize += estimatedOverheadVsize
	}

	return res
}

// estimatedOverheadVsize approximates the fixed per-transaction overhead
// (version, locktime, one output, segwit marker/flag) contributed to a
// max-send size estimate independent of input count.
const estimatedOverheadVsize = 44

// estimatedInputVsize approximates one input's contribution to
// transaction vsize: a P2SH multisig input carries an m-of-n witness/
// scriptSig roughly proportional to n, a P2PKH input is a small constant.
// A precise figure belongs to the coin-selection vsize estimator; this is
// the coarse number §4.2's balance endpoint needs before a proposal exists.
func estimatedInputVsize(w *models.Wallet) int {
	if w.AddressType == models.AddressP2SH {
		return 41 + 34*w.N + 107*w.M
	}
	return 148
}

type outpoint struct {
	txid string
	vout uint32
}

// CollectUTXOs is the exported form of collectUTXOs: every wallet address's
// unspent outputs, decorated with derivation path and safety
// classification. Used by internal/txproposal when selecting inputs for a
// new proposal and by the balance/stats computations above.
func (s *Service) CollectUTXOs(ctx context.Context, w *models.Wallet) ([]models.UTXO, error) {
	return s.collectUTXOs(ctx, w)
}

// ReservedOutpointKeys returns the "txid:vout" key of every outpoint
// reserved by a pending or accepted proposal, for callers outside this
// package that cannot see the unexported outpoint type.
func (s *Service) ReservedOutpointKeys(walletID string) (map[string]bool, error) {
	reserved, err := s.reservedOutpoints(walletID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(reserved))
	for op := range reserved {
		out[fmt.Sprintf("%s:%d", op.txid, op.vout)] = true
	}
	return out, nil
}

// reservedOutpoints returns every (txid, vout) reserved by a pending or
// accepted proposal (§3 invariant: a UTXO may not be reserved by more than
// one live proposal).
func (s *Service) reservedOutpoints(walletID string) (map[outpoint]bool, error) {
	proposals, err := s.Storage.ListTxProposals(walletID, false)
	if err != nil {
		return nil, fmt.Errorf("list proposals for wallet %s: %w", walletID, err)
	}
	out := map[outpoint]bool{}
	for _, p := range proposals {
		if !p.IsPending() {
			continue
		}
		for _, in := range p.Inputs {
			out[outpoint{in.TxID, in.Vout}] = true
		}
	}
	return out, nil
}

// collectUTXOs fetches every address's unspent outputs from the explorer
// and decorates each with its wallet-local derivation path and safety
// classification.
func (s *Service) collectUTXOs(ctx context.Context, w *models.Wallet) ([]models.UTXO, error) {
	addrs, err := s.Storage.ListAddresses(w.ID)
	if err != nil {
		return nil, fmt.Errorf("list addresses for wallet %s: %w", w.ID, err)
	}
	return s.collectUTXOsForAddresses(ctx, w, addrs)
}

// collectUTXOsForAddresses is collectUTXOs restricted to a caller-supplied
// address subset, letting the two-step balance mode's quick pass query only
// the cached "active addresses" instead of every address the wallet owns.
func (s *Service) collectUTXOsForAddresses(ctx context.Context, w *models.Wallet, addrs []models.Address) ([]models.UTXO, error) {
	tipHeight, err := s.Explorer.GetTipHeight(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain tip height: %w", err)
	}

	out := []models.UTXO{}
	for _, a := range addrs {
		explorerUTXOs, err := s.Explorer.GetUTXOs(ctx, a.Address)
		if err != nil {
			return nil, fmt.Errorf("fetch utxos for %s: %w", a.Address, err)
		}
		for _, eu := range explorerUTXOs {
			u := models.UTXO{
				TxID:          eu.TxID,
				Vout:          eu.Vout,
				Address:       a.Address,
				Satoshis:      eu.Value,
				Confirmations: confirmationsFor(eu.Status.Confirmed, eu.Status.BlockHeight, tipHeight),
				Path:          a.Path,
				PublicKeys:    a.PublicKeys,
			}
			if err := s.classifySafety(ctx, w.ID, &u); err != nil {
				return nil, fmt.Errorf("classify utxo %s:%d: %w", u.TxID, u.Vout, err)
			}
			out = append(out, u)
		}
	}
	return out, nil
}

// confirmationsFor derives a real confirmation count from the chain tip
// instead of collapsing the explorer's confirmed flag to 0/1, so the
// ≥6-confirmation group in SelectCoins' confirmationGroups can actually
// match. Falls back to a bare confirmed/unconfirmed distinction if the
// reported block height doesn't make sense against the current tip (e.g. a
// reorg in flight between the two explorer calls).
func confirmationsFor(confirmed bool, blockHeight, tipHeight int64) int64 {
	if !confirmed {
		return 0
	}
	if blockHeight <= 0 || tipHeight < blockHeight {
		return 1
	}
	return tipHeight - blockHeight + 1
}

// classifySafety tags a UTXO unsafe when it or any of its unconfirmed
// ancestors, within MaxAncestorsPerInputToVerify hops, signals replace-by-fee
// — or when it has more unconfirmed ancestors than that bound allows (§3
// "unsafe" invariant). A UTXO produced by one of this wallet's own
// accepted/broadcasted proposals is always safe, regardless of
// confirmations or RBF signaling on that transaction (§4.1).
func (s *Service) classifySafety(ctx context.Context, walletID string, u *models.UTXO) error {
	ownTx, err := s.Storage.IsWalletProposalTxID(walletID, u.TxID)
	if err != nil {
		return err
	}
	if ownTx {
		u.SpentByWalletTx = true
		return nil
	}
	if u.Confirmations > 0 {
		return nil
	}
	tx, err := s.Explorer.GetTransaction(ctx, u.TxID)
	if err != nil {
		return err
	}
	count, rbf, err := s.walkUnconfirmedAncestors(ctx, tx, 0)
	if err != nil {
		return err
	}
	u.RBFSignaled = rbf
	u.UnconfirmedAncestorCount = count
	u.Unsafe = rbf || count > config.MaxAncestorsPerInputToVerify
	return nil
}

// walkUnconfirmedAncestors counts tx's unconfirmed direct and indirect
// inputs up to MaxAncestorsPerInputToVerify hops and reports whether any
// input along the way, at any depth, signals replace-by-fee.
func (s *Service) walkUnconfirmedAncestors(ctx context.Context, tx *explorer.TxInfo, depth int) (int, bool, error) {
	var count int
	var rbf bool

	for _, in := range tx.Vin {
		if in.Sequence < 0xFFFFFFFE {
			rbf = true
		}
	}
	if depth >= config.MaxAncestorsPerInputToVerify {
		return count, rbf, nil
	}

	for _, in := range tx.Vin {
		parent, err := s.Explorer.GetTransaction(ctx, in.TxID)
		if err != nil {
			return count, rbf, err
		}
		if parent.Status.Confirmed {
			continue
		}
		count++
		subCount, subRBF, err := s.walkUnconfirmedAncestors(ctx, parent, depth+1)
		if err != nil {
			return count, rbf, err
		}
		count += subCount
		rbf = rbf || subRBF
	}
	return count, rbf, nil
}
