package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/Fantasim/bitwallet-coordinator/internal/config"
	"github.com/Fantasim/bitwallet-coordinator/internal/explorer"
	"github.com/Fantasim/bitwallet-coordinator/internal/models"
)

// handleTxEvent reacts to a transaction the explorer just relayed or saw
// enter its mempool (§4.4). Two independent recognition paths run over the
// same event:
//
//   - Path A (outgoing): the txid matches one of our own accepted
//     proposals, broadcast by a third party (a copayer's own wallet
//     software, bypassing this server). checkOutgoingRecognition runs on
//     its own goroutine since it waits out BroadcastConfirmDelay before
//     re-checking, and the dispatch loop must keep consuming events
//     meanwhile.
//   - Path B (incoming): one of the tx's outputs pays a wallet-owned
//     address. Skipped when the tx signals replace-by-fee — an RBF tx is
//     only surfaced once a later block actually confirms it (the
//     block-gated variant), since an unconfirmed RBF payment can still be
//     replaced by a different, possibly non-paying, transaction.
func (m *Monitor) handleTxEvent(ctx context.Context, network string, tx explorer.SocketTxData) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.checkOutgoingRecognition(ctx, network, tx.TxID)
	}()

	if tx.RBF {
		m.queueRBF(network, tx.TxID)
		slog.Debug("monitor: queued RBF-signalled tx pending block confirmation", "network", network, "txid", tx.TxID)
		return
	}

	m.processIncomingOutputs(network, tx.TxID, tx.Vout, true)
}

func (m *Monitor) checkOutgoingRecognition(ctx context.Context, network, txid string) {
	p, err := m.Storage.GetTxProposalByTxID(txid)
	if err != nil {
		slog.Error("monitor: lookup proposal by txid failed", "txid", txid, "error", err)
		return
	}
	if p == nil || string(p.Network) != network {
		return
	}

	select {
	case <-time.After(config.BroadcastConfirmDelay):
	case <-ctx.Done():
		return
	}

	// Re-fetch: the proposal's own broadcastTx call may have already
	// completed the transition while we were waiting.
	p, err = m.Storage.GetTxProposal(p.ID)
	if err != nil {
		slog.Error("monitor: re-fetch proposal failed", "id", p.ID, "error", err)
		return
	}
	if p == nil || p.Status != models.StatusAccepted {
		return
	}

	if _, err := m.Explorer.GetTransaction(ctx, txid); err != nil {
		slog.Warn("monitor: third-party txid no longer resolvable, leaving proposal accepted", "txid", txid, "error", err)
		return
	}

	p.Status = models.StatusBroadcasted
	p.TxID = txid
	p.BroadcastedOn = nowUnix()
	if err := m.Storage.UpdateTxProposal(p); err != nil {
		slog.Error("monitor: mark proposal broadcasted by third party failed", "id", p.ID, "error", err)
		return
	}

	m.History.Invalidate(p.WalletID)
	if err := m.notify(p.WalletID, models.NotificationNewOutgoingTxByThirdParty, map[string]any{
		"txid":       txid,
		"proposalId": p.ID,
	}); err != nil {
		slog.Error("monitor: notify outgoing-by-third-party failed", "txid", txid, "error", err)
	}
}

// processIncomingOutputs looks up every output address of a tx, skips
// change addresses and addresses on a different network, records activity,
// and — when notify is true — emits NewIncomingTx. notify is false when
// this is called from ordinary block processing for a tx that was not
// RBF-queued: those updates exist only to keep hasActivity/lastUsedOn
// current, not to re-announce a payment already reported when its
// unconfirmed tx first appeared.
func (m *Monitor) processIncomingOutputs(network, txid string, outputAddrs []string, notify bool) {
	for _, addr := range outputAddrs {
		a, err := m.Storage.GetAddress(addr)
		if err != nil {
			slog.Warn("monitor: address lookup failed", "address", addr, "error", err)
			continue
		}
		if a == nil || a.IsChange || string(a.Network) != network {
			continue
		}

		if err := m.Storage.MarkAddressActivity(addr, nowUnix()); err != nil {
			slog.Error("monitor: mark address activity failed", "address", addr, "error", err)
			continue
		}
		m.History.Invalidate(a.WalletID)

		if !notify {
			continue
		}
		if err := m.notify(a.WalletID, models.NotificationNewIncomingTx, map[string]any{
			"txid":    txid,
			"address": addr,
		}); err != nil {
			slog.Error("monitor: notify incoming tx failed", "txid", txid, "address", addr, "error", err)
		}
	}
}

// markActivityOnly updates hasActivity/lastUsedOn for every wallet-owned
// address among outputAddrs, including change addresses, without emitting
// any notification — the steady-state per-block bookkeeping path.
func (m *Monitor) markActivityOnly(network string, outputAddrs []string) {
	for _, addr := range outputAddrs {
		a, err := m.Storage.GetAddress(addr)
		if err != nil {
			slog.Warn("monitor: address lookup failed", "address", addr, "error", err)
			continue
		}
		if a == nil || string(a.Network) != network {
			continue
		}
		if err := m.Storage.MarkAddressActivity(addr, nowUnix()); err != nil {
			slog.Error("monitor: mark address activity failed", "address", addr, "error", err)
			continue
		}
		m.History.Invalidate(a.WalletID)
	}
}
