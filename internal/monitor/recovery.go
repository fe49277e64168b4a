package monitor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Fantasim/bitwallet-coordinator/internal/models"
)

// RunRecovery handles startup recovery, grounded on the teacher's
// watcher.RunRecovery: it must be called once, before Start, and blocks
// until complete. Unlike the teacher (which also expires stale ACTIVE
// watches left over from a prior crash), this monitor holds no per-tx watch
// rows to expire — its only durable state is the blockchain tip and the
// proposals themselves — so recovery has a single step: re-check every
// fully-signed proposal that might have been relayed by a third party while
// the server was down, exactly as checkOutgoingRecognition does for a live
// event, minus the BroadcastConfirmDelay wait (there's no race to give a
// head start to on startup).
func (m *Monitor) RunRecovery(ctx context.Context) error {
	slog.Info("monitor: starting recovery", "networks", len(m.feeds))

	resolved := 0
	for _, f := range m.feeds {
		if ctx.Err() != nil {
			return fmt.Errorf("monitor recovery cancelled: %w", ctx.Err())
		}

		accepted, err := m.Storage.ListAcceptedTxProposals(f.Network)
		if err != nil {
			return fmt.Errorf("monitor recovery: list accepted proposals for %s: %w", f.Network, err)
		}

		for _, p := range accepted {
			if ctx.Err() != nil {
				return fmt.Errorf("monitor recovery cancelled: %w", ctx.Err())
			}
			if p.TxID == "" {
				continue
			}
			if m.recheckAccepted(ctx, &p) {
				resolved++
			}
		}
	}

	slog.Info("monitor: recovery complete", "resolved", resolved)
	return nil
}

// recheckAccepted looks up p.TxID on-chain and, if found, transitions p to
// broadcasted. Reports whether it did so.
func (m *Monitor) recheckAccepted(ctx context.Context, p *models.TxProposal) bool {
	if _, err := m.Explorer.GetTransaction(ctx, p.TxID); err != nil {
		return false
	}

	p.Status = models.StatusBroadcasted
	p.BroadcastedOn = nowUnix()
	if err := m.Storage.UpdateTxProposal(p); err != nil {
		slog.Error("monitor recovery: mark proposal broadcasted failed", "id", p.ID, "error", err)
		return false
	}

	m.History.Invalidate(p.WalletID)
	if err := m.notify(p.WalletID, models.NotificationNewOutgoingTxByThirdParty, map[string]any{
		"txid":       p.TxID,
		"proposalId": p.ID,
	}); err != nil {
		slog.Error("monitor recovery: notify outgoing-by-third-party failed", "id", p.ID, "error", err)
	}
	return true
}
