// Package push renders and delivers push notifications for a subset of
// broker events (§4.5): it subscribes to internal/broker, skips what the
// delivered set excludes, and posts a per-platform JSON payload to an
// external push server per recipient, isolating one recipient's failure
// from the rest.
package push

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/Fantasim/bitwallet-coordinator/internal/broker"
	"github.com/Fantasim/bitwallet-coordinator/internal/config"
	"github.com/Fantasim/bitwallet-coordinator/internal/models"
	"github.com/Fantasim/bitwallet-coordinator/internal/storage"
)

// deliveredTypes is the subset of notification types the dispatcher ever
// forwards; everything else (NewOutgoingTxByThirdParty, NewBlock,
// BalanceUpdated, TxProposalRejectedBy, TxProposalFinallyAccepted) is
// storage/poll-only and never reaches a push recipient.
var deliveredTypes = map[string]bool{
	models.NotificationNewCopayer:               true,
	models.NotificationWalletComplete:           true,
	models.NotificationNewTxProposal:            true,
	models.NotificationNewOutgoingTx:            true,
	models.NotificationNewIncomingTx:            true,
	models.NotificationTxProposalFinallyRejected: true,
}

// Dispatcher is the explicit, per-startup service container for push
// delivery, built the same way as walletsvc.Service/txproposal.Service.
type Dispatcher struct {
	Storage       *storage.DB
	Broker        *broker.Broker
	HTTPClient    *http.Client
	PushServerURL string
	TemplatesDir  string
}

// New builds a Dispatcher. templatesDir is the root a recipient's templates
// are read from as templatesDir/<language>/<typeFile>.{plain,html}.
func New(db *storage.DB, br *broker.Broker, pushServerURL, templatesDir string) *Dispatcher {
	return &Dispatcher{
		Storage:       db,
		Broker:        br,
		HTTPClient:    &http.Client{Timeout: config.PushRequestTimeout},
		PushServerURL: pushServerURL,
		TemplatesDir:  templatesDir,
	}
}

// Run subscribes to the broker and dispatches notifications until ctx is
// cancelled or the broker closes the subscription.
func (d *Dispatcher) Run(ctx context.Context) {
	ch := d.Broker.Subscribe()
	defer d.Broker.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-ch:
			if !ok {
				return
			}
			d.handle(ctx, n)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, n models.Notification) {
	if !deliveredTypes[n.Type] {
		return
	}

	walletID := resolveWalletID(n)
	w, err := d.Storage.GetWallet(walletID)
	if err != nil {
		slog.Error("push: load wallet failed", "walletId", walletID, "type", n.Type, "error", err)
		return
	}
	if w == nil {
		slog.Warn("push: wallet not found, dropping notification", "walletId", walletID, "type", n.Type)
		return
	}

	if n.Type == models.NotificationNewTxProposal && w.M == 1 {
		return // no co-signer coordination needed for a single-signature wallet
	}

	prefsByCopayer, err := d.preferencesByCopayer(w.ID)
	if err != nil {
		slog.Error("push: load preferences failed", "walletId", w.ID, "error", err)
		return
	}

	for _, c := range w.Copayers {
		if c.ID == n.CreatorID {
			continue
		}
		pref := prefsByCopayer[c.ID]
		if err := d.deliverToRecipient(ctx, w, n, c, pref); err != nil {
			slog.Error("push: deliver to recipient failed", "copayerId", c.ID, "type", n.Type, "error", err)
		}
	}
}

func (d *Dispatcher) preferencesByCopayer(walletID string) (map[string]models.Preferences, error) {
	prefs, err := d.Storage.ListWalletPreferences(walletID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]models.Preferences, len(prefs))
	for _, p := range prefs {
		out[p.CopayerID] = p
	}
	return out, nil
}

// resolveWalletID recovers the wallet a global notification (WalletComplete,
// stored under the network name) actually concerns, falling back to the
// notification's own WalletID for every ordinary wallet-scoped event.
func resolveWalletID(n models.Notification) string {
	if wid, ok := n.Data["walletId"].(string); ok && wid != "" {
		return wid
	}
	return n.WalletID
}
