package models

import "fmt"

// Notification types emitted by the wallet service, proposal state machine,
// and blockchain monitor (§3, §4).
const (
	NotificationNewCopayer                = "NewCopayer"
	NotificationWalletComplete             = "WalletComplete"
	NotificationNewTxProposal              = "NewTxProposal"
	NotificationNewOutgoingTx              = "NewOutgoingTx"
	NotificationNewOutgoingTxByThirdParty  = "NewOutgoingTxByThirdParty"
	NotificationNewIncomingTx              = "NewIncomingTx"
	NotificationNewBlock                   = "NewBlock"
	NotificationTxProposalFinallyAccepted  = "TxProposalFinallyAccepted"
	NotificationTxProposalFinallyRejected  = "TxProposalFinallyRejected"
	NotificationTxProposalRejectedBy       = "TxProposalRejectedBy"
	NotificationBalanceUpdated             = "BalanceUpdated"
)

// Notification is a monotonically-ordered, wallet-scoped event (§3).
type Notification struct {
	ID        string         `json:"id"` // zfill(epochMs,14) || zfill(ticker,4)
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	WalletID  string         `json:"walletId"` // network name for global events
	CreatorID string         `json:"creatorId,omitempty"`
	CreatedOn int64          `json:"createdOn"`

	// DedupKey, when non-empty, makes (WalletID, Type, DedupKey) unique at
	// the storage layer: a retried handler invocation that recomputes the
	// same key is silently absorbed instead of emitting a duplicate.
	DedupKey string `json:"-"`
}

// FormatNotificationID renders the sortable notification id from an epoch-ms
// timestamp and a per-process ticker.
func FormatNotificationID(epochMs int64, ticker uint32) string {
	return fmt.Sprintf("%014d%04d", epochMs, ticker%10000)
}
