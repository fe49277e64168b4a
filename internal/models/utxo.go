package models

// UTXO is an unspent output discovered through the Explorer collaborator,
// decorated with wallet-local derivation data needed to spend it.
//
// Locked is computed on the fly by scanning the wallet's pending/accepted
// proposals for a matching (TxID, Vout) — it is never persisted directly,
// mirroring the teacher's UTXO structs which are derived-from-explorer
// values, not stored rows.
type UTXO struct {
	TxID          string   `json:"txid"`
	Vout          uint32   `json:"vout"`
	Address       string   `json:"address"`
	ScriptPubKey  string   `json:"scriptPubKey"`
	Satoshis      int64    `json:"satoshis"`
	Confirmations int64    `json:"confirmations"`
	Path          string   `json:"path"`
	PublicKeys    []string `json:"publicKeys,omitempty"`

	Locked          bool `json:"locked"`
	Unsafe          bool `json:"unsafe"`
	SpentByWalletTx bool `json:"-"` // produced by a tx that itself originated from this wallet

	RBFSignaled      bool `json:"-"`
	UnconfirmedAncestorCount int `json:"-"`
}

// Confirmed reports whether the UTXO has at least one confirmation.
func (u UTXO) Confirmed() bool {
	return u.Confirmations > 0
}
