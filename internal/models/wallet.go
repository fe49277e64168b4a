package models

// MaxCopayersPerWallet is the hard ceiling on n regardless of the caller's
// requested wallet size.
const MaxCopayersPerWallet = 15

// AddressManager tracks the next derivation index per chain (receive/change).
type AddressManager struct {
	ReceiveIndex uint32 `json:"receiveIndex"`
	ChangeIndex  uint32 `json:"changeIndex"`
}

// NextIndex returns the current index for the given chain and advances it.
func (m *AddressManager) NextIndex(isChange bool) uint32 {
	if isChange {
		idx := m.ChangeIndex
		m.ChangeIndex++
		return idx
	}
	idx := m.ReceiveIndex
	m.ReceiveIndex++
	return idx
}

// Wallet is a jointly-owned m-of-n signing policy (§3).
type Wallet struct {
	ID                 string             `json:"id"`
	Name               string             `json:"name"`
	M                  int                `json:"m"`
	N                  int                `json:"n"`
	Network            Network            `json:"network"`
	PubKey             string             `json:"pubKey"` // wallet-secret public key, hex
	DerivationStrategy DerivationStrategy `json:"derivationStrategy"`
	AddressType        AddressType        `json:"addressType"`
	SingleAddress      bool               `json:"singleAddress"`
	Copayers           []Copayer          `json:"copayers"`
	AddressManager     AddressManager     `json:"addressManager"`
	ScanStatus         ScanStatus         `json:"scanStatus"`
	CreatedOn          int64              `json:"createdOn"`
}

// IsComplete reports whether the wallet has its full copayer roster.
func (w *Wallet) IsComplete() bool {
	return len(w.Copayers) == w.N
}

// CopayerByID returns the copayer with the given id, or nil.
func (w *Wallet) CopayerByID(id string) *Copayer {
	for i := range w.Copayers {
		if w.Copayers[i].ID == id {
			return &w.Copayers[i]
		}
	}
	return nil
}

// HasXPubKey reports whether a copayer with this extended public key already
// joined the wallet.
func (w *Wallet) HasXPubKey(xPubKey string) bool {
	for _, c := range w.Copayers {
		if c.XPubKey == xPubKey {
			return true
		}
	}
	return false
}
