package walletsvc

import (
	"context"
	"testing"

	"github.com/Fantasim/bitwallet-coordinator/internal/explorer"
	"github.com/Fantasim/bitwallet-coordinator/internal/models"
)

func TestBalanceSumsConfirmedAndAvailable(t *testing.T) {
	fe := newFakeExplorer(t)
	s := newTestServiceWithExplorer(t, fe)
	w := createCompleteWallet(t, s)
	ctx := context.Background()

	addr, err := s.DeriveAddress(ctx, w.ID, false)
	if err != nil {
		t.Fatalf("DeriveAddress() error = %v", err)
	}

	fe.utxosByAddress[addr.Address] = []explorer.UTXO{
		{TxID: "confirmed1", Vout: 0, Value: 50000, Status: struct {
			Confirmed   bool  `json:"confirmed"`
			BlockHeight int64 `json:"block_height"`
		}{Confirmed: true, BlockHeight: 100}},
	}

	bal, err := s.Balance(ctx, w.ID)
	if err != nil {
		t.Fatalf("Balance() error = %v", err)
	}
	if bal.TotalAmount != 50000 {
		t.Errorf("TotalAmount = %d, want 50000", bal.TotalAmount)
	}
	if bal.TotalConfirmedAmount != 50000 {
		t.Errorf("TotalConfirmedAmount = %d, want 50000", bal.TotalConfirmedAmount)
	}
	if bal.AvailableAmount != 50000 {
		t.Errorf("AvailableAmount = %d, want 50000", bal.AvailableAmount)
	}
	if len(bal.ByAddress) != 1 || bal.ByAddress[0].Amount != 50000 {
		t.Errorf("ByAddress = %+v, want one entry of 50000", bal.ByAddress)
	}
}

func TestBalanceFlagsUnconfirmedRBFSignaledAsUnsafe(t *testing.T) {
	fe := newFakeExplorer(t)
	s := newTestServiceWithExplorer(t, fe)
	w := createCompleteWallet(t, s)
	ctx := context.Background()

	addr, err := s.DeriveAddress(ctx, w.ID, false)
	if err != nil {
		t.Fatalf("DeriveAddress() error = %v", err)
	}

	fe.utxosByAddress[addr.Address] = []explorer.UTXO{{TxID: "rbftx", Vout: 0, Value: 20000}}
	fe.txByID["rbftx"] = explorer.TxInfo{
		TxID: "rbftx",
		Vin: []struct {
			TxID     string `json:"txid"`
			Vout     uint32 `json:"vout"`
			Sequence uint32 `json:"sequence"`
		}{{TxID: "parent", Vout: 0, Sequence: 0xFFFFFFFD}},
	}
	fe.txByID["parent"] = explorer.TxInfo{
		TxID: "parent",
		Status: struct {
			Confirmed   bool   `json:"confirmed"`
			BlockHeight int64  `json:"block_height"`
			BlockHash   string `json:"block_hash"`
		}{Confirmed: true},
	}

	bal, err := s.Balance(ctx, w.ID)
	if err != nil {
		t.Fatalf("Balance() error = %v", err)
	}
	if bal.TotalAmount != 20000 {
		t.Errorf("TotalAmount = %d, want 20000", bal.TotalAmount)
	}
	if bal.AvailableAmount != 0 {
		t.Errorf("AvailableAmount = %d, want 0 (RBF-signaled UTXO is unsafe)", bal.AvailableAmount)
	}
	if bal.TotalUnsafeAmount != 20000 {
		t.Errorf("TotalUnsafeAmount = %d, want 20000", bal.TotalUnsafeAmount)
	}
}

func TestBalanceExcludesReservedUTXOsFromAvailable(t *testing.T) {
	fe := newFakeExplorer(t)
	s := newTestServiceWithExplorer(t, fe)
	w := createCompleteWallet(t, s)
	ctx := context.Background()

	addr, err := s.DeriveAddress(ctx, w.ID, false)
	if err != nil {
		t.Fatalf("DeriveAddress() error = %v", err)
	}
	fe.utxosByAddress[addr.Address] = []explorer.UTXO{
		{TxID: "c1", Vout: 0, Value: 10000, Status: struct {
			Confirmed   bool  `json:"confirmed"`
			BlockHeight int64 `json:"block_height"`
		}{Confirmed: true}},
	}

	proposal := &models.TxProposal{
		ID:       "p1",
		WalletID: w.ID,
		Network:  w.Network,
		Status:   models.StatusPending,
		Inputs:   []models.Input{{TxID: "c1", Vout: 0}},
	}
	if err := s.Storage.CreateTxProposal(proposal); err != nil {
		t.Fatalf("CreateTxProposal() error = %v", err)
	}

	bal, err := s.Balance(ctx, w.ID)
	if err != nil {
		t.Fatalf("Balance() error = %v", err)
	}
	if bal.LockedAmount != 10000 {
		t.Errorf("LockedAmount = %d, want 10000", bal.LockedAmount)
	}
	if bal.AvailableAmount != 0 {
		t.Errorf("AvailableAmount = %d, want 0 (reserved by a pending proposal)", bal.AvailableAmount)
	}
}
