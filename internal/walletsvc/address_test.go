package walletsvc

import (
	"context"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/Fantasim/bitwallet-coordinator/internal/config"
	"github.com/Fantasim/bitwallet-coordinator/internal/explorer"
	"github.com/Fantasim/bitwallet-coordinator/internal/models"
)

func newTestServiceWithExplorer(t *testing.T, fe *fakeExplorer) *Service {
	t.Helper()
	s := newTestService(t)
	s.Explorer = fe.client()
	return s
}

func createCompleteWallet(t *testing.T, s *Service) *models.Wallet {
	t.Helper()
	walletPriv, _ := btcec.NewPrivateKey()
	w, err := s.CreateWallet(context.Background(), CreateWalletRequest{
		Name: "w", M: 1, N: 1, Network: models.NetworkLivenet, AddressType: models.AddressP2PKH,
		PubKey: hex.EncodeToString(walletPriv.PubKey().SerializeCompressed()),
	})
	if err != nil {
		t.Fatalf("CreateWallet() error = %v", err)
	}
	joinWalletSigned(t, s, w.ID, "alice", walletPriv)
	w, err = s.Storage.GetWallet(w.ID)
	if err != nil || w == nil {
		t.Fatalf("reload wallet: %v", err)
	}
	return w
}

func TestDeriveAddressRejectsIncompleteWallet(t *testing.T) {
	fe := newFakeExplorer(t)
	s := newTestServiceWithExplorer(t, fe)

	walletPriv, _ := btcec.NewPrivateKey()
	w, err := s.CreateWallet(context.Background(), CreateWalletRequest{
		Name: "w", M: 2, N: 2, Network: models.NetworkLivenet,
		PubKey: hex.EncodeToString(walletPriv.PubKey().SerializeCompressed()),
	})
	if err != nil {
		t.Fatalf("CreateWallet() error = %v", err)
	}

	_, err = s.DeriveAddress(context.Background(), w.ID, false)
	if !errors.Is(err, config.ErrWalletNotComplete) {
		t.Errorf("DeriveAddress(incomplete wallet) error = %v, want ErrWalletNotComplete", err)
	}
}

func TestDeriveAddressSequentialIndices(t *testing.T) {
	fe := newFakeExplorer(t)
	s := newTestServiceWithExplorer(t, fe)
	w := createCompleteWallet(t, s)

	a0, err := s.DeriveAddress(context.Background(), w.ID, false)
	if err != nil {
		t.Fatalf("DeriveAddress() error = %v", err)
	}
	if a0.Path != "m/0/0" {
		t.Errorf("first derived address Path = %q, want m/0/0", a0.Path)
	}

	a1, err := s.DeriveAddress(context.Background(), w.ID, false)
	if err != nil {
		t.Fatalf("DeriveAddress() error = %v", err)
	}
	if a1.Path != "m/0/1" {
		t.Errorf("second derived address Path = %q, want m/0/1", a1.Path)
	}
}

func TestMainAddressGapReachedThenRecoversWithExplorerActivity(t *testing.T) {
	fe := newFakeExplorer(t)
	s := newTestServiceWithExplorer(t, fe)
	w := createCompleteWallet(t, s)
	ctx := context.Background()

	var lastAddr *models.Address
	for i := 0; i < config.MaxMainAddressGap; i++ {
		a, err := s.DeriveAddress(ctx, w.ID, false)
		if err != nil {
			t.Fatalf("DeriveAddress() #%d error = %v", i, err)
		}
		lastAddr = a
	}

	_, err := s.DeriveAddress(ctx, w.ID, false)
	if !errors.Is(err, config.ErrMainAddressGapReached) {
		t.Fatalf("DeriveAddress() at gap boundary error = %v, want ErrMainAddressGapReached", err)
	}

	fe.utxosByAddress[lastAddr.Address] = []explorer.UTXO{{TxID: "t1", Vout: 0, Value: 1000}}

	addr, err := s.DeriveAddress(ctx, w.ID, false)
	if err != nil {
		t.Fatalf("DeriveAddress() after explorer activity error = %v", err)
	}
	if addr.Path == "" {
		t.Error("expected a newly derived address once the gap cleared")
	}
}

func TestDeriveAddressSingleAddressReusesExisting(t *testing.T) {
	fe := newFakeExplorer(t)
	s := newTestServiceWithExplorer(t, fe)

	walletPriv, _ := btcec.NewPrivateKey()
	w, err := s.CreateWallet(context.Background(), CreateWalletRequest{
		Name: "w", M: 1, N: 1, Network: models.NetworkLivenet, SingleAddress: true,
		PubKey: hex.EncodeToString(walletPriv.PubKey().SerializeCompressed()),
	})
	if err != nil {
		t.Fatalf("CreateWallet() error = %v", err)
	}
	joinWalletSigned(t, s, w.ID, "alice", walletPriv)

	a0, err := s.DeriveAddress(context.Background(), w.ID, false)
	if err != nil {
		t.Fatalf("DeriveAddress() error = %v", err)
	}
	a1, err := s.DeriveAddress(context.Background(), w.ID, false)
	if err != nil {
		t.Fatalf("DeriveAddress() error = %v", err)
	}
	if a0.Address != a1.Address {
		t.Errorf("single-address wallet derived two different addresses: %q, %q", a0.Address, a1.Address)
	}
}

func TestScanStopsAfterGapAndPersistsOnlyActiveAddresses(t *testing.T) {
	fe := newFakeExplorer(t)
	s := newTestServiceWithExplorer(t, fe)
	w := createCompleteWallet(t, s)

	// Mark indices 0 and 2 active on the receive branch; everything else,
	// including the full ScanAddressGap window past index 2, stays silent.
	active := map[uint32]bool{0: true, 2: true}
	for idx := uint32(0); idx < uint32(config.ScanAddressGap)+5; idx++ {
		if !active[idx] {
			continue
		}
		addr, err := BuildAddress(w, false, idx)
		if err != nil {
			t.Fatalf("BuildAddress(%d) error = %v", idx, err)
		}
		fe.utxosByAddress[addr.Address] = []explorer.UTXO{{TxID: "t", Vout: 0, Value: 1}}
	}

	if err := s.Scan(context.Background(), w.ID); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	addrs, err := s.Storage.ListAddresses(w.ID)
	if err != nil {
		t.Fatalf("ListAddresses() error = %v", err)
	}
	if len(addrs) != 2 {
		t.Errorf("Scan() persisted %d addresses, want 2 (only the active ones)", len(addrs))
	}

	reloaded, err := s.Storage.GetWallet(w.ID)
	if err != nil || reloaded == nil {
		t.Fatalf("reload wallet: %v", err)
	}
	if reloaded.ScanStatus != models.ScanSuccess {
		t.Errorf("ScanStatus = %q, want success", reloaded.ScanStatus)
	}
	if reloaded.AddressManager.ReceiveIndex != 3 {
		t.Errorf("ReceiveIndex after scan = %d, want 3 (just past the last active index)", reloaded.AddressManager.ReceiveIndex)
	}
}
