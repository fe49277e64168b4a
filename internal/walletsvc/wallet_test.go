package walletsvc

import (
	"context"
	"encoding/hex"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/Fantasim/bitwallet-coordinator/internal/broker"
	"github.com/Fantasim/bitwallet-coordinator/internal/config"
	"github.com/Fantasim/bitwallet-coordinator/internal/models"
	"github.com/Fantasim/bitwallet-coordinator/internal/storage"
	"github.com/Fantasim/bitwallet-coordinator/internal/walletauth"
	"github.com/Fantasim/bitwallet-coordinator/internal/walletlock"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "wallet.sqlite")
	db, err := storage.New(dbPath, "livenet")
	if err != nil {
		t.Fatalf("storage.New() error = %v", err)
	}
	if err := db.RunMigrations(); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	lock := walletlock.NewManager(db, time.Second)
	t.Cleanup(lock.Stop)

	return New(db, lock, nil, broker.New(), time.Second)
}

func TestCreateWalletValidatesSize(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	_, err := s.CreateWallet(ctx, CreateWalletRequest{
		Name: "w", M: 2, N: 3, Network: models.NetworkLivenet, PubKey: "abcd",
	})
	if err != nil {
		t.Fatalf("CreateWallet() error = %v", err)
	}

	_, err = s.CreateWallet(ctx, CreateWalletRequest{
		Name: "w", M: 4, N: 3, Network: models.NetworkLivenet, PubKey: "abcd",
	})
	if !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("CreateWallet(m>n) error = %v, want ErrInvalidConfig", err)
	}

	_, err = s.CreateWallet(ctx, CreateWalletRequest{
		Name: "w", M: 1, N: config.MaxCopayersPerWallet + 1, Network: models.NetworkLivenet, PubKey: "abcd",
	})
	if !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("CreateWallet(n too large) error = %v, want ErrInvalidConfig", err)
	}
}

func joinWalletSigned(t *testing.T, s *Service, walletID, name string, walletPriv *btcec.PrivateKey) *models.Copayer {
	t.Helper()
	xpub := testXPubKey(t, byte(len(name)+1))
	reqPriv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("NewPrivateKey() error = %v", err)
	}
	reqPub := hex.EncodeToString(reqPriv.PubKey().SerializeCompressed())
	message := name + "|" + xpub + "|" + reqPub
	sig := walletauth.Sign(message, walletPriv)

	c, err := s.JoinWallet(context.Background(), walletID, JoinWalletRequest{
		Name:            name,
		XPubKey:         xpub,
		RequestPubKey:   reqPub,
		WalletSignature: sig,
	})
	if err != nil {
		t.Fatalf("JoinWallet(%s) error = %v", name, err)
	}
	return c
}

func TestJoinWalletRejectsBadSignature(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	walletPriv, _ := btcec.NewPrivateKey()

	w, err := s.CreateWallet(ctx, CreateWalletRequest{
		Name: "w", M: 1, N: 1, Network: models.NetworkLivenet,
		PubKey: hex.EncodeToString(walletPriv.PubKey().SerializeCompressed()),
	})
	if err != nil {
		t.Fatalf("CreateWallet() error = %v", err)
	}

	otherPriv, _ := btcec.NewPrivateKey()
	xpub := testXPubKey(t, 9)
	message := "alice|" + xpub + "|deadbeef"
	badSig := walletauth.Sign(message, otherPriv)

	_, err = s.JoinWallet(ctx, w.ID, JoinWalletRequest{
		Name: "alice", XPubKey: xpub, RequestPubKey: "deadbeef", WalletSignature: badSig,
	})
	if !errors.Is(err, config.ErrBadSignatures) {
		t.Errorf("JoinWallet(bad signature) error = %v, want ErrBadSignatures", err)
	}
}

func TestJoinWalletEmitsWalletCompleteExactlyOnce(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	walletPriv, _ := btcec.NewPrivateKey()

	w, err := s.CreateWallet(ctx, CreateWalletRequest{
		Name: "w", M: 2, N: 2, Network: models.NetworkLivenet,
		PubKey: hex.EncodeToString(walletPriv.PubKey().SerializeCompressed()),
	})
	if err != nil {
		t.Fatalf("CreateWallet() error = %v", err)
	}

	joinWalletSigned(t, s, w.ID, "alice", walletPriv)
	joinWalletSigned(t, s, w.ID, "bob", walletPriv)

	notifs, err := s.Storage.ListNotificationsSince(string(w.Network), "", 100)
	if err != nil {
		t.Fatalf("ListNotificationsSince() error = %v", err)
	}
	var completeCount int
	for _, n := range notifs {
		if n.Type == models.NotificationWalletComplete && n.Data["walletId"] == w.ID {
			completeCount++
		}
	}
	if completeCount != 1 {
		t.Errorf("NotificationWalletComplete fired %d times, want exactly 1", completeCount)
	}

	// A third join attempt must fail: the wallet is already full.
	_, err = s.JoinWallet(ctx, w.ID, JoinWalletRequest{
		Name: "carol", XPubKey: testXPubKey(t, 77), RequestPubKey: "ab",
		WalletSignature: walletauth.Sign("carol|x|ab", walletPriv),
	})
	if !errors.Is(err, config.ErrWalletFull) {
		t.Errorf("JoinWallet(full wallet) error = %v, want ErrWalletFull", err)
	}
}

func TestAddAccessEnforcesMaxKeys(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	walletPriv, _ := btcec.NewPrivateKey()

	w, err := s.CreateWallet(ctx, CreateWalletRequest{
		Name: "w", M: 1, N: 1, Network: models.NetworkLivenet,
		PubKey: hex.EncodeToString(walletPriv.PubKey().SerializeCompressed()),
	})
	if err != nil {
		t.Fatalf("CreateWallet() error = %v", err)
	}
	c := joinWalletSigned(t, s, w.ID, "alice", walletPriv)

	// The MAX_KEYS guard runs before chain-signature verification, so
	// pushing a copayer's key count to the boundary surfaces
	// ErrTooManyKeys regardless of whether the next signature would have
	// verified.
	for i := 0; i < config.TooManyKeysMargin-1; i++ {
		c.RequestPubKeys = append(c.RequestPubKeys, models.RequestPubKey{Key: hex.EncodeToString([]byte{byte(i)}), AddedOn: time.Now().Unix()})
	}
	if err := s.Storage.UpdateCopayerRequestPubKeys(c.ID, c.RequestPubKeys); err != nil {
		t.Fatalf("UpdateCopayerRequestPubKeys() error = %v", err)
	}

	_, err = s.AddAccess(ctx, w.ID, AddAccessRequest{CopayerID: c.ID, Name: "n", RequestPubKey: "ff"})
	if !errors.Is(err, config.ErrTooManyKeys) {
		t.Errorf("AddAccess() at MAX_KEYS error = %v, want ErrTooManyKeys", err)
	}
}

func TestStatusReturnsWalletAndPreferences(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	walletPriv, _ := btcec.NewPrivateKey()

	w, err := s.CreateWallet(ctx, CreateWalletRequest{
		Name: "w", M: 1, N: 1, Network: models.NetworkLivenet,
		PubKey: hex.EncodeToString(walletPriv.PubKey().SerializeCompressed()),
	})
	if err != nil {
		t.Fatalf("CreateWallet() error = %v", err)
	}

	status, err := s.Status(ctx, w.ID)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.Wallet.ID != w.ID {
		t.Errorf("Status().Wallet.ID = %q, want %q", status.Wallet.ID, w.ID)
	}
	if len(status.Pending) != 0 {
		t.Errorf("Status().Pending has %d entries, want 0 for a fresh wallet", len(status.Pending))
	}
}

func TestStatusUnknownWallet(t *testing.T) {
	s := newTestService(t)
	_, err := s.Status(context.Background(), "missing")
	if !errors.Is(err, config.ErrWalletNotFound) {
		t.Errorf("Status(missing) error = %v, want ErrWalletNotFound", err)
	}
}
