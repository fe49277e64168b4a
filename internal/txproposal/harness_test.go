package txproposal

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/Fantasim/bitwallet-coordinator/internal/broker"
	"github.com/Fantasim/bitwallet-coordinator/internal/explorer"
	"github.com/Fantasim/bitwallet-coordinator/internal/models"
	"github.com/Fantasim/bitwallet-coordinator/internal/storage"
	"github.com/Fantasim/bitwallet-coordinator/internal/walletauth"
	"github.com/Fantasim/bitwallet-coordinator/internal/walletlock"
	"github.com/Fantasim/bitwallet-coordinator/internal/walletsvc"
)

// fakeExplorer serves a minimal Esplora-shaped API, mirroring
// internal/walletsvc's own test fake, plus a broadcast endpoint this
// package's tests additionally need.
type fakeExplorer struct {
	server *httptest.Server

	utxosByAddress map[string][]explorer.UTXO
	txByID         map[string]explorer.TxInfo
	broadcasted    []string
	broadcastErr   error
}

func newFakeExplorer(t *testing.T) *fakeExplorer {
	t.Helper()
	f := &fakeExplorer{
		utxosByAddress: map[string][]explorer.UTXO{},
		txByID:         map[string]explorer.TxInfo{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/address/", func(w http.ResponseWriter, r *http.Request) {
		addr := r.URL.Path[len("/address/") : len(r.URL.Path)-len("/utxo")]
		json.NewEncoder(w).Encode(f.utxosByAddress[addr])
	})
	mux.HandleFunc("/tx/", func(w http.ResponseWriter, r *http.Request) {
		txid := r.URL.Path[len("/tx/"):]
		tx, ok := f.txByID[txid]
		if !ok {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(tx)
	})
	mux.HandleFunc("/tx", func(w http.ResponseWriter, r *http.Request) {
		if f.broadcastErr != nil {
			http.Error(w, f.broadcastErr.Error(), http.StatusInternalServerError)
			return
		}
		body, _ := io.ReadAll(r.Body)
		f.broadcasted = append(f.broadcasted, string(body))
		w.Write([]byte("deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef"))
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeExplorer) client() *explorer.Client {
	return explorer.New([]string{f.server.URL}, 1000)
}

// testCopayerKey holds a copayer's extended private key alongside the
// extended public key (xPubKey) and request-signing key the wallet
// service only ever sees, so tests can produce real signatures.
type testCopayerKey struct {
	name       string
	master     *hdkeychain.ExtendedKey // private, never sent to the server
	xPubKey    string
	reqPriv    *btcec.PrivateKey
	copayerID  string
}

func newTestCopayerKey(t *testing.T, seedByte byte, name string) *testCopayerKey {
	t.Helper()
	seed := make([]byte, hdkeychain.RecommendedSeedLen)
	for i := range seed {
		seed[i] = seedByte
	}
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("NewMaster() error = %v", err)
	}
	neutered, err := master.Neuter()
	if err != nil {
		t.Fatalf("Neuter() error = %v", err)
	}
	reqPriv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("NewPrivateKey() error = %v", err)
	}
	return &testCopayerKey{
		name:    name,
		master:  master,
		xPubKey: neutered.String(),
		reqPriv: reqPriv,
	}
}

// signDigest derives this copayer's private key at the path an address
// carries (copayerIndex/chain/index) and produces a DER-hex signature
// over a pre-computed digest. No SigHashAll suffix byte is appended; the
// server adds it when it assembles the scriptSig.
func (k *testCopayerKey) signDigest(copayerIndex int, isChange bool, index uint32, digest []byte) string {
	chain := uint32(0)
	if isChange {
		chain = 1
	}
	child, err := k.master.Derive(uint32(copayerIndex))
	if err != nil {
		panic(err)
	}
	child, err = child.Derive(chain)
	if err != nil {
		panic(err)
	}
	child, err = child.Derive(index)
	if err != nil {
		panic(err)
	}
	priv, err := child.ECPrivKey()
	if err != nil {
		panic(err)
	}
	sig := ecdsa.Sign(priv, digest)
	return hex.EncodeToString(sig.Serialize())
}

// signRequestPayload signs a proposal's signing payload with a copayer's
// request key, the way publishTx's client-side counterpart would.
func signRequestPayload(priv *btcec.PrivateKey, payload []byte) string {
	return walletauth.Sign(string(payload), priv)
}

// testHarness bundles the two services plus the fake explorer backing them.
type testHarness struct {
	t        *testing.T
	wallets  *walletsvc.Service
	txs      *Service
	explorer *fakeExplorer
	db       *storage.DB
}

func newTestHarness(t *testing.T) *testHarness {
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
	br := broker.New()
	fe := newFakeExplorer(t)

	wallets := walletsvc.New(db, lock, fe.client(), br, time.Second)
	txs := New(db, lock, fe.client(), br, wallets, time.Second)

	return &testHarness{t: t, wallets: wallets, txs: txs, explorer: fe, db: db}
}

// createCompleteWallet creates an m-of-n wallet of the given address type
// and joins every copayer key, returning the wallet and the copayers in
// join order (so copayers[i].CopayerIndex == i).
func (h *testHarness) createCompleteWallet(m, n int, addrType models.AddressType, keys []*testCopayerKey) *models.Wallet {
	t := h.t
	t.Helper()
	walletPriv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("NewPrivateKey() error = %v", err)
	}

	w, err := h.wallets.CreateWallet(context.Background(), walletsvc.CreateWalletRequest{
		Name: "w", M: m, N: n, Network: models.NetworkLivenet,
		PubKey:      hex.EncodeToString(walletPriv.PubKey().SerializeCompressed()),
		AddressType: addrType,
	})
	if err != nil {
		t.Fatalf("CreateWallet() error = %v", err)
	}

	for _, k := range keys {
		reqPub := hex.EncodeToString(k.reqPriv.PubKey().SerializeCompressed())
		message := k.name + "|" + k.xPubKey + "|" + reqPub
		sig := walletauth.Sign(message, walletPriv)
		c, err := h.wallets.JoinWallet(context.Background(), w.ID, walletsvc.JoinWalletRequest{
			Name: k.name, XPubKey: k.xPubKey, RequestPubKey: reqPub, WalletSignature: sig,
		})
		if err != nil {
			t.Fatalf("JoinWallet(%s) error = %v", k.name, err)
		}
		k.copayerID = c.ID
	}

	got, err := h.db.GetWallet(w.ID)
	if err != nil || got == nil {
		t.Fatalf("GetWallet() after join error = %v", err)
	}
	return got
}

// fundReceiveAddress derives the wallet's next receive address and seeds
// the fake explorer with a single confirmed UTXO for it, returning the
// derived address.
func (h *testHarness) fundReceiveAddress(walletID string, amount int64) *models.Address {
	t := h.t
	t.Helper()
	addr, err := h.wallets.DeriveAddress(context.Background(), walletID, false)
	if err != nil {
		t.Fatalf("DeriveAddress() error = %v", err)
	}
	utxo := explorer.UTXO{TxID: hex64(t, byte(len(h.explorer.utxosByAddress))), Vout: 0, Value: amount}
	utxo.Status.Confirmed = true
	utxo.Status.BlockHeight = 100
	h.explorer.utxosByAddress[addr.Address] = append(h.explorer.utxosByAddress[addr.Address], utxo)

	tx := explorer.TxInfo{TxID: utxo.TxID}
	tx.Status.Confirmed = true
	h.explorer.txByID[utxo.TxID] = tx
	return addr
}

func hex64(t *testing.T, b byte) string {
	t.Helper()
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = b
	}
	return hex.EncodeToString(raw)
}
