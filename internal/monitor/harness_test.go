package monitor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/Fantasim/bitwallet-coordinator/internal/broker"
	"github.com/Fantasim/bitwallet-coordinator/internal/explorer"
	"github.com/Fantasim/bitwallet-coordinator/internal/storage"
)

// fakeExplorer serves a minimal Esplora-shaped API covering the endpoints
// the monitor's reorg walk and tx lookups need, mirroring the fake used by
// internal/txproposal's own tests.
type fakeExplorer struct {
	server *httptest.Server

	txByID    map[string]explorer.TxInfo
	blockByID map[string]explorer.BlockInfo
	txidsByBlock map[string][]string
}

func newFakeExplorer(t *testing.T) *fakeExplorer {
	t.Helper()
	f := &fakeExplorer{
		txByID:       map[string]explorer.TxInfo{},
		blockByID:    map[string]explorer.BlockInfo{},
		txidsByBlock: map[string][]string{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/tx/", func(w http.ResponseWriter, r *http.Request) {
		txid := r.URL.Path[len("/tx/"):]
		tx, ok := f.txByID[txid]
		if !ok {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(tx)
	})
	mux.HandleFunc("/block/", func(w http.ResponseWriter, r *http.Request) {
		rest := r.URL.Path[len("/block/"):]
		if len(rest) > len("/txids") && rest[len(rest)-len("/txids"):] == "/txids" {
			hash := rest[:len(rest)-len("/txids")]
			json.NewEncoder(w).Encode(f.txidsByBlock[hash])
			return
		}
		blk, ok := f.blockByID[rest]
		if !ok {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(blk)
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeExplorer) client() *explorer.Client {
	return explorer.New([]string{f.server.URL}, 1000)
}

type testHarness struct {
	db  *storage.DB
	exp *fakeExplorer
	br  *broker.Broker
	mon *Monitor
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.sqlite")
	db, err := storage.New(dbPath, "testnet")
	if err != nil {
		t.Fatalf("storage.New() error = %v", err)
	}
	if err := db.RunMigrations(); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	exp := newFakeExplorer(t)
	br := broker.New()
	mon := New(db, exp.client(), br, nil)

	return &testHarness{db: db, exp: exp, br: br, mon: mon}
}
