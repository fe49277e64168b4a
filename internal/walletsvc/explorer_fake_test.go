package walletsvc

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Fantasim/bitwallet-coordinator/internal/explorer"
)

// fakeExplorer serves a minimal Esplora-shaped API so walletsvc tests can
// exercise the explorer-dependent paths (gap-policy probing, UTXO
// collection, ancestor safety classification) without a network call.
type fakeExplorer struct {
	server *httptest.Server

	// utxosByAddress maps an address to the UTXOs the /address/:a/utxo
	// endpoint should report for it.
	utxosByAddress map[string][]explorer.UTXO
	// txByID maps a txid to the /tx/:id response.
	txByID map[string]explorer.TxInfo
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
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeExplorer) client() *explorer.Client {
	return explorer.New([]string{f.server.URL}, 1000)
}
