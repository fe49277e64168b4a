package txproposal

import (
	"testing"

	"github.com/Fantasim/bitwallet-coordinator/internal/config"
	"github.com/Fantasim/bitwallet-coordinator/internal/models"
)

func singleSigWallet() *models.Wallet {
	return &models.Wallet{ID: "w1", M: 1, N: 1, AddressType: models.AddressP2PKH}
}

func utxo(txid string, vout uint32, satoshis, confirmations int64) models.UTXO {
	return models.UTXO{TxID: txid, Vout: vout, Satoshis: satoshis, Confirmations: confirmations}
}

func TestSelectCoinsPrefersDeeperConfirmationGroup(t *testing.T) {
	utxos := []models.UTXO{
		utxo("deep", 0, 100_000, 6),
		utxo("shallow", 0, 100_000, 1),
	}
	res, err := SelectCoins(utxos, 50_000, 10_000, SelectionOptions{Wallet: singleSigWallet()})
	if err != nil {
		t.Fatalf("SelectCoins() error = %v", err)
	}
	if len(res.Inputs) != 1 || res.Inputs[0].TxID != "deep" {
		t.Errorf("SelectCoins() chose %+v, want the 6-confirmation UTXO alone", res.Inputs)
	}
}

func TestSelectCoinsFallsBackToShallowerGroupWhenDeepInsufficient(t *testing.T) {
	utxos := []models.UTXO{
		utxo("deep", 0, 10_000, 6),
		utxo("shallow", 0, 200_000, 1),
	}
	res, err := SelectCoins(utxos, 50_000, 10_000, SelectionOptions{Wallet: singleSigWallet()})
	if err != nil {
		t.Fatalf("SelectCoins() error = %v", err)
	}
	found := false
	for _, in := range res.Inputs {
		if in.TxID == "shallow" {
			found = true
		}
	}
	if !found {
		t.Errorf("SelectCoins() = %+v, want it to fall through to the 1-confirmation group", res.Inputs)
	}
}

func TestSelectCoinsExcludesUnconfirmedWhenRequested(t *testing.T) {
	utxos := []models.UTXO{
		utxo("unconf", 0, 200_000, 0),
	}
	_, err := SelectCoins(utxos, 50_000, 10_000, SelectionOptions{
		Wallet:             singleSigWallet(),
		ExcludeUnconfirmed: true,
	})
	if err != config.ErrInsufficientFunds {
		t.Errorf("SelectCoins() error = %v, want ErrInsufficientFunds", err)
	}
}

func TestSelectCoinsExcludesLockedAndUnsafeAndExplicitlyExcluded(t *testing.T) {
	locked := utxo("locked", 0, 200_000, 6)
	locked.Locked = true
	unsafe := utxo("unsafe", 0, 200_000, 6)
	unsafe.Unsafe = true
	excluded := utxo("excluded", 0, 200_000, 6)

	_, err := SelectCoins([]models.UTXO{locked, unsafe, excluded}, 50_000, 10_000, SelectionOptions{
		Wallet:            singleSigWallet(),
		ExcludedOutpoints: map[string]bool{outpointKey("excluded", 0): true},
	})
	if err != config.ErrInsufficientFunds {
		t.Errorf("SelectCoins() error = %v, want ErrInsufficientFunds (every candidate filtered out)", err)
	}
}

func TestSelectCoinsAccumulatesSmallUTXOsLargestFirst(t *testing.T) {
	utxos := []models.UTXO{
		utxo("small1", 0, 20_000, 6),
		utxo("small2", 0, 30_000, 6),
		utxo("small3", 0, 15_000, 6),
	}
	res, err := SelectCoins(utxos, 45_000, 1_000, SelectionOptions{Wallet: singleSigWallet()})
	if err != nil {
		t.Fatalf("SelectCoins() error = %v", err)
	}
	if len(res.Inputs) < 2 {
		t.Fatalf("SelectCoins() = %+v, want at least two small inputs accumulated", res.Inputs)
	}
	// SelectCoins shuffles the inputs it returns, so check which UTXOs were
	// taken rather than their position: 30000 + 20000 covers the target, so
	// the smallest (small3) is never reached.
	var hasSmall2, hasSmall3 bool
	for _, in := range res.Inputs {
		switch in.TxID {
		case "small2":
			hasSmall2 = true
		case "small3":
			hasSmall3 = true
		}
	}
	if !hasSmall2 || hasSmall3 {
		t.Errorf("SelectCoins() inputs = %+v, want the largest small UTXOs taken first (small2 in, small3 out)", res.Inputs)
	}
}

func TestSelectCoinsFallsBackToSingleBigUTXO(t *testing.T) {
	utxos := []models.UTXO{
		utxo("big", 0, 10_000_000, 6),
	}
	res, err := SelectCoins(utxos, 50_000, 1_000, SelectionOptions{Wallet: singleSigWallet()})
	if err != nil {
		t.Fatalf("SelectCoins() error = %v", err)
	}
	if len(res.Inputs) != 1 || res.Inputs[0].TxID != "big" {
		t.Errorf("SelectCoins() = %+v, want the lone big UTXO selected", res.Inputs)
	}
}

func TestSelectCoinsAbsorbsDustChangeIntoFee(t *testing.T) {
	utxos := []models.UTXO{
		utxo("u", 0, 50_200, 6),
	}
	res, err := SelectCoins(utxos, 50_000, 0, SelectionOptions{Wallet: singleSigWallet()})
	if err != nil {
		t.Fatalf("SelectCoins() error = %v", err)
	}
	spent := int64(0)
	for _, in := range res.Inputs {
		spent += in.Satoshis
	}
	leftover := spent - 50_000 - res.Fee
	if leftover != 0 {
		t.Errorf("leftover after fee = %d, want 0 (dust change absorbed into fee)", leftover)
	}
}

func TestSelectCoinsReturnsInsufficientFundsWhenNothingCovers(t *testing.T) {
	utxos := []models.UTXO{
		utxo("tiny", 0, 1_000, 6),
	}
	_, err := SelectCoins(utxos, 500_000, 10_000, SelectionOptions{Wallet: singleSigWallet()})
	if err != config.ErrInsufficientFunds {
		t.Errorf("SelectCoins() error = %v, want ErrInsufficientFunds", err)
	}
}

func TestSelectCoinsRequiresWallet(t *testing.T) {
	_, err := SelectCoins(nil, 1, 1, SelectionOptions{})
	if err == nil {
		t.Fatal("SelectCoins() with nil wallet succeeded, want error")
	}
}

func TestSelectCoinsMultisigWalletSizesInputsLarger(t *testing.T) {
	msWallet := &models.Wallet{ID: "w2", M: 2, N: 3, AddressType: models.AddressP2SH}
	utxos := []models.UTXO{
		utxo("u", 0, 60_000, 6),
	}
	res, err := SelectCoins(utxos, 50_000, 10_000, SelectionOptions{Wallet: msWallet})
	if err != nil {
		t.Fatalf("SelectCoins() error = %v", err)
	}
	if res.Fee <= 0 {
		t.Errorf("Fee = %d, want a positive fee sized for a 2-of-3 P2SH input", res.Fee)
	}
}
