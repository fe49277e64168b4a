package txproposal

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/Fantasim/bitwallet-coordinator/internal/config"
	"github.com/Fantasim/bitwallet-coordinator/internal/models"
)

// confirmationGroups are tried in order, most-confirmed first, so a
// proposal prefers deep-confirmed inputs and only reaches into shallower
// (or unconfirmed) UTXOs when the deeper group can't cover the target.
var confirmationGroups = []int64{6, 1, 0}

// SelectionOptions carries the per-createTx knobs that affect coin
// selection beyond the raw UTXO set and target amount.
type SelectionOptions struct {
	Wallet             *models.Wallet
	ExcludeUnconfirmed bool
	ExcludedOutpoints  map[string]bool // keyed by outpointKey(txid, vout)
}

// SelectionResult is the chosen input set plus the fee it was sized for.
type SelectionResult struct {
	Inputs []models.UTXO
	Fee    int64
}

func outpointKey(txid string, vout uint32) string {
	return fmt.Sprintf("%s:%d", txid, vout)
}

// SelectCoins implements the deterministic input-selection algorithm: try
// successively shallower confirmation groups, within each partition
// candidates into "big" (can alone dwarf the target) and "small", greedily
// accumulate small inputs largest-first, fall back to the smallest big
// input alone, and absorb dust change into the fee. Grounded on the
// teacher's BuildBTCConsolidationTx input-gathering loop
// (internal/tx/btc_tx.go), generalized from "spend every confirmed UTXO"
// to a target-seeking, multi-group, fee-aware selection.
func SelectCoins(utxos []models.UTXO, targetAmount int64, feePerKb int64, opts SelectionOptions) (*SelectionResult, error) {
	if opts.Wallet == nil {
		return nil, fmt.Errorf("txproposal: SelectCoins requires a wallet")
	}

	usable := make([]models.UTXO, 0, len(utxos))
	for _, u := range utxos {
		if u.Locked || u.Unsafe {
			continue
		}
		if opts.ExcludeUnconfirmed && u.Confirmations == 0 {
			continue
		}
		if opts.ExcludedOutpoints != nil && opts.ExcludedOutpoints[outpointKey(u.TxID, u.Vout)] {
			continue
		}
		usable = append(usable, u)
	}

	for _, group := range confirmationGroups {
		if group == 0 && opts.ExcludeUnconfirmed {
			continue
		}
		candidates := make([]models.UTXO, 0, len(usable))
		for _, u := range usable {
			if u.Confirmations >= group {
				candidates = append(candidates, u)
			}
		}
		if result := selectFromGroup(candidates, targetAmount, feePerKb, opts.Wallet); result != nil {
			shuffleInputs(result.Inputs)
			return result, nil
		}
	}

	return nil, config.ErrInsufficientFunds
}

// selectFromGroup runs steps 3-6 of the algorithm against one confirmation
// group's candidate set, returning nil when this group cannot cover the
// target at all (so the caller falls through to the next, shallower group).
func selectFromGroup(candidates []models.UTXO, targetAmount, feePerKb int64, w *models.Wallet) *SelectionResult {
	if len(candidates) == 0 {
		return nil
	}

	baseFee := feeFor(estimateTxVsize(w, 0, 1, true), feePerKb)
	feePerInput := feeFor(estimateInputVsize(w), feePerKb)
	threshold := targetAmount*config.MaxSingleUTXOFactor + baseFee + feePerInput

	var big, small []models.UTXO
	for _, u := range candidates {
		if u.Satoshis > threshold {
			big = append(big, u)
		} else {
			small = append(small, u)
		}
	}
	sort.Slice(big, func(i, j int) bool { return big[i].Satoshis < big[j].Satoshis })
	sort.Slice(small, func(i, j int) bool { return small[i].Satoshis > small[j].Satoshis })

	if selected, fee, ok := accumulateSmall(small, len(big) > 0, targetAmount, feePerKb, w); ok {
		return &SelectionResult{Inputs: selected, Fee: fee}
	}

	if len(big) > 0 {
		u := big[0]
		fee := feeFor(estimateTxVsize(w, 1, 1, true), feePerKb)
		if u.Satoshis >= targetAmount+fee {
			return &SelectionResult{Inputs: []models.UTXO{u}, Fee: fee}
		}
	}

	return nil
}

// accumulateSmall greedily adds small inputs (largest first, so the
// fewest inputs are used) until the target plus the recomputed fee is
// covered, aborting per the three conditions in the algorithm.
func accumulateSmall(small []models.UTXO, haveBig bool, targetAmount, feePerKb int64, w *models.Wallet) ([]models.UTXO, int64, bool) {
	var selected []models.UTXO
	var sum int64

	singleBigInputFee := feeFor(estimateTxVsize(w, 1, 1, true), feePerKb)

	for _, u := range small {
		selected = append(selected, u)
		sum += u.Satoshis

		vsize := estimateTxVsize(w, len(selected), 1, true)
		if vsize > config.MaxTxSizeInKb*1000 {
			return nil, 0, false
		}
		fee := feeFor(vsize, feePerKb)
		if haveBig && targetAmount > 0 && float64(u.Satoshis)/float64(targetAmount) < config.MinTxAmountVsUTXOFactor {
			return nil, 0, false
		}
		if targetAmount > 0 && float64(fee)/float64(targetAmount) > config.MaxFeeVsTxAmountFactor {
			if float64(fee)/float64(singleBigInputFee) > float64(config.MaxFeeVsSingleUTXOFeeFactor) {
				return nil, 0, false
			}
		}

		if sum >= targetAmount+fee {
			change := sum - targetAmount - fee
			if change > 0 && change <= maxInt64(config.MinOutputAmount, config.DustThreshold) {
				fee += change
			}
			if fee > config.MaxTxFee {
				return nil, 0, false
			}
			return selected, fee, true
		}
	}
	return nil, 0, false
}

func feeFor(vsize int, feePerKb int64) int64 {
	return int64(vsize) * feePerKb / 1000
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// shuffleInputs randomizes input order so a proposal's input list doesn't
// leak UTXO discovery order. It draws from math/rand's global source, so
// the order differs from call to call; a proposal keeps the order it was
// created with.
func shuffleInputs(inputs []models.UTXO) {
	rand.Shuffle(len(inputs), func(i, j int) { inputs[i], inputs[j] = inputs[j], inputs[i] })
}
