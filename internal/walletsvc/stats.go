package walletsvc

import (
	"context"
	"fmt"

	"github.com/Fantasim/bitwallet-coordinator/internal/config"
	"github.com/Fantasim/bitwallet-coordinator/internal/models"
)

// StatsResult aggregates a wallet's proposal and UTXO activity for
// GET /stats. original_source shows this endpoint summing tx count by
// status, broadcasted send volume, and current UTXO count/value; there is
// no persisted "received" ledger independent of the current UTXO set, so
// totalReceivedAmount is the sum of the current UTXO set, confirmed or
// not — the same figure as utxoAmount; satoshis already spent do not count
// toward it. A dashboard figure, not an accounting ledger.
type StatsResult struct {
	ProposalCountByStatus map[models.TxProposalStatus]int `json:"proposalCountByStatus"`
	TotalSentAmount       int64                            `json:"totalSentAmount"`
	TotalReceivedAmount   int64                            `json:"totalReceivedAmount"`
	UTXOCount             int                              `json:"utxoCount"`
	UTXOAmount            int64                            `json:"utxoAmount"`
}

// Stats computes §4.2's "Stats" aggregate for a wallet.
func (s *Service) Stats(ctx context.Context, walletID string) (*StatsResult, error) {
	w, err := s.Storage.GetWallet(walletID)
	if err != nil {
		return nil, fmt.Errorf("load wallet %s: %w", walletID, err)
	}
	if w == nil {
		return nil, fmt.Errorf("wallet %s: %w", walletID, config.ErrWalletNotFound)
	}

	proposals, err := s.Storage.ListTxProposals(walletID, false)
	if err != nil {
		return nil, fmt.Errorf("list proposals for wallet %s: %w", walletID, err)
	}

	res := &StatsResult{ProposalCountByStatus: map[models.TxProposalStatus]int{}}
	for _, p := range proposals {
		res.ProposalCountByStatus[p.Status]++
		if p.Status == models.StatusBroadcasted {
			for _, o := range p.Outputs {
				res.TotalSentAmount += o.Amount
			}
		}
	}

	utxos, err := s.collectUTXOs(ctx, w)
	if err != nil {
		return nil, err
	}
	res.UTXOCount = len(utxos)
	for _, u := range utxos {
		res.UTXOAmount += u.Satoshis
		res.TotalReceivedAmount += u.Satoshis
	}

	return res, nil
}
