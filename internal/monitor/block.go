package monitor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Fantasim/bitwallet-coordinator/internal/config"
	"github.com/Fantasim/bitwallet-coordinator/internal/explorer"
	"github.com/Fantasim/bitwallet-coordinator/internal/models"
)

// handleBlockEvent processes a newly announced block (§4.4). If the block's
// parent is not among the network's tracked tip hashes, it walks backward
// through ancestors — bounded by config.MaxReorgDepth — until it finds one
// that is, then replays every block on that path oldest-first so addresses
// touched by blocks the server missed (a dropped connection, a restart)
// still get their activity recorded.
func (m *Monitor) handleBlockEvent(ctx context.Context, network string, blk explorer.SocketBlockData) {
	tip, err := m.Storage.GetBlockchainTip(network)
	if err != nil {
		slog.Error("monitor: load blockchain tip failed", "network", network, "error", err)
		return
	}
	if tip.Contains(blk.Hash) {
		return // already processed, e.g. a redelivered socket event after reconnect
	}

	chain, err := m.resolveAncestorChain(ctx, tip, blk.Hash)
	if err != nil {
		slog.Error("monitor: resolve ancestor chain failed", "network", network, "hash", blk.Hash, "error", err)
		return
	}

	for _, hash := range chain {
		if err := m.processBlock(ctx, network, hash); err != nil {
			slog.Error("monitor: process block failed", "network", network, "hash", hash, "error", err)
			continue
		}
		tip.Push(hash, config.MaxReorgDepth)
	}
	tip.UpdatedOn = nowUnix()
	if err := m.Storage.SaveBlockchainTip(tip); err != nil {
		slog.Error("monitor: save blockchain tip failed", "network", network, "error", err)
	}

	m.History.InvalidateAll()
	if err := m.notify(network, models.NotificationNewBlock, map[string]any{
		"hash":   blk.Hash,
		"height": blk.Height,
	}); err != nil {
		slog.Error("monitor: notify new block failed", "network", network, "hash", blk.Hash, "error", err)
	}
}

// resolveAncestorChain returns the blocks from the first common ancestor
// with tip down to newHash, inclusive, oldest first. When tip is empty (no
// block ever recorded for this network) or newHash's parent is already the
// tracked tip, the chain is just [newHash].
func (m *Monitor) resolveAncestorChain(ctx context.Context, tip *models.BlockchainTip, newHash string) ([]string, error) {
	chain := []string{newHash}
	cur := newHash

	for depth := 0; depth < config.MaxReorgDepth; depth++ {
		info, err := m.Explorer.GetBlock(ctx, cur)
		if err != nil {
			return nil, fmt.Errorf("get block %s: %w", cur, err)
		}
		if info.PreviousBlockHash == "" {
			break // genesis
		}
		if len(tip.Hashes) == 0 || tip.Contains(info.PreviousBlockHash) {
			break // found the common ancestor, or this is the very first block we've seen
		}
		chain = append(chain, info.PreviousBlockHash)
		cur = info.PreviousBlockHash
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// processBlock enumerates every transaction confirmed in hash and updates
// wallet-owned addresses its outputs touch. A tx previously queued as
// RBF-signalled is resolved here: its appearance in a confirmed block is
// exactly the "later block confirms it" trigger the block-gated variant
// waits for, so it gets the full notifying treatment Path B would have
// given it directly had it not signalled replaceability.
func (m *Monitor) processBlock(ctx context.Context, network, hash string) error {
	txids, err := m.Explorer.GetBlockTxIDs(ctx, hash)
	if err != nil {
		return fmt.Errorf("list block txids: %w", err)
	}

	for _, txid := range txids {
		info, err := m.Explorer.GetTransaction(ctx, txid)
		if err != nil {
			slog.Warn("monitor: fetch block tx failed", "txid", txid, "error", err)
			continue
		}

		addrs := make([]string, 0, len(info.Vout))
		for _, out := range info.Vout {
			if out.ScriptPubKeyAddress != "" {
				addrs = append(addrs, out.ScriptPubKeyAddress)
			}
		}

		if m.dequeueRBF(network, txid) {
			m.processIncomingOutputs(network, txid, addrs, true)
			continue
		}
		m.markActivityOnly(network, addrs)
	}
	return nil
}
