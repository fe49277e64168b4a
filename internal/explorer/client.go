// Package explorer talks to one or more Esplora-compatible blockchain
// explorers (Blockstream/Mempool-style HTTP APIs) for UTXO lookup, fee
// estimation, and transaction broadcast, and subscribes to an explorer's
// websocket feed for new-transaction/new-block events (§2, §4).
package explorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Fantasim/bitwallet-coordinator/internal/config"
)

// ErrUnavailable wraps a failure common to all providers in the pool.
var ErrUnavailable = errors.New("explorer: all providers failed")

// ErrBadTransaction marks a broadcast rejected because the transaction
// itself is invalid (HTTP 400) — never retried across providers.
var ErrBadTransaction = errors.New("explorer: transaction rejected by network")

const (
	circuitBreakerThreshold = 3
	circuitBreakerCooldown  = 30 * time.Second
)

// UTXO mirrors the Esplora /address/:addr/utxo response shape.
type UTXO struct {
	TxID   string `json:"txid"`
	Vout   uint32 `json:"vout"`
	Value  int64  `json:"value"`
	Status struct {
		Confirmed   bool  `json:"confirmed"`
		BlockHeight int64 `json:"block_height"`
	} `json:"status"`
}

// TxInfo mirrors the subset of Esplora's /tx/:txid response this service needs.
type TxInfo struct {
	TxID   string `json:"txid"`
	Vin    []struct {
		TxID     string `json:"txid"`
		Vout     uint32 `json:"vout"`
		Sequence uint32 `json:"sequence"`
	} `json:"vin"`
	Vout []struct {
		ScriptPubKeyAddress string `json:"scriptpubkey_address"`
		Value               int64  `json:"value"`
	} `json:"vout"`
	Status struct {
		Confirmed   bool   `json:"confirmed"`
		BlockHeight int64  `json:"block_height"`
		BlockHash   string `json:"block_hash"`
	} `json:"status"`
}

// BlockInfo mirrors the subset of Esplora's /block/:hash response the
// monitor's reorg walk needs.
type BlockInfo struct {
	ID               string `json:"id"`
	Height           int64  `json:"height"`
	PreviousBlockHash string `json:"previousblockhash"`
}

// provider is one explorer base URL plus its own rate limiter and circuit breaker.
type provider struct {
	baseURL string
	limiter *rateLimiter
	breaker *circuitBreaker
}

// Client round-robins across a pool of Esplora-compatible providers,
// skipping any whose circuit breaker is open and falling over to the next
// on transient failure.
type Client struct {
	http      *http.Client
	providers []*provider
	next      atomic.Uint64
}

// New builds a Client from a set of provider base URLs (e.g.
// "https://blockstream.info/api"), each rate-limited independently.
func New(providerURLs []string, rps int) *Client {
	providers := make([]*provider, 0, len(providerURLs))
	for _, u := range providerURLs {
		providers = append(providers, &provider{
			baseURL: strings.TrimRight(u, "/"),
			limiter: newRateLimiter(u, rps),
			breaker: newCircuitBreaker(circuitBreakerThreshold, circuitBreakerCooldown),
		})
	}
	return &Client{
		http:      &http.Client{Timeout: config.ProviderRequestTimeout},
		providers: providers,
	}
}

// do executes fn against providers in round-robin order, skipping any with
// an open circuit and retrying the next on transient failure.
func (c *Client) do(ctx context.Context, fn func(ctx context.Context, p *provider) error) error {
	if len(c.providers) == 0 {
		return fmt.Errorf("%w: no providers configured", ErrUnavailable)
	}

	var errs []error
	for range c.providers {
		idx := int(c.next.Add(1)-1) % len(c.providers)
		p := c.providers[idx]

		if !p.breaker.Allow() {
			errs = append(errs, fmt.Errorf("%s: circuit open", p.baseURL))
			continue
		}
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}

		err := fn(ctx, p)
		if err == nil {
			p.breaker.RecordSuccess()
			return nil
		}
		if errors.Is(err, ErrBadTransaction) {
			return err
		}

		p.breaker.RecordFailure()
		errs = append(errs, fmt.Errorf("%s: %w", p.baseURL, err))
		slog.Warn("explorer provider failed, trying next", "provider", p.baseURL, "error", err)
	}

	return fmt.Errorf("%w: %w", ErrUnavailable, errors.Join(errs...))
}

// GetUTXOs returns the confirmed and unconfirmed UTXOs for address.
func (c *Client) GetUTXOs(ctx context.Context, address string) ([]UTXO, error) {
	var out []UTXO
	err := c.do(ctx, func(ctx context.Context, p *provider) error {
		resp, err := c.get(ctx, p, "/address/"+address+"/utxo")
		if err != nil {
			return err
		}
		defer resp.Close()
		return json.NewDecoder(resp).Decode(&out)
	})
	return out, err
}

// GetTransaction fetches a transaction's confirmation status and inputs,
// used to walk a proposal's ancestor chain during RBF/reorg handling.
func (c *Client) GetTransaction(ctx context.Context, txid string) (*TxInfo, error) {
	var out TxInfo
	err := c.do(ctx, func(ctx context.Context, p *provider) error {
		resp, err := c.get(ctx, p, "/tx/"+txid)
		if err != nil {
			return err
		}
		defer resp.Close()
		return json.NewDecoder(resp).Decode(&out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetBlock fetches a block's height and parent hash, used to walk backward
// through ancestors when the monitor detects a reorg.
func (c *Client) GetBlock(ctx context.Context, hash string) (*BlockInfo, error) {
	var out BlockInfo
	err := c.do(ctx, func(ctx context.Context, p *provider) error {
		resp, err := c.get(ctx, p, "/block/"+hash)
		if err != nil {
			return err
		}
		defer resp.Close()
		return json.NewDecoder(resp).Decode(&out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetBlockTxIDs fetches every transaction id confirmed in a block.
func (c *Client) GetBlockTxIDs(ctx context.Context, hash string) ([]string, error) {
	var out []string
	err := c.do(ctx, func(ctx context.Context, p *provider) error {
		resp, err := c.get(ctx, p, "/block/"+hash+"/txids")
		if err != nil {
			return err
		}
		defer resp.Close()
		return json.NewDecoder(resp).Decode(&out)
	})
	return out, err
}

// EstimateFees returns a confirmation-target -> sat/vByte map, mirroring
// Esplora's /fee-estimates endpoint.
func (c *Client) EstimateFees(ctx context.Context) (map[int]float64, error) {
	var raw map[string]float64
	err := c.do(ctx, func(ctx context.Context, p *provider) error {
		resp, err := c.get(ctx, p, "/fee-estimates")
		if err != nil {
			return err
		}
		defer resp.Close()
		return json.NewDecoder(resp).Decode(&raw)
	})
	if err != nil {
		return nil, err
	}

	out := make(map[int]float64, len(raw))
	for k, v := range raw {
		target, convErr := strconv.Atoi(k)
		if convErr != nil {
			continue
		}
		out[target] = v
	}
	return out, nil
}

// GetTipHeight returns the current chain tip height, mirroring Esplora's
// /blocks/tip/height endpoint. Lets callers turn a UTXO's block_height into
// an actual confirmation count instead of a bare confirmed/unconfirmed flag.
func (c *Client) GetTipHeight(ctx context.Context) (int64, error) {
	var height int64
	err := c.do(ctx, func(ctx context.Context, p *provider) error {
		resp, err := c.get(ctx, p, "/blocks/tip/height")
		if err != nil {
			return err
		}
		defer resp.Close()
		body, err := io.ReadAll(resp)
		if err != nil {
			return fmt.Errorf("read tip height: %w", err)
		}
		h, err := strconv.ParseInt(strings.TrimSpace(string(body)), 10, 64)
		if err != nil {
			return fmt.Errorf("parse tip height %q: %w", body, err)
		}
		height = h
		return nil
	})
	return height, err
}

// Broadcast submits a raw signed transaction hex string and returns its txid.
func (c *Client) Broadcast(ctx context.Context, rawHex string) (string, error) {
	var txid string
	err := c.do(ctx, func(ctx context.Context, p *provider) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/tx", strings.NewReader(rawHex))
		if err != nil {
			return fmt.Errorf("create broadcast request: %w", err)
		}
		req.Header.Set("Content-Type", "text/plain")

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("broadcast request: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read broadcast response: %w", err)
		}

		if resp.StatusCode == http.StatusBadRequest {
			return fmt.Errorf("%w: %s", ErrBadTransaction, strings.TrimSpace(string(body)))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("broadcast HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}

		txid = strings.TrimSpace(string(body))
		return nil
	})
	return txid, err
}

func (c *Client) get(ctx context.Context, p *provider, path string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		resp.Body.Close()
		return nil, config.ErrExplorerRateLimit
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("HTTP %d from %s", resp.StatusCode, p.baseURL)
	}
	return resp.Body, nil
}
