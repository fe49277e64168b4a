package explorer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

// SocketEvent is a single message pushed by the explorer's websocket feed —
// either a newly broadcast/relayed transaction or a new block.
type SocketEvent struct {
	Type string          `json:"type"` // "tx" or "block"
	Data json.RawMessage `json:"data"`
}

// SocketTxData is the payload of a "tx" event.
type SocketTxData struct {
	TxID string   `json:"txid"`
	Vin  []string `json:"vin"`  // input addresses, best-effort
	Vout []string `json:"vout"` // output addresses
	RBF  bool     `json:"rbf"`
}

// SocketBlockData is the payload of a "block" event.
type SocketBlockData struct {
	Hash   string `json:"hash"`
	Height int64  `json:"height"`
}

const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
	pingInterval       = 30 * time.Second
)

// Subscriber maintains a resilient websocket connection to an explorer's
// event feed, reconnecting with backoff on drop, and delivers decoded
// events to a channel for the blockchain monitor to consume.
type Subscriber struct {
	url string
}

// NewSubscriber builds a Subscriber for the given websocket URL.
func NewSubscriber(url string) *Subscriber {
	return &Subscriber{url: url}
}

// Run connects and redelivers events on events until ctx is cancelled,
// reconnecting with exponential backoff whenever the connection drops.
func (s *Subscriber) Run(ctx context.Context, events chan<- SocketEvent) {
	delay := reconnectBaseDelay
	for {
		if ctx.Err() != nil {
			return
		}

		err := s.runOnce(ctx, events)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			slog.Warn("explorer socket disconnected, reconnecting", "url", s.url, "error", err, "delay", delay)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		delay *= 2
		if delay > reconnectMaxDelay {
			delay = reconnectMaxDelay
		}
	}
}

func (s *Subscriber) runOnce(ctx context.Context, events chan<- SocketEvent) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial explorer socket: %w", err)
	}
	defer conn.Close()

	slog.Info("explorer socket connected", "url", s.url)

	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()
	defer func() { <-done }()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var evt SocketEvent
		if err := conn.ReadJSON(&evt); err != nil {
			return fmt.Errorf("read explorer socket message: %w", err)
		}

		select {
		case events <- evt:
		case <-ctx.Done():
			return nil
		default:
			slog.Warn("explorer socket event dropped, consumer backlogged", "type", evt.Type)
		}
	}
}
