// ws.go implements the streaming half of the exchange adapter.
//
// The venue's public topics (orderbook.1.<symbol>, publicTrade.<symbol>)
// carry everything the pipeline needs. MarketData subscribes to exactly one
// symbol at a time and hot-swaps it on a Scanner switch, so WSFeed tracks
// the small live topic set rather than an arbitrary subscribed-ID universe.
//
// The connection auto-reconnects after a fixed backoff (default 5s) and
// re-subscribes to the current topics on reconnect. The read deadline is a
// multiple of the keepalive interval so a silently dead server is detected
// within a few missed pings.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"scalper/pkg/types"
)

const (
	defaultPingInterval  = 20 * time.Second
	defaultReconnectWait = 5 * time.Second
	writeTimeout         = 10 * time.Second
	bookBufferSize       = 256
	tradeBufferSize      = 256
)

// WSFeed is the concrete StreamFeed implementation.
type WSFeed struct {
	url           string
	pingInterval  time.Duration
	reconnectWait time.Duration
	conn          *websocket.Conn
	connMu        sync.Mutex

	topicsMu sync.RWMutex
	topics   map[string]bool // "orderbook.1.BTCUSDT", "publicTrade.BTCUSDT", ...

	bookCh  chan types.OrderBookSnapshot
	tradeCh chan types.TradeTick

	logger *slog.Logger
}

// NewWSFeed creates a streaming feed against wsURL, pinging every
// pingInterval and waiting reconnectWait between dropped-connection
// reconnect attempts. A zero duration falls back to the defaults
// (20s keepalive, 5s reconnect).
func NewWSFeed(wsURL string, pingInterval, reconnectWait time.Duration, logger *slog.Logger) *WSFeed {
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	if reconnectWait <= 0 {
		reconnectWait = defaultReconnectWait
	}
	return &WSFeed{
		url:           wsURL,
		pingInterval:  pingInterval,
		reconnectWait: reconnectWait,
		topics:        make(map[string]bool),
		bookCh:        make(chan types.OrderBookSnapshot, bookBufferSize),
		tradeCh:       make(chan types.TradeTick, tradeBufferSize),
		logger:        logger.With("component", "ws_feed"),
	}
}

func (f *WSFeed) BookEvents() <-chan types.OrderBookSnapshot { return f.bookCh }
func (f *WSFeed) TradeEvents() <-chan types.TradeTick        { return f.tradeCh }

// Run connects and maintains the connection with auto-reconnect. Blocks
// until ctx is cancelled.
func (f *WSFeed) Run(ctx context.Context) error {
	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("websocket disconnected, reconnecting", "error", err, "backoff", f.reconnectWait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.reconnectWait):
		}
	}
}

func topicsFor(symbol types.Symbol, kinds ...Topic) []string {
	out := make([]string, 0, len(kinds))
	for _, k := range kinds {
		switch k {
		case TopicBook1:
			out = append(out, "orderbook.1."+string(symbol))
		case TopicTrades:
			out = append(out, "publicTrade."+string(symbol))
		}
	}
	return out
}

// Subscribe adds (symbol, topic) pairs to the live subscription.
func (f *WSFeed) Subscribe(symbol types.Symbol, kinds ...Topic) error {
	args := topicsFor(symbol, kinds...)

	f.topicsMu.Lock()
	for _, a := range args {
		f.topics[a] = true
	}
	f.topicsMu.Unlock()

	return f.writeJSON(map[string]any{"op": "subscribe", "args": args})
}

// Unsubscribe removes (symbol, topic) pairs from the live subscription.
func (f *WSFeed) Unsubscribe(symbol types.Symbol, kinds ...Topic) error {
	args := topicsFor(symbol, kinds...)

	f.topicsMu.Lock()
	for _, a := range args {
		delete(f.topics, a)
	}
	f.topicsMu.Unlock()

	return f.writeJSON(map[string]any{"op": "unsubscribe", "args": args})
}

// Close gracefully closes the connection.
func (f *WSFeed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *WSFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if err := f.resubscribeAll(); err != nil {
		return fmt.Errorf("resubscribe: %w", err)
	}

	f.logger.Info("websocket connected")

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(4*f.pingInterval + 10*time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		f.dispatchMessage(msg)
	}
}

func (f *WSFeed) resubscribeAll() error {
	f.topicsMu.RLock()
	args := make([]string, 0, len(f.topics))
	for t := range f.topics {
		args = append(args, t)
	}
	f.topicsMu.RUnlock()

	if len(args) == 0 {
		return nil
	}
	return f.writeJSON(map[string]any{"op": "subscribe", "args": args})
}

func (f *WSFeed) dispatchMessage(data []byte) {
	var envelope struct {
		Topic string          `json:"topic"`
		TS    int64           `json:"ts"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || envelope.Topic == "" {
		f.logger.Debug("ignoring non-topic ws message", "data", string(data))
		return
	}

	switch {
	case hasPrefix(envelope.Topic, "orderbook."):
		var raw wsBookPayload
		if err := json.Unmarshal(envelope.Data, &raw); err != nil {
			f.logger.Error("unmarshal book event", "error", err)
			return
		}
		snap, ok := raw.toSnapshot(envelope.TS)
		if !ok {
			return
		}
		select {
		case f.bookCh <- snap:
		default:
			f.logger.Warn("book channel full, dropping event", "symbol", snap.Symbol)
		}

	case hasPrefix(envelope.Topic, "publicTrade."):
		var raws []wsTradePayload
		if err := json.Unmarshal(envelope.Data, &raws); err != nil {
			f.logger.Error("unmarshal trade event", "error", err)
			return
		}
		for _, raw := range raws {
			tick, ok := raw.toTick()
			if !ok {
				continue
			}
			select {
			case f.tradeCh <- tick:
			default:
				f.logger.Warn("trade channel full, dropping event", "symbol", tick.Symbol)
			}
		}

	default:
		f.logger.Debug("unknown ws topic", "topic", envelope.Topic)
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func (f *WSFeed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(f.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeJSON(map[string]any{"op": "ping"}); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (f *WSFeed) writeJSON(v any) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

// --- wire payload shapes ---

type wsBookPayload struct {
	Symbol string     `json:"s"`
	Bids   [][]string `json:"b"`
	Asks   [][]string `json:"a"`
}

// toSnapshot builds a snapshot stamped with the exchange's own envelope
// timestamp, so downstream staleness checks measure real wire age. A zero
// ts (malformed message) falls back to receipt time.
func (p wsBookPayload) toSnapshot(tsMs int64) (types.OrderBookSnapshot, bool) {
	if len(p.Bids) == 0 || len(p.Asks) == 0 {
		return types.OrderBookSnapshot{}, false
	}
	if tsMs == 0 {
		tsMs = time.Now().UnixMilli()
	}
	bid := mustDecimal(p.Bids[0][0])
	bidSize := mustDecimal(p.Bids[0][1])
	ask := mustDecimal(p.Asks[0][0])
	askSize := mustDecimal(p.Asks[0][1])
	return types.NewOrderBookSnapshot(types.Symbol(p.Symbol), tsMs, bid, ask, bidSize, askSize), true
}

type wsTradePayload struct {
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	Size      string `json:"v"`
	Side      string `json:"S"`
	Timestamp int64  `json:"T"`
}

func (p wsTradePayload) toTick() (types.TradeTick, bool) {
	if p.Price == "" {
		return types.TradeTick{}, false
	}
	side := types.Buy
	if p.Side == "Sell" {
		side = types.Sell
	}
	ts := p.Timestamp
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	return types.TradeTick{
		Symbol:      types.Symbol(p.Symbol),
		Price:       mustDecimal(p.Price),
		Size:        mustDecimal(p.Size),
		TimestampMs: ts,
		Side:        side,
	}, true
}
