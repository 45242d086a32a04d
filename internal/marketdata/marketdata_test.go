package marketdata

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"scalper/internal/exchange"
	"scalper/internal/messages"
	"scalper/pkg/types"
)

type fakeFeed struct {
	bookCh  chan types.OrderBookSnapshot
	tradeCh chan types.TradeTick

	subscribed   []types.Symbol
	unsubscribed []types.Symbol
	closed       bool
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{
		bookCh:  make(chan types.OrderBookSnapshot, 8),
		tradeCh: make(chan types.TradeTick, 8),
	}
}

func (f *fakeFeed) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeFeed) Subscribe(symbol types.Symbol, topics ...exchange.Topic) error {
	f.subscribed = append(f.subscribed, symbol)
	return nil
}

func (f *fakeFeed) Unsubscribe(symbol types.Symbol, topics ...exchange.Topic) error {
	f.unsubscribed = append(f.unsubscribed, symbol)
	return nil
}

func (f *fakeFeed) BookEvents() <-chan types.OrderBookSnapshot { return f.bookCh }
func (f *fakeFeed) TradeEvents() <-chan types.TradeTick        { return f.tradeCh }
func (f *fakeFeed) Close() error                               { f.closed = true; return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestSwitchSymbolHotSwaps(t *testing.T) {
	feed := newFakeFeed()
	inbox := make(chan any, 4)
	toStrategy := make(chan any, 4)

	md := New(feed, inbox, toStrategy, 500, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { md.Run(ctx); close(done) }()

	inbox <- messages.SwitchSymbol{Symbol: "BTCUSDT"}
	inbox <- messages.SwitchSymbol{Symbol: "ETHUSDT"}

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	if len(feed.subscribed) != 2 || feed.subscribed[1] != "ETHUSDT" {
		t.Fatalf("expected two subscribes ending at ETHUSDT, got %v", feed.subscribed)
	}
	if len(feed.unsubscribed) != 1 || feed.unsubscribed[0] != "BTCUSDT" {
		t.Fatalf("expected unsubscribe from BTCUSDT, got %v", feed.unsubscribed)
	}
	if !feed.closed {
		t.Fatalf("expected feed to be closed on shutdown")
	}
}

func TestDropsStaleBookEvent(t *testing.T) {
	feed := newFakeFeed()
	inbox := make(chan any, 4)
	toStrategy := make(chan any, 4)

	md := New(feed, inbox, toStrategy, 500, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go md.Run(ctx)

	stale := types.NewOrderBookSnapshot("BTCUSDT", time.Now().Add(-time.Second).UnixMilli(),
		decimal.NewFromInt(100), decimal.NewFromInt(101), decimal.NewFromInt(1), decimal.NewFromInt(1))
	feed.bookCh <- stale

	select {
	case msg := <-toStrategy:
		t.Fatalf("expected stale event to be dropped, got %v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestForwardsFreshBookEvent(t *testing.T) {
	feed := newFakeFeed()
	inbox := make(chan any, 4)
	toStrategy := make(chan any, 4)

	md := New(feed, inbox, toStrategy, 500, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go md.Run(ctx)

	fresh := types.NewOrderBookSnapshot("BTCUSDT", time.Now().UnixMilli(),
		decimal.NewFromInt(100), decimal.NewFromInt(101), decimal.NewFromInt(1), decimal.NewFromInt(1))
	feed.bookCh <- fresh

	select {
	case msg := <-toStrategy:
		ob, ok := msg.(messages.OrderBook)
		if !ok || ob.Snapshot.Symbol != "BTCUSDT" {
			t.Fatalf("unexpected message: %#v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("expected fresh book event to be forwarded")
	}
}

func TestDropsOnFullStrategyInbox(t *testing.T) {
	feed := newFakeFeed()
	inbox := make(chan any, 4)
	toStrategy := make(chan any) // unbuffered, immediately full without a reader

	md := New(feed, inbox, toStrategy, 500, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go md.Run(ctx)

	fresh := types.NewOrderBookSnapshot("BTCUSDT", time.Now().UnixMilli(),
		decimal.NewFromInt(100), decimal.NewFromInt(101), decimal.NewFromInt(1), decimal.NewFromInt(1))
	feed.bookCh <- fresh

	// No reader on toStrategy: the non-blocking send must drop rather than wedge.
	time.Sleep(100 * time.Millisecond)
}
