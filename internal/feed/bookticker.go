// Package feed streams top-of-book quotes from venue websockets into the
// market store.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/britej3/Freq-trader/internal/domain"
)

// Sink receives quotes; market.Store implements it.
type Sink interface {
	Push(venue string, pair domain.Pair, bid, ask, bidSize, askSize decimal.Decimal, seq uint64, ts time.Time) error
}

// Config describes one venue stream.
type Config struct {
	Venue string
	// URL is the combined-stream endpoint, e.g.
	// wss://stream.binance.com:9443/stream. Stream names are appended.
	URL   string
	Pairs []domain.Pair

	HandshakeTimeout time.Duration
	// ReadTimeout drops a silent connection; pings keep a healthy one alive.
	ReadTimeout   time.Duration
	PingPeriod    time.Duration
	ReconnectBase time.Duration
	ReconnectMax  time.Duration
}

func (c *Config) setDefaults() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 15 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.ReadTimeout {
		c.PingPeriod = c.ReadTimeout * 9 / 10
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = 2 * time.Second
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = 60 * time.Second
	}
}

const writeWait = 10 * time.Second

// BookTickerFeed subscribes to <symbol>@bookTicker for each pair and pushes
// every update into the sink, reconnecting with backoff until ctx ends.
type BookTickerFeed struct {
	cfg     Config
	sink    Sink
	mirror  domain.SnapshotCache
	symbols map[string]domain.Pair
	now     func() time.Time
	logger  *slog.Logger

	mu    sync.Mutex
	stats Stats
}

// Stats counts feed activity.
type Stats struct {
	Connects  int       `json:"connects"`
	Updates   int       `json:"updates"`
	Stale     int       `json:"stale"`
	Malformed int       `json:"malformed"`
	LastAt    time.Time `json:"last_at"`
}

// Option configures a feed.
type Option func(*BookTickerFeed)

// WithMirror copies applied snapshots into an external cache.
func WithMirror(m domain.SnapshotCache) Option { return func(f *BookTickerFeed) { f.mirror = m } }

// NewBookTickerFeed creates a feed for cfg.Pairs on cfg.Venue.
func NewBookTickerFeed(cfg Config, sink Sink, logger *slog.Logger, opts ...Option) *BookTickerFeed {
	cfg.setDefaults()
	f := &BookTickerFeed{
		cfg:     cfg,
		sink:    sink,
		symbols: make(map[string]domain.Pair, len(cfg.Pairs)),
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger.With(slog.String("component", "feed"), slog.String("venue", cfg.Venue)),
	}
	for _, p := range cfg.Pairs {
		f.symbols[p.Symbol()] = p
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Venue is the venue this feed writes quotes for.
func (f *BookTickerFeed) Venue() string { return f.cfg.Venue }

// Stats returns a copy of the counters.
func (f *BookTickerFeed) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

// StreamURL is the combined-stream URL for the configured pairs.
func (f *BookTickerFeed) StreamURL() (string, error) {
	u, err := url.Parse(f.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("feed: %s: parse url: %w", f.cfg.Venue, err)
	}
	names := make([]string, 0, len(f.cfg.Pairs))
	for _, p := range f.cfg.Pairs {
		names = append(names, strings.ToLower(p.Symbol())+"@bookTicker")
	}
	q := u.Query()
	q.Set("streams", strings.Join(names, "/"))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Run streams until ctx is cancelled. It only returns ctx.Err() or a
// configuration error.
func (f *BookTickerFeed) Run(ctx context.Context) error {
	if len(f.cfg.Pairs) == 0 {
		f.logger.InfoContext(ctx, "no pairs configured, feed idle")
		<-ctx.Done()
		return ctx.Err()
	}
	streamURL, err := f.StreamURL()
	if err != nil {
		return err
	}

	delay := f.cfg.ReconnectBase
	for {
		start := f.now()
		err := f.runConnection(ctx, streamURL)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// A connection that stayed up for a while resets the backoff.
		if f.now().Sub(start) > f.cfg.ReconnectMax {
			delay = f.cfg.ReconnectBase
		}
		f.logger.WarnContext(ctx, "feed disconnected, reconnecting",
			slog.String("error", errString(err)),
			slog.Duration("delay", delay),
		)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		delay = min(delay*2, f.cfg.ReconnectMax)
	}
}

func (f *BookTickerFeed) runConnection(ctx context.Context, streamURL string) error {
	dialer := websocket.Dialer{HandshakeTimeout: f.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, streamURL, nil)
	if err != nil {
		return fmt.Errorf("feed: %s: dial: %w", f.cfg.Venue, err)
	}
	defer conn.Close()

	f.mu.Lock()
	f.stats.Connects++
	f.mu.Unlock()
	f.logger.InfoContext(ctx, "feed connected", slog.Int("pairs", len(f.cfg.Pairs)))

	_ = conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))
	})

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go f.pingLoop(connCtx, conn)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("feed: %s: read: %w", f.cfg.Venue, errors.Join(domain.ErrWSDisconnect, err))
		}
		_ = conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))
		f.handle(ctx, msg)
	}
}

// pingLoop keeps the connection alive and closes it when ctx ends so the
// blocked read returns.
func (f *BookTickerFeed) pingLoop(ctx context.Context, conn *websocket.Conn) {
	t := time.NewTicker(f.cfg.PingPeriod)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			_ = conn.Close()
			return
		case <-t.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (f *BookTickerFeed) handle(ctx context.Context, msg []byte) {
	snap, err := f.parse(msg)
	if err != nil {
		f.count(func(s *Stats) { s.Malformed++ })
		f.logger.DebugContext(ctx, "skipping message", slog.String("error", err.Error()))
		return
	}

	err = f.sink.Push(snap.Venue, snap.Pair, snap.BidPrice, snap.AskPrice, snap.BidSize, snap.AskSize, snap.Sequence, snap.Timestamp)
	var stale *domain.StaleDataError
	switch {
	case errors.As(err, &stale):
		f.count(func(s *Stats) { s.Stale++ })
		f.logger.DebugContext(ctx, "stale quote dropped",
			slog.String("pair", snap.Pair.String()),
			slog.Uint64("seq", stale.Sequence),
			slog.Uint64("current", stale.Current),
		)
		return
	case err != nil:
		f.logger.WarnContext(ctx, "push failed", slog.String("error", err.Error()))
		return
	}
	f.count(func(s *Stats) { s.Updates++; s.LastAt = snap.Timestamp })

	if f.mirror != nil {
		if err := f.mirror.Mirror(ctx, snap); err != nil {
			f.logger.DebugContext(ctx, "mirror failed", slog.String("error", err.Error()))
		}
	}
}

func (f *BookTickerFeed) count(fn func(*Stats)) {
	f.mu.Lock()
	fn(&f.stats)
	f.mu.Unlock()
}

// bookTicker is the payload of <symbol>@bookTicker. E is only sent by some
// venues (futures); spot updates are stamped on arrival.
type bookTicker struct {
	UpdateID uint64 `json:"u"`
	Symbol   string `json:"s"`
	Bid      string `json:"b"`
	BidSize  string `json:"B"`
	Ask      string `json:"a"`
	AskSize  string `json:"A"`
	Event    int64  `json:"E"`
}

type envelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

func (f *BookTickerFeed) parse(msg []byte) (domain.MarketSnapshot, error) {
	var env envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("decode envelope: %w", err)
	}
	raw := env.Data
	if len(raw) == 0 {
		raw = msg
	}
	var bt bookTicker
	if err := json.Unmarshal(raw, &bt); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("decode bookTicker: %w", err)
	}
	pair, ok := f.symbols[strings.ToUpper(bt.Symbol)]
	if !ok {
		return domain.MarketSnapshot{}, fmt.Errorf("unsubscribed symbol %q", bt.Symbol)
	}

	snap := domain.MarketSnapshot{Venue: f.cfg.Venue, Pair: pair, Sequence: bt.UpdateID, Timestamp: f.now()}
	if bt.Event > 0 {
		snap.Timestamp = time.UnixMilli(bt.Event).UTC()
	}
	for _, fld := range []struct {
		name string
		src  string
		dst  *decimal.Decimal
	}{
		{"b", bt.Bid, &snap.BidPrice},
		{"B", bt.BidSize, &snap.BidSize},
		{"a", bt.Ask, &snap.AskPrice},
		{"A", bt.AskSize, &snap.AskSize},
	} {
		v, err := decimal.NewFromString(fld.src)
		if err != nil {
			return domain.MarketSnapshot{}, fmt.Errorf("field %s: %w", fld.name, err)
		}
		*fld.dst = v
	}
	return snap, nil
}

func errString(err error) string {
	if err == nil {
		return "connection closed"
	}
	return err.Error()
}
