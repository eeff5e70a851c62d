// Package rest is a domain.Venue for Binance-style spot REST APIs: signed
// query strings, an API-key header, and client order ids used as the
// idempotency token.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/britej3/Freq-trader/internal/crypto"
	"github.com/britej3/Freq-trader/internal/domain"
)

const (
	orderPath    = "/api/v3/order"
	apiKeyHeader = "X-MBX-APIKEY"

	// Exchange error codes that carry meaning for the coordinator.
	codeDuplicateOrder = -2010
	codeCancelRejected = -2011
	codeNoSuchOrder    = -2013
)

// Config configures one REST venue.
type Config struct {
	Name        string
	BaseURL     string
	Auth        *crypto.HMACAuth
	Timeout     time.Duration
	TimeInForce string
	// FeeRate is charged on filled quote notional. Order queries do not
	// report commissions, so fees are booked at this rate in the quote asset.
	FeeRate decimal.Decimal
	// RateLimit requests per RateWindow, shared across instances through the
	// limiter. Zero disables throttling.
	RateLimit  int
	RateWindow time.Duration
}

// Venue implements domain.Venue over HTTP.
type Venue struct {
	cfg     Config
	http    *http.Client
	limiter domain.RateLimiter
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Venue.
type Option func(*Venue)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option { return func(v *Venue) { v.http = c } }

// WithRateLimiter throttles requests through l.
func WithRateLimiter(l domain.RateLimiter) Option { return func(v *Venue) { v.limiter = l } }

// New creates a REST venue.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Venue {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.TimeInForce == "" {
		cfg.TimeInForce = "GTC"
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Second
	}
	v := &Venue{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		now:    time.Now,
		logger: logger.With(slog.String("component", "venue"), slog.String("venue", cfg.Name)),
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Name returns the venue name.
func (v *Venue) Name() string { return v.cfg.Name }

// SubmitOrder places a limit order with the token as client order id. A
// duplicate-id rejection means an earlier attempt landed; the existing order
// is looked up and returned.
func (v *Venue) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderHandle, error) {
	params := url.Values{
		"symbol":           {req.Pair.Symbol()},
		"side":             {strings.ToUpper(string(req.Side))},
		"type":             {"LIMIT"},
		"timeInForce":      {v.cfg.TimeInForce},
		"quantity":         {req.Size.String()},
		"price":            {req.Price.String()},
		"newClientOrderId": {req.Token},
		"newOrderRespType": {"RESULT"},
	}
	h := domain.OrderHandle{Venue: v.cfg.Name, Pair: req.Pair, Token: req.Token}

	var ord apiOrder
	err := v.do(ctx, http.MethodPost, params, "submit", &ord)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == codeDuplicateOrder && strings.Contains(strings.ToLower(apiErr.Msg), "duplicate") {
		v.logger.InfoContext(ctx, "duplicate client order id, resolving existing order", slog.String("token", req.Token))
		st, serr := v.OrderStatus(ctx, h)
		if serr != nil {
			return domain.OrderHandle{}, serr
		}
		h.ExchangeID = st.ExchangeID
		return h, nil
	}
	if err != nil {
		return domain.OrderHandle{}, err
	}
	h.ExchangeID = ord.exchangeID()
	return h, nil
}

// CancelOrder cancels by client order id.
func (v *Venue) CancelOrder(ctx context.Context, h domain.OrderHandle) error {
	return v.do(ctx, http.MethodDelete, url.Values{
		"symbol":            {h.Pair.Symbol()},
		"origClientOrderId": {h.Token},
	}, "cancel", nil)
}

// OrderStatus queries by client order id.
func (v *Venue) OrderStatus(ctx context.Context, h domain.OrderHandle) (domain.OrderStatus, error) {
	var ord apiOrder
	if err := v.do(ctx, http.MethodGet, url.Values{
		"symbol":            {h.Pair.Symbol()},
		"origClientOrderId": {h.Token},
	}, "status", &ord); err != nil {
		return domain.OrderStatus{}, err
	}
	st, err := ord.toStatus(h.Pair, v.cfg.FeeRate)
	if err != nil {
		return domain.OrderStatus{}, fmt.Errorf("rest: %s: status %s: %w", v.cfg.Name, h.Token, err)
	}
	return st, nil
}

// do signs and sends one request and decodes the response into out. Errors
// are classified for the coordinator: transport failures and 5xx are
// *domain.TransportError, unknown orders wrap domain.ErrOrderNotFound, and
// other 4xx wrap domain.ErrOrderRejected.
func (v *Venue) do(ctx context.Context, method string, params url.Values, op string, out any) error {
	if v.limiter != nil && v.cfg.RateLimit > 0 {
		if err := v.limiter.Wait(ctx, "venue:"+v.cfg.Name, v.cfg.RateLimit, v.cfg.RateWindow); err != nil {
			return &domain.TransportError{Venue: v.cfg.Name, Op: op, Err: err}
		}
	}

	query := v.cfg.Auth.SignedQuery(params, v.now())
	req, err := http.NewRequestWithContext(ctx, method, v.cfg.BaseURL+orderPath+"?"+query, nil)
	if err != nil {
		return fmt.Errorf("rest: %s: %s: build request: %w", v.cfg.Name, op, err)
	}
	req.Header.Set(apiKeyHeader, v.cfg.Auth.Key)

	start := v.now()
	resp, err := v.http.Do(req)
	if err != nil {
		return &domain.TransportError{Venue: v.cfg.Name, Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &domain.TransportError{Venue: v.cfg.Name, Op: op, Err: err}
	}
	v.logger.DebugContext(ctx, "venue request",
		slog.String("op", op),
		slog.Int("status", resp.StatusCode),
		slog.Duration("took", v.now().Sub(start)),
	)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("rest: %s: %s: decode: %w", v.cfg.Name, op, err)
		}
		return nil
	}
	return v.classify(op, resp.StatusCode, body)
}

func (v *Venue) classify(op string, status int, body []byte) error {
	apiErr := &APIError{Status: status}
	if json.Unmarshal(body, apiErr) != nil || apiErr.Msg == "" {
		apiErr.Msg = strings.TrimSpace(string(body))
	}

	switch {
	case status >= 500, status == http.StatusTooManyRequests, status == http.StatusTeapot:
		return &domain.TransportError{Venue: v.cfg.Name, Op: op, Err: apiErr}
	case apiErr.Code == codeNoSuchOrder, apiErr.Code == codeCancelRejected && strings.Contains(strings.ToLower(apiErr.Msg), "unknown order"):
		return fmt.Errorf("rest: %s: %s: %w: %w", v.cfg.Name, op, domain.ErrOrderNotFound, apiErr)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("rest: %s: %s: %w: %w", v.cfg.Name, op, domain.ErrUnauthorized, apiErr)
	case apiErr.Code == codeDuplicateOrder:
		return fmt.Errorf("rest: %s: %s: %w", v.cfg.Name, op, apiErr)
	}
	return fmt.Errorf("rest: %s: %s: %w: %w", v.cfg.Name, op, domain.ErrOrderRejected, apiErr)
}

var _ domain.Venue = (*Venue)(nil)
