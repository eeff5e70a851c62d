package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/britej3/Freq-trader/internal/domain"
)

type submitResult int

const (
	submitPlaced submitResult = iota
	submitRejected
	submitUnknown
)

// leg drives one order from submission to a terminal (or explicitly
// unresolved) state.
type leg struct {
	venue          domain.Venue
	order          domain.Order
	retry          RetryPolicy
	poll           time.Duration
	timeout        time.Duration
	resolveTimeout time.Duration

	// failed is closed when this leg ends with nothing filled; sibling is
	// the other leg's failed channel.
	failed  chan struct{}
	sibling <-chan struct{}

	unresolved bool
	err        error
	log        *slog.Logger
}

func (c *Coordinator) newLeg(v domain.Venue, req domain.OrderRequest, log *slog.Logger) *leg {
	return &leg{
		venue:          v,
		order:          domain.Order{OrderRequest: req, State: domain.OrderPending},
		retry:          c.cfg.Retry,
		poll:           c.cfg.PollInterval,
		timeout:        c.timeoutFor(req.Venue),
		resolveTimeout: c.cfg.ResolveTimeout,
		failed:         make(chan struct{}),
		log: log.With(
			slog.String("venue", req.Venue),
			slog.String("side", string(req.Side)),
			slog.String("token", req.Token),
		),
	}
}

func (l *leg) result() domain.LegResult {
	r := domain.LegResult{Order: l.order, Unresolved: l.unresolved}
	if l.err != nil {
		r.Error = l.err.Error()
	}
	return r
}

func (l *leg) run(ctx context.Context) {
	defer l.signal()

	legCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	l.order.SubmittedAt = time.Now().UTC()
	switch res, err := l.submit(legCtx); res {
	case submitRejected:
		l.order.State = domain.OrderFailed
		l.err = err
		l.log.WarnContext(ctx, "order rejected", slog.String("error", err.Error()))
		return
	case submitUnknown:
		l.log.WarnContext(ctx, "submit unconfirmed, resolving by token", slog.Int("attempts", l.order.Attempts))
		l.resolve(ctx, "submit unconfirmed")
		return
	}

	if l.track(legCtx) {
		return
	}

	reason := "timeout"
	select {
	case <-l.sibling:
		reason = "sibling leg failed"
	default:
		if ctx.Err() != nil {
			reason = "cancelled"
		}
	}
	l.log.WarnContext(ctx, "leg not terminal, resolving", slog.String("reason", reason))
	l.resolve(ctx, reason)
}

// signal closes failed when the leg definitively ended without filling.
func (l *leg) signal() {
	if !l.unresolved && l.order.State.Terminal() && l.order.FilledSize.IsZero() {
		close(l.failed)
	}
}

func (l *leg) submit(ctx context.Context) (submitResult, error) {
	var lastErr error
	for attempt := 1; attempt <= l.retry.attempts(); attempt++ {
		l.order.Attempts = attempt
		h, err := l.venue.SubmitOrder(ctx, l.order.OrderRequest)
		if err == nil {
			l.order.ExchangeID = h.ExchangeID
			return submitPlaced, nil
		}
		lastErr = err
		if !domain.IsTransport(err) && ctx.Err() == nil {
			return submitRejected, err
		}
		l.log.WarnContext(ctx, "submit failed",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		if attempt == l.retry.attempts() || !sleep(ctx, l.sibling, l.retry.delay(attempt)) {
			break
		}
	}
	return submitUnknown, lastErr
}

// track polls until the order is terminal (true) or until the leg times out
// or the sibling fails (false).
func (l *leg) track(ctx context.Context) bool {
	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		st, err := l.venue.OrderStatus(ctx, l.order.Handle())
		if err == nil {
			l.order.Apply(st)
			if st.State.Terminal() {
				return true
			}
		} else if !errors.Is(err, domain.ErrOrderNotFound) && !domain.IsTransport(err) && ctx.Err() == nil {
			l.log.WarnContext(ctx, "status check failed", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			return false
		case <-l.sibling:
			return false
		case <-ticker.C:
		}
	}
}

// resolve settles a leg whose fate is unknown: ask for status first, cancel
// only if it is still working, then read the final fill.
func (l *leg) resolve(parent context.Context, reason string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), l.resolveTimeout)
	defer cancel()
	h := l.order.Handle()

	st, err := l.statusWithRetry(ctx, h)
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		l.order.State = domain.OrderFailed
		l.err = fmt.Errorf("%s: order never reached venue", reason)
		return
	case err == nil:
		l.order.Apply(st)
		if st.State.Terminal() {
			return
		}
	}

	cerr := l.cancelWithRetry(ctx, h)
	if cerr != nil && (domain.IsTransport(cerr) || ctx.Err() != nil) {
		l.unresolved = true
		l.err = fmt.Errorf("%s: cancel failed: %w", reason, cerr)
		l.log.ErrorContext(ctx, "leg unresolved", slog.String("error", cerr.Error()))
		return
	}

	// Cancel accepted, or refused because the order already finished.
	for {
		final, ferr := l.venue.OrderStatus(ctx, h)
		switch {
		case ferr == nil:
			l.order.Apply(final)
			if final.State.Terminal() {
				l.err = errors.New(reason)
				return
			}
		case errors.Is(ferr, domain.ErrOrderNotFound):
			l.order.State = domain.OrderFailed
			l.err = fmt.Errorf("%s: order never reached venue", reason)
			return
		}
		if cerr != nil || !sleep(ctx, nil, l.poll) {
			l.unresolved = true
			l.err = fmt.Errorf("%s: order still working after cancel", reason)
			if cerr != nil {
				l.err = fmt.Errorf("%s: cancel refused and order still working: %w", reason, cerr)
			}
			l.log.ErrorContext(ctx, "leg unresolved", slog.String("error", l.err.Error()))
			return
		}
	}
}

func (l *leg) statusWithRetry(ctx context.Context, h domain.OrderHandle) (domain.OrderStatus, error) {
	var lastErr error
	for attempt := 1; attempt <= l.retry.attempts(); attempt++ {
		st, err := l.venue.OrderStatus(ctx, h)
		if err == nil || !domain.IsTransport(err) {
			return st, err
		}
		lastErr = err
		if attempt == l.retry.attempts() || !sleep(ctx, nil, l.retry.delay(attempt)) {
			break
		}
	}
	return domain.OrderStatus{}, lastErr
}

func (l *leg) cancelWithRetry(ctx context.Context, h domain.OrderHandle) error {
	var lastErr error
	for attempt := 1; attempt <= l.retry.attempts(); attempt++ {
		err := l.venue.CancelOrder(ctx, h)
		if err == nil || !domain.IsTransport(err) {
			return err
		}
		lastErr = err
		if attempt == l.retry.attempts() || !sleep(ctx, nil, l.retry.delay(attempt)) {
			break
		}
	}
	return lastErr
}
