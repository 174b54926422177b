// Package payment manages the invoice sub-flow: an expiry countdown anchored
// to the invoice deadline, and a low-frequency polling fallback in case the
// push-based verification event is dropped. Polling only ever detects — the
// session transition stays gated on the push event so state has one source
// of truth.
package payment

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/satsplay/tictac/internal/api"
	"github.com/satsplay/tictac/internal/config"
	"github.com/satsplay/tictac/internal/gameclock"
)

// Request is one pending invoice. Exactly one may be pending at a time.
type Request struct {
	InvoiceID   string
	InvoiceText string
	AmountSats  int64
	AmountUSD   float64
	DisplayURL  string
	// ExpiresAt zero means the configured default expiry applies.
	ExpiresAt time.Time
}

// StatusChecker is the polling fallback's view of the collaborator.
type StatusChecker interface {
	CheckPayment(ctx context.Context, invoiceID string) (api.PaymentStatus, error)
}

// Callbacks are invoked from controller goroutines; the session machine
// reposts them onto its own loop.
type Callbacks struct {
	// OnTick reports whole seconds until invoice expiry.
	OnTick func(remaining int)
	// OnExpired fires exactly once when the expiry countdown reaches zero
	// with no verification.
	OnExpired func(invoiceID string)
	// OnDetected fires when polling sees a settled invoice. Diagnostic only.
	OnDetected func(invoiceID string)
}

// Controller runs at most one payment flow.
type Controller struct {
	checker   StatusChecker
	clock     clockwork.Clock
	reconcile *gameclock.Reconciler
	opts      config.PaymentConfig
	cb        Callbacks

	mu     sync.Mutex
	active *flow
}

type flow struct {
	invoiceID  string
	deadline   time.Time
	countdown  *gameclock.Countdown
	cancelPoll context.CancelFunc
}

func NewController(checker StatusChecker, clock clockwork.Clock, opts config.PaymentConfig, cb Callbacks) *Controller {
	return &Controller{
		checker:   checker,
		clock:     clock,
		reconcile: gameclock.NewReconciler(clock),
		opts:      opts,
		cb:        cb,
	}
}

// Begin starts the flow for req, replacing any prior flow.
func (c *Controller) Begin(ctx context.Context, req Request) {
	c.mu.Lock()
	c.stopLocked()

	deadline := req.ExpiresAt
	if deadline.IsZero() {
		deadline = c.clock.Now().Add(c.opts.Expiry)
	}

	pollCtx, cancelPoll := context.WithCancel(ctx)
	f := &flow{
		invoiceID:  req.InvoiceID,
		deadline:   deadline,
		cancelPoll: cancelPoll,
	}
	f.countdown = c.reconcile.Start(deadline, func(remaining int) {
		if c.cb.OnTick != nil {
			c.cb.OnTick(remaining)
		}
		if remaining == 0 {
			c.expire(f)
		}
	})
	c.active = f
	c.mu.Unlock()

	log.Info().
		Str("invoice_id", req.InvoiceID).
		Int64("amount_sats", req.AmountSats).
		Time("expires_at", deadline).
		Str("strategy", c.opts.Strategy).
		Msg("payment flow started")

	go c.poll(pollCtx, f)
}

// expire fires the expiry callback exactly once for f.
func (c *Controller) expire(f *flow) {
	c.mu.Lock()
	if c.active != f {
		c.mu.Unlock()
		return
	}
	c.active = nil
	f.cancelPoll()
	c.mu.Unlock()

	log.Info().Str("invoice_id", f.invoiceID).Msg("payment expired without verification")
	if c.cb.OnExpired != nil {
		c.cb.OnExpired(f.invoiceID)
	}
}

// VerifiedPush stops the flow after the authoritative push event. The caller
// (the session machine) performs the actual transition.
func (c *Controller) VerifiedPush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

// Cancel stops the flow without any callback, for explicit user abort.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

// Deadline reports the active flow's expiry for progress rendering.
func (c *Controller) Deadline() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return time.Time{}, false
	}
	return c.active.deadline, true
}

func (c *Controller) stopLocked() {
	if c.active == nil {
		return
	}
	c.active.countdown.Stop()
	c.active.cancelPoll()
	c.active = nil
}

// pollInterval returns the fallback cadence. Polling-primary trades traffic
// for faster perceived feedback; the transition is still push-gated.
func (c *Controller) pollInterval() time.Duration {
	if c.opts.Strategy == config.StrategyPollingPrimary {
		return time.Second
	}
	return c.opts.PollInterval
}

func (c *Controller) poll(ctx context.Context, f *flow) {
	ceiling := c.clock.Now().Add(c.opts.PollCeiling)
	ticker := c.clock.NewTicker(c.pollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}

		// Bounded regardless of outcome.
		if c.clock.Now().After(ceiling) {
			log.Debug().Str("invoice_id", f.invoiceID).Msg("payment polling ceiling reached")
			return
		}

		status, err := c.checker.CheckPayment(ctx, f.invoiceID)
		if err != nil {
			if ctx.Err() == nil {
				log.Debug().Err(err).Str("invoice_id", f.invoiceID).Msg("payment poll failed")
			}
			continue
		}
		if status.Verified() {
			c.detected(f)
			return
		}
	}
}

// detected stops the flow's timers; the push event still owns the
// transition.
func (c *Controller) detected(f *flow) {
	c.mu.Lock()
	if c.active != f {
		c.mu.Unlock()
		return
	}
	c.active = nil
	f.countdown.Stop()
	f.cancelPoll()
	c.mu.Unlock()

	log.Info().Str("invoice_id", f.invoiceID).Msg("payment detected by polling; awaiting push verification")
	if c.cb.OnDetected != nil {
		c.cb.OnDetected(f.invoiceID)
	}
}
