package payment

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satsplay/tictac/internal/api"
	"github.com/satsplay/tictac/internal/config"
)

// stubChecker serves a fixed payment status and counts calls.
type stubChecker struct {
	status api.PaymentStatus
	calls  atomic.Int64
}

func (s *stubChecker) CheckPayment(ctx context.Context, invoiceID string) (api.PaymentStatus, error) {
	s.calls.Add(1)
	return s.status, nil
}

func testOpts() config.PaymentConfig {
	return config.PaymentConfig{
		Strategy:     config.StrategyPushPrimary,
		Expiry:       300 * time.Millisecond,
		PollInterval: 50 * time.Millisecond,
		PollCeiling:  5 * time.Second,
	}
}

func waitFor(t *testing.T, ch chan string, what string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		return ""
	}
}

func TestController_ExpiryFiresExactlyOnce(t *testing.T) {
	checker := &stubChecker{status: api.PaymentStatus{Success: true, Status: "pending"}}

	expired := make(chan string, 8)
	c := NewController(checker, clockwork.NewRealClock(), testOpts(), Callbacks{
		OnExpired: func(id string) { expired <- id },
	})

	c.Begin(context.Background(), Request{InvoiceID: "inv-1", InvoiceText: "lnbc1...", AmountSats: 50})

	assert.Equal(t, "inv-1", waitFor(t, expired, "expiry"))

	// No second firing, and the flow is gone.
	select {
	case <-expired:
		t.Fatal("expiry fired twice")
	case <-time.After(400 * time.Millisecond):
	}
	_, active := c.Deadline()
	assert.False(t, active)
}

func TestController_PollDetectionStopsFlowWithoutExpiry(t *testing.T) {
	checker := &stubChecker{status: api.PaymentStatus{Success: true, Status: "paid"}}

	detected := make(chan string, 8)
	expired := make(chan string, 8)
	opts := testOpts()
	opts.Expiry = 2 * time.Second
	c := NewController(checker, clockwork.NewRealClock(), opts, Callbacks{
		OnDetected: func(id string) { detected <- id },
		OnExpired:  func(id string) { expired <- id },
	})

	c.Begin(context.Background(), Request{InvoiceID: "inv-2"})

	assert.Equal(t, "inv-2", waitFor(t, detected, "poll detection"))

	select {
	case <-expired:
		t.Fatal("expiry fired after detection stopped the countdown")
	case <-time.After(2500 * time.Millisecond):
	}
}

func TestController_VerifiedPushStopsPolling(t *testing.T) {
	checker := &stubChecker{status: api.PaymentStatus{Success: true, Status: "pending"}}

	opts := testOpts()
	opts.Expiry = 10 * time.Second
	c := NewController(checker, clockwork.NewRealClock(), opts, Callbacks{})

	c.Begin(context.Background(), Request{InvoiceID: "inv-3"})
	time.Sleep(150 * time.Millisecond)
	c.VerifiedPush()

	settled := checker.calls.Load()
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, settled, checker.calls.Load(), "polling must stop on push verification")

	_, active := c.Deadline()
	assert.False(t, active)
}

func TestController_PollingStopsAtCeiling(t *testing.T) {
	checker := &stubChecker{status: api.PaymentStatus{Success: true, Status: "pending"}}

	opts := testOpts()
	opts.Expiry = 10 * time.Second
	opts.PollInterval = 20 * time.Millisecond
	opts.PollCeiling = 100 * time.Millisecond
	c := NewController(checker, clockwork.NewRealClock(), opts, Callbacks{})
	defer c.Cancel()

	c.Begin(context.Background(), Request{InvoiceID: "inv-4"})
	time.Sleep(300 * time.Millisecond)

	settled := checker.calls.Load()
	require.Greater(t, settled, int64(0), "polling should have run before the ceiling")
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, settled, checker.calls.Load(), "polling must stop at the ceiling")
}

func TestController_BeginReplacesPriorFlow(t *testing.T) {
	checker := &stubChecker{status: api.PaymentStatus{Success: true, Status: "pending"}}

	expired := make(chan string, 8)
	opts := testOpts()
	c := NewController(checker, clockwork.NewRealClock(), opts, Callbacks{
		OnExpired: func(id string) { expired <- id },
	})
	defer c.Cancel()

	c.Begin(context.Background(), Request{InvoiceID: "inv-old"})
	c.Begin(context.Background(), Request{InvoiceID: "inv-new"})

	// Only the replacement flow may expire.
	assert.Equal(t, "inv-new", waitFor(t, expired, "replacement expiry"))
	select {
	case id := <-expired:
		t.Fatalf("stale flow %s fired expiry", id)
	case <-time.After(400 * time.Millisecond):
	}
}

func TestController_ExplicitExpiresAtWins(t *testing.T) {
	checker := &stubChecker{status: api.PaymentStatus{Success: true, Status: "pending"}}

	clock := clockwork.NewRealClock()
	opts := testOpts()
	opts.Expiry = time.Hour
	c := NewController(checker, clock, opts, Callbacks{})
	defer c.Cancel()

	wantDeadline := clock.Now().Add(42 * time.Second)
	c.Begin(context.Background(), Request{InvoiceID: "inv-5", ExpiresAt: wantDeadline})

	got, active := c.Deadline()
	require.True(t, active)
	assert.Equal(t, wantDeadline, got)
}
