package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/satsplay/tictac/internal/channel"
	"github.com/satsplay/tictac/internal/gameclock"
	"github.com/satsplay/tictac/internal/history"
	"github.com/satsplay/tictac/internal/payment"
	"github.com/satsplay/tictac/internal/prefs"
)

// QRFetcher produces a displayable QR image for a BOLT11 invoice.
type QRFetcher interface {
	GenerateQR(ctx context.Context, invoice string) (string, error)
}

// PaymentController is the slice of the payment controller the machine uses.
type PaymentController interface {
	Begin(ctx context.Context, req payment.Request)
	VerifiedPush()
	Cancel()
}

// Machine owns the session model. All state lives on a single goroutine fed
// by an inbox of closures; channel handlers, countdown ticks and payment
// callbacks post into the inbox rather than touching the model directly.
type Machine struct {
	ch        *channel.Manager
	pay       PaymentController
	qr        QRFetcher
	reconcile *gameclock.Reconciler
	ledger    *history.Ledger
	prefs     *prefs.Store
	view      View

	inbox chan func()
	model Model

	turn  countdownSlot
	wait  countdownSlot
	match countdownSlot

	// paySeconds mirrors the payment controller's expiry countdown.
	paySeconds *int

	ctx context.Context
}

// countdownSlot holds one running countdown plus the state the snapshot
// needs. gen rejects ticks from a countdown that was already replaced:
// Stop does not wait for the tick goroutine, so a late tick can still land
// in the inbox after a restart.
type countdownSlot struct {
	countdown *gameclock.Countdown
	gen       uint64
	seconds   *int
	total     time.Duration
	deadline  time.Time
}

// Options carries the machine's collaborators. NewPayment is a factory so
// the controller can be given the machine's callbacks at construction time.
type Options struct {
	Channel    *channel.Manager
	NewPayment func(payment.Callbacks) PaymentController
	QR         QRFetcher
	Reconcile  *gameclock.Reconciler
	Ledger     *history.Ledger
	Prefs      *prefs.Store
	View       View
	AuthToken  string
	// LightningAddress pre-fills the payout address from config.
	LightningAddress string
}

func NewMachine(opts Options) *Machine {
	m := &Machine{
		ch:        opts.Channel,
		qr:        opts.QR,
		reconcile: opts.Reconcile,
		ledger:    opts.Ledger,
		prefs:     opts.Prefs,
		view:      opts.View,
		inbox:     make(chan func(), 64),
	}
	m.model.AuthToken = opts.AuthToken
	m.model.LightningAddress = opts.LightningAddress
	if opts.Prefs != nil {
		m.model.AcceptedTerms = opts.Prefs.AcceptedTerms()
		m.model.Bet = opts.Prefs.LastBet(BetOptions()[0])
	} else {
		m.model.Bet = BetOptions()[0]
	}

	for _, event := range InboundEvents {
		event := event
		m.ch.On(event, func(data json.RawMessage) {
			m.post(func() { m.applyServer(event, data) })
		})
	}
	m.ch.OnStatus(func(s channel.Status) {
		m.post(func() {
			if s.Connected {
				m.applyIntent(IntentConnected{ConnID: s.ConnectionID})
			} else {
				m.applyIntent(IntentDisconnected{Notice: s.Notice})
			}
		})
	})
	m.pay = opts.NewPayment(m.paymentCallbacks())
	return m
}

// paymentCallbacks is the callback set handed to the payment controller.
// Every callback hops onto the machine goroutine.
func (m *Machine) paymentCallbacks() payment.Callbacks {
	return payment.Callbacks{
		OnTick: func(remaining int) {
			m.post(func() {
				r := remaining
				m.paySeconds = &r
				m.render()
			})
		},
		OnExpired: func(invoiceID string) {
			m.post(func() { m.applyIntent(IntentPaymentExpired{InvoiceID: invoiceID}) })
		},
		OnDetected: func(invoiceID string) {
			m.post(func() { m.applyIntent(IntentPaymentDetected{InvoiceID: invoiceID}) })
		},
	}
}

// Run processes the inbox until ctx is cancelled. It must be called before
// any intent method is used.
func (m *Machine) Run(ctx context.Context) {
	m.ctx = ctx
	m.render()
	for {
		select {
		case <-ctx.Done():
			m.stopSlot(&m.turn)
			m.stopSlot(&m.wait)
			m.stopSlot(&m.match)
			return
		case fn := <-m.inbox:
			fn()
		}
	}
}

// post enqueues work for the machine goroutine. Producers block when the
// inbox is full rather than drop, since every event here is state-bearing.
func (m *Machine) post(fn func()) {
	m.inbox <- fn
}

// User intents. Each is safe to call from any goroutine.

func (m *Machine) SelectBet()             { m.post(func() { m.applyIntent(IntentSelectBet{}) }) }
func (m *Machine) SetBet(amount int64)    { m.post(func() { m.applyIntent(IntentSetBet{Amount: amount}) }) }
func (m *Machine) AcceptTerms(ok bool)    { m.post(func() { m.applyIntent(IntentAcceptTerms{Accepted: ok}) }) }
func (m *Machine) SetAddress(addr string) { m.post(func() { m.applyIntent(IntentSetAddress{Address: addr}) }) }
func (m *Machine) Join()                  { m.post(func() { m.applyIntent(IntentJoin{}) }) }
func (m *Machine) Move(position int)      { m.post(func() { m.applyIntent(IntentMove{Position: position}) }) }
func (m *Machine) Resign()                { m.post(func() { m.applyIntent(IntentResign{}) }) }
func (m *Machine) CancelPayment()         { m.post(func() { m.applyIntent(IntentCancelPayment{}) }) }
func (m *Machine) ReturnToMenu()          { m.post(func() { m.applyIntent(IntentReturnToMenu{}) }) }
func (m *Machine) NewGame()               { m.post(func() { m.applyIntent(IntentNewGame{}) }) }

// Snapshot returns the current view projection, synchronized through the
// inbox so it observes a quiescent model.
func (m *Machine) Snapshot() Snapshot {
	reply := make(chan Snapshot, 1)
	m.post(func() { reply <- m.snapshot() })
	return <-reply
}

func (m *Machine) applyServer(event string, data []byte) {
	next, effects := ApplyServerEvent(m.model, event, data, m.reconcile.Now())
	m.model = next
	m.interpret(effects)
	m.render()
}

func (m *Machine) applyIntent(intent Intent) {
	next, effects := ApplyIntent(m.model, intent, m.reconcile.Now())
	m.model = next
	m.interpret(effects)
	m.render()
}

func (m *Machine) interpret(effects []Effect) {
	for _, e := range effects {
		switch eff := e.(type) {
		case EffectSend:
			if err := m.ch.Send(eff.Event, eff.Payload); err != nil {
				log.Warn().Err(err).Str("event", eff.Event).Msg("send failed")
			}
		case EffectStartTurnCountdown:
			m.startSlot(&m.turn, eff.Deadline, eff.Total, func() {
				m.applyIntent(IntentTurnExpired{})
			})
		case EffectStopTurnCountdown:
			m.stopSlot(&m.turn)
		case EffectStartWaitingCountdown:
			m.startSlot(&m.wait, eff.Deadline, eff.Total, nil)
		case EffectStopWaitingCountdown:
			m.stopSlot(&m.wait)
		case EffectStartMatchCountdown:
			m.startSlot(&m.match, eff.Deadline, eff.Total, nil)
		case EffectStopMatchCountdown:
			m.stopSlot(&m.match)
		case EffectBeginPayment:
			m.paySeconds = nil
			m.pay.Begin(m.runCtx(), eff.Request)
		case EffectEndPayment:
			m.paySeconds = nil
			if eff.Verified {
				m.pay.VerifiedPush()
			} else {
				m.pay.Cancel()
			}
		case EffectAppendHistory:
			m.ledger.Append(history.Entry{
				ID:        uuid.NewString(),
				Timestamp: m.reconcile.Now(),
				BetAmount: eff.Bet,
				Outcome:   eff.Outcome,
				NetAmount: eff.Net,
			})
		case EffectFetchQR:
			m.fetchQR(eff.Invoice)
		case EffectPersistBet:
			if m.prefs != nil {
				m.prefs.SetLastBet(eff.Amount)
			}
		default:
			log.Error().Type("effect", e).Msg("unhandled effect")
		}
	}
}

// startSlot replaces the slot's countdown. onZero, when set, runs on the
// machine goroutine after the countdown reaches zero.
func (m *Machine) startSlot(slot *countdownSlot, deadline time.Time, total time.Duration, onZero func()) {
	m.stopSlot(slot)
	slot.gen++
	slot.total = total
	slot.deadline = deadline
	initial := m.reconcile.Remaining(deadline)
	slot.seconds = &initial

	gen := slot.gen
	slot.countdown = m.reconcile.Start(deadline, func(remaining int) {
		m.post(func() {
			if slot.gen != gen {
				return
			}
			r := remaining
			slot.seconds = &r
			if remaining == 0 && onZero != nil {
				onZero()
				return
			}
			m.render()
		})
	})
}

func (m *Machine) stopSlot(slot *countdownSlot) {
	if slot.countdown != nil {
		slot.countdown.Stop()
		slot.countdown = nil
	}
	slot.gen++
	slot.seconds = nil
}

func (m *Machine) fetchQR(invoice string) {
	if m.qr == nil {
		return
	}
	ctx := m.runCtx()
	go func() {
		dataURL, err := m.qr.GenerateQR(ctx, invoice)
		if err != nil {
			log.Warn().Err(err).Msg("qr generation failed; invoice text remains usable")
			return
		}
		m.post(func() { m.applyIntent(IntentQRReady{Invoice: invoice, DataURL: dataURL}) })
	}()
}

func (m *Machine) runCtx() context.Context {
	if m.ctx != nil {
		return m.ctx
	}
	return context.Background()
}

func (m *Machine) render() {
	if m.view == nil {
		return
	}
	m.view.Render(m.snapshot())
}

func (m *Machine) snapshot() Snapshot {
	s := Snapshot{
		State:            m.model.State,
		Connected:        m.model.Connected,
		Message:          m.model.Message,
		Bet:              m.model.Bet,
		PlayerSats:       m.model.PlayerSats,
		LightningAddress: m.model.LightningAddress,
		AddressLocked:    m.model.AddressLocked,
		AcceptedTerms:    m.model.AcceptedTerms,
		Payment:          m.model.Payment,
		QRCode:           m.model.QRCode,
		Stats:            m.ledger.Stats(),
	}
	if payout, ok := PayoutFor(m.model.Bet); ok {
		s.Payout = payout
	}
	if g := m.model.Game; g != nil {
		s.Board = g.Board
		s.MySymbol = g.MySymbol
		s.MyTurn = m.model.Connected && g.TurnOwner == m.model.ConnID
		s.GameID = g.GameID
		s.WinningLine = g.WinningLine
		s.LastMoveIndex = g.LastMoveIndex
	}
	if m.turn.seconds != nil {
		s.TurnSecondsLeft = m.turn.seconds
		s.TurnProgress = m.reconcile.Progress(m.turn.deadline, m.turn.total)
	}
	s.WaitingSecondsLeft = m.wait.seconds
	s.MatchSecondsLeft = m.match.seconds
	s.PaymentSecondsLeft = m.paySeconds
	return s
}
