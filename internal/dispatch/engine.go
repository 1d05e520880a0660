package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"dialqueue/internal/correlation"
	"dialqueue/internal/logging"
	"dialqueue/internal/notes"
	"dialqueue/internal/provider"
	"dialqueue/internal/queue"
)

// CallProvider is the slice of the provider client the engine needs.
type CallProvider interface {
	PlaceCall(ctx context.Context, req provider.PlaceCallRequest) (provider.PlaceCallResult, error)
	CallStatus(ctx context.Context, callSID string) (string, error)
	Transcript(ctx context.Context, conversationID string) (string, error)
}

// Greeter produces the opening line for a call.
type Greeter interface {
	OpeningLine(ctx context.Context, customerName, priorNotes string) string
}

// Summarizer condenses a transcript into a structured CRM result.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (notes.Result, error)
}

// InviteSender delivers calendar invites for meetings agreed on a call.
type InviteSender interface {
	Send(ctx context.Context, name, email string, result notes.Result) int
}

// Timing bundles the engine's cadence and deadline knobs.
type Timing struct {
	PollInterval     time.Duration
	PollMaxWait      time.Duration
	ReaperInterval   time.Duration
	ReaperTimeout    time.Duration
	WebhookStuck     time.Duration
	MaxAdvancePerRun int
}

func (t *Timing) applyDefaults() {
	if t.PollInterval <= 0 {
		t.PollInterval = 5 * time.Second
	}
	if t.PollMaxWait <= 0 {
		t.PollMaxWait = 150 * time.Second
	}
	if t.ReaperInterval <= 0 {
		t.ReaperInterval = time.Minute
	}
	if t.ReaperTimeout <= 0 {
		t.ReaperTimeout = 15 * time.Minute
	}
	if t.WebhookStuck <= 0 {
		t.WebhookStuck = 11 * time.Minute
	}
	if t.MaxAdvancePerRun <= 0 {
		t.MaxAdvancePerRun = 25
	}
}

// Engine drives the call queue: it dispatches the next queued entry when no
// call is in flight, polls the telephony status of live calls, reconciles
// the racing terminal signals (webhook, poller, reaper), and finalizes
// profiles once per call.
type Engine struct {
	store        *queue.Store
	correlations correlation.Store
	provider     CallProvider
	greeter      Greeter
	summarizer   Summarizer
	invites      InviteSender
	logger       *slog.Logger
	timing       Timing
	exporter     func(ctx context.Context) error

	mu      sync.Mutex
	running bool
	runCtx  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewEngine constructs a dispatch engine.
func NewEngine(
	store *queue.Store,
	correlations correlation.Store,
	callProvider CallProvider,
	greeter Greeter,
	summarizer Summarizer,
	inviteSender InviteSender,
	logger *slog.Logger,
	timing Timing,
) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	timing.applyDefaults()
	return &Engine{
		store:        store,
		correlations: correlations,
		provider:     callProvider,
		greeter:      greeter,
		summarizer:   summarizer,
		invites:      inviteSender,
		logger:       logging.NewComponentLogger(logger, "dispatch"),
		timing:       timing,
	}
}

// SetExporter registers the profile report writer invoked whenever
// Advance finds the queue drained.
func (e *Engine) SetExporter(export func(ctx context.Context) error) {
	e.exporter = export
}

// Start launches the reaper loop and resets entries orphaned by a previous
// run. Queue advancement itself is event-driven via Advance.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return errors.New("dispatch engine already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.runCtx = runCtx
	e.cancel = cancel
	e.running = true
	e.wg.Add(1)
	e.mu.Unlock()

	if reset, err := e.store.ResetStuckProcessing(runCtx); err != nil {
		e.logger.Warn("startup reset failed", logging.Error(err))
	} else if reset > 0 {
		e.logger.Info("reset orphaned in-flight entries", logging.Int64("count", reset))
	}

	go e.runReaper(runCtx)
	return nil
}

// Stop terminates background work and waits for in-flight goroutines.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	cancel := e.cancel
	e.running = false
	e.runCtx = nil
	e.cancel = nil
	e.mu.Unlock()

	cancel()
	e.wg.Wait()
}
