package notes

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"dialqueue/internal/logging"
)

// FallbackOpeningLine is used when greeting generation keeps failing. The
// call still goes out; the agent just opens with a generic line.
const FallbackOpeningLine = "Hi, this is a courtesy call from our sales team. Do you have a quick minute?"

const (
	greeterAttempts = 3
	greeterBackoff  = 60 * time.Second
)

const greetingSystemPrompt = `You write one-sentence opening lines for outbound sales calls.
Use the lead's name and any notes about previous conversations to make the
line personal and natural. Respond with the opening line only, no quotes
and no explanation.`

// Completer is the slice of the chat client the greeter needs.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Greeter produces personalized opening lines for outbound calls.
type Greeter struct {
	client  Completer
	logger  *slog.Logger
	sleeper func(time.Duration)

	attempts int
	backoff  time.Duration
}

// GreeterOption customizes the greeter.
type GreeterOption func(*Greeter)

// WithGreeterRetry overrides the attempt count and backoff between attempts.
func WithGreeterRetry(attempts int, backoff time.Duration) GreeterOption {
	return func(g *Greeter) {
		if attempts > 0 {
			g.attempts = attempts
		}
		g.backoff = backoff
	}
}

// WithGreeterSleeper overrides how retry sleeps are performed (useful for tests).
func WithGreeterSleeper(sleeper func(time.Duration)) GreeterOption {
	return func(g *Greeter) {
		g.sleeper = sleeper
	}
}

// NewGreeter constructs a greeter on top of a chat client.
func NewGreeter(client Completer, logger *slog.Logger, opts ...GreeterOption) *Greeter {
	if logger == nil {
		logger = logging.NewNop()
	}
	greeter := &Greeter{
		client:   client,
		logger:   logging.NewComponentLogger(logger, "greeter"),
		attempts: greeterAttempts,
		backoff:  greeterBackoff,
	}
	for _, opt := range opts {
		opt(greeter)
	}
	return greeter
}

// OpeningLine generates a personalized opening line for a lead. Generation
// is retried with a long backoff because greeting quality matters less than
// getting the call out; after the final attempt the fallback line is
// returned with no error.
func (g *Greeter) OpeningLine(ctx context.Context, customerName, priorNotes string) string {
	prompt := buildGreetingPrompt(customerName, priorNotes)

	var lastErr error
	for attempt := 1; attempt <= g.attempts; attempt++ {
		line, err := g.client.Complete(ctx, greetingSystemPrompt, prompt)
		if err == nil {
			line = strings.TrimSpace(strings.Trim(strings.TrimSpace(line), `"`))
			if line != "" {
				return line
			}
			err = fmt.Errorf("empty opening line")
		}
		lastErr = err
		if attempt == g.attempts || ctx.Err() != nil {
			break
		}
		g.logger.Warn("greeting generation failed, retrying",
			logging.Int("attempt", attempt),
			logging.Error(err))
		if !g.sleep(ctx) {
			break
		}
	}

	g.logger.Warn("greeting generation exhausted, using fallback",
		logging.Error(lastErr))
	return FallbackOpeningLine
}

func (g *Greeter) sleep(ctx context.Context) bool {
	if g.backoff <= 0 {
		return true
	}
	if g.sleeper != nil {
		g.sleeper(g.backoff)
		return ctx.Err() == nil
	}
	timer := time.NewTimer(g.backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func buildGreetingPrompt(customerName, priorNotes string) string {
	var b strings.Builder
	b.WriteString("Lead name: ")
	name := strings.TrimSpace(customerName)
	if name == "" {
		name = "unknown"
	}
	b.WriteString(name)
	if notes := strings.TrimSpace(priorNotes); notes != "" {
		b.WriteString("\nNotes from previous conversations:\n")
		b.WriteString(notes)
	} else {
		b.WriteString("\nThis is the first call to this lead.")
	}
	return b.String()
}
