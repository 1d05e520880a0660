package dispatch

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"dialqueue/internal/correlation"
	"dialqueue/internal/logging"
	"dialqueue/internal/provider"
	"dialqueue/internal/queue"
)

// Advance moves the queue forward. While no call is in flight it claims the
// oldest queued entry and places its call; entries whose placement fails
// are finalized immediately and the loop moves to the next one. The loop is
// bounded so a burst of placement failures can never spin unbounded.
func (e *Engine) Advance(ctx context.Context) {
	for i := 0; i < e.timing.MaxAdvancePerRun; i++ {
		if ctx.Err() != nil {
			return
		}

		inFlight, err := e.store.CountProcessing(ctx)
		if err != nil {
			e.logger.Error("count processing failed", logging.Error(err))
			return
		}
		if inFlight > 0 {
			return
		}

		entry, err := e.store.ClaimNext(ctx)
		if err != nil {
			e.logger.Error("claim next entry failed", logging.Error(err))
			return
		}
		if entry == nil {
			e.exportReport(ctx)
			return
		}

		if e.dispatch(ctx, entry) {
			return
		}
	}
	e.logger.Warn("advance loop bound reached",
		logging.Int("bound", e.timing.MaxAdvancePerRun))
}

// dispatch places the call for a claimed entry. Returns true when a call
// went out (the single-flight slot is occupied); false when the entry was
// finalized as failed and the caller should try the next one.
func (e *Engine) dispatch(ctx context.Context, entry *queue.Entry) bool {
	dispatchID := uuid.NewString()
	logger := e.logger.With(
		logging.Int64(logging.FieldCallID, entry.ID),
		logging.String(logging.FieldCustomerID, entry.CustomerID),
		logging.String("dispatch_id", dispatchID),
	)

	if strings.TrimSpace(entry.PhoneNumber) == "" {
		logger.Warn("entry has no phone number, dropping")
		if _, err := e.store.Remove(ctx, entry.ID); err != nil {
			logger.Error("remove entry failed", logging.Error(err))
		}
		return false
	}

	greeting := entry.Greeting
	var name, priorNotes, email, details string
	if profile, err := e.store.GetProfile(ctx, entry.CustomerID); err != nil {
		logger.Warn("profile lookup failed", logging.Error(err))
	} else if profile != nil {
		name = profile.Name
		priorNotes = profile.Notes
		email = profile.Email
		details = leadDetails(profile)
	}
	if name == "" {
		name = entry.Name
	}
	if greeting == "" && e.greeter != nil {
		greeting = e.greeter.OpeningLine(ctx, name, priorNotes)
	}

	result, err := e.provider.PlaceCall(ctx, provider.PlaceCallRequest{
		ToNumber:     entry.PhoneNumber,
		CustomerID:   entry.CustomerID,
		CustomerName: name,
		Greeting:     greeting,
		Details:      details,
		Email:        email,
		CallID:       entry.ID,
		DispatchID:   dispatchID,
	})
	if err != nil {
		logger.Error("call placement failed", logging.Error(err))
		e.finalize(ctx, entry.ID, entry.CustomerID, provider.StatusFailed, "")
		return false
	}

	handle := correlation.Handle{
		CallID:         entry.ID,
		CustomerID:     entry.CustomerID,
		DispatchID:     dispatchID,
		ConversationID: result.ConversationID,
		ProviderSID:    result.CallSID,
		StartedAt:      time.Now().UTC(),
	}
	if err := e.correlations.Put(ctx, handle); err != nil {
		logger.Warn("correlation store failed, reconciliation degraded",
			logging.Error(err))
	}

	logger.Info("call dispatched",
		logging.String(logging.FieldProviderSID, result.CallSID),
		logging.String(logging.FieldCorrelationID, result.ConversationID))

	e.wg.Add(1)
	go e.pollStatus(e.runContext(ctx), handle)
	return true
}

// leadDetails builds the context string the agent sees before dialing.
func leadDetails(profile *queue.Profile) string {
	var parts []string
	if profile.Company != "" {
		parts = append(parts, "Company: "+profile.Company)
	}
	if profile.Industry != "" {
		parts = append(parts, "Industry: "+profile.Industry)
	}
	if profile.Location != "" {
		parts = append(parts, "Location: "+profile.Location)
	}
	if profile.CountryCode != "" {
		parts = append(parts, "Country code: "+queue.NormalizeCountryCode(profile.CountryCode))
	}
	if profile.LastCallStatus != "" {
		parts = append(parts, "Last call: "+profile.LastCallStatus)
	}
	if profile.Requirements != "" {
		parts = append(parts, "Requirements:\n"+profile.Requirements)
	}
	if profile.Notes != "" {
		parts = append(parts, "Notes:\n"+profile.Notes)
	}
	if profile.Tasks != "" {
		parts = append(parts, "Open tasks:\n"+profile.Tasks)
	}
	return strings.Join(parts, "\n")
}

// exportReport dumps the profile table once the queue drains so the
// report always reflects the finished batch. A nil claim can also mean a
// concurrent caller won the single-flight slot, so the drain is verified
// before writing.
func (e *Engine) exportReport(ctx context.Context) {
	if e.exporter == nil {
		return
	}
	health, err := e.store.Health(ctx)
	if err != nil {
		e.logger.Warn("queue health check failed", logging.Error(err))
		return
	}
	if health.Total > 0 {
		return
	}
	if err := e.exporter(ctx); err != nil {
		e.logger.Warn("profile report export failed", logging.Error(err))
	}
}

// runContext prefers the engine's lifecycle context for background
// goroutines so the poller outlives the HTTP request that triggered it.
func (e *Engine) runContext(fallback context.Context) context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running && e.runCtx != nil {
		return e.runCtx
	}
	return fallback
}

// pollStatus watches a live call through the telephony status API. Calls
// that end without completing are finalized here; completed calls are left
// to the webhook, whose payload carries the transcript. If the call is
// still live when the deadline passes the poller exits silently and the
// reaper owns the entry.
func (e *Engine) pollStatus(ctx context.Context, handle correlation.Handle) {
	defer e.wg.Done()

	logger := e.logger.With(
		logging.Int64(logging.FieldCallID, handle.CallID),
		logging.String(logging.FieldProviderSID, handle.ProviderSID),
	)

	if handle.ProviderSID == "" {
		logger.Warn("no telephony sid, skipping status poll")
		return
	}

	deadline := time.NewTimer(e.timing.PollMaxWait)
	defer deadline.Stop()
	ticker := time.NewTicker(e.timing.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			logger.Debug("status poll deadline reached, deferring to reaper")
			return
		case <-ticker.C:
		}

		status, err := e.provider.CallStatus(ctx, handle.ProviderSID)
		if err != nil {
			logger.Warn("status poll failed", logging.Error(err))
			continue
		}
		if !provider.IsTerminal(status) {
			continue
		}

		if status == provider.StatusCompleted {
			// The webhook delivers the transcript for completed calls;
			// finalizing here would race it with less information. The
			// stuck sweep covers a webhook that never arrives.
			logger.Debug("call completed, deferring finalize to webhook")
			return
		}

		logger.Info("call ended without completing",
			logging.String(logging.FieldCallStatus, status))
		if e.finalize(ctx, handle.CallID, handle.CustomerID, status, "") {
			e.Advance(ctx)
		}
		return
	}
}
