package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"dialqueue/internal/logging"
	"dialqueue/internal/notes"
	"dialqueue/internal/provider"
	"dialqueue/internal/queue"
)

// HandleCallEnded reconciles a provider webhook. The conditional delete of
// the customer's processing entry is the claim: whichever of webhook,
// poller, or reaper deletes the row finalizes the call, so duplicate or
// late webhooks become no-ops. Returns whether this webhook won.
func (e *Engine) HandleCallEnded(ctx context.Context, customerID, callStatus, transcript string) (bool, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return false, errors.New("customer id is required")
	}
	if strings.TrimSpace(callStatus) == "" {
		callStatus = provider.StatusCompleted
	}

	handle, handleFound, err := e.correlations.ByCustomer(ctx, customerID)
	if err != nil {
		e.logger.Warn("correlation lookup failed", logging.Error(err))
	}
	if handleFound && transcript != "" {
		if err := e.correlations.SetTranscript(ctx, handle.CallID, transcript); err != nil {
			e.logger.Warn("transcript cache failed", logging.Error(err))
		}
	}

	won, err := e.store.RemoveProcessingByCustomer(ctx, customerID)
	if err != nil {
		return false, err
	}

	// Summarization, invites, and the follow-on dispatch all talk to slow
	// external services; they run on the engine's context so the webhook
	// request returns immediately and a client disconnect cannot lose the
	// profile update after the claim already won.
	run := e.runContext(ctx)
	if won {
		callID := int64(0)
		if handleFound {
			callID = handle.CallID
		}
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.completeProfile(run, callID, customerID, callStatus, transcript)
			e.Advance(run)
		}()
	} else {
		e.logger.Info("webhook lost finalize race",
			logging.String(logging.FieldCustomerID, customerID))
		// The entry is gone, but the outcome the carrier reported still
		// lands on the profile. Single-row update, last writer wins.
		if err := e.store.SetLastCallStatus(ctx, customerID, callStatus); err != nil && !errors.Is(err, queue.ErrNotFound) {
			e.logger.Warn("record late call outcome failed", logging.Error(err))
		}
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.Advance(run)
		}()
	}

	e.kickStuckSweep(ctx)
	return won, nil
}

// kickStuckSweep runs the stuck sweep off the webhook path. A terminal
// event for one call is a natural moment to check whether an older entry
// never received its own.
func (e *Engine) kickStuckSweep(ctx context.Context) {
	run := e.runContext(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if e.sweepStuck(run) > 0 {
			e.Advance(run)
		}
	}()
}

// finalize claims and completes an entry by id. Returns whether this caller
// won the conditional delete.
func (e *Engine) finalize(ctx context.Context, callID int64, customerID, callStatus, transcript string) bool {
	won, err := e.store.Remove(ctx, callID)
	if err != nil {
		e.logger.Error("finalize delete failed",
			logging.Int64(logging.FieldCallID, callID),
			logging.Error(err))
		return false
	}
	if !won {
		return false
	}
	e.completeProfile(ctx, callID, customerID, callStatus, transcript)
	return true
}

// completeProfile applies the post-call profile updates for the finalize
// winner: last call status, summary note, calendar invites, correlation
// cleanup. Each step degrades independently; a summary failure must not
// lose the status update.
func (e *Engine) completeProfile(ctx context.Context, callID int64, customerID, callStatus, transcript string) {
	logger := e.logger.With(
		logging.Int64(logging.FieldCallID, callID),
		logging.String(logging.FieldCustomerID, customerID),
		logging.String(logging.FieldCallStatus, callStatus),
	)

	if err := e.store.SetLastCallStatus(ctx, customerID, callStatus); err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			logger.Debug("no profile for call outcome")
		} else {
			logger.Warn("record call outcome failed", logging.Error(err))
		}
	}

	if transcript == "" && callID != 0 {
		transcript = e.recoverTranscript(ctx, callID, callStatus, logger)
	}

	var result notes.Result
	if transcript != "" && e.summarizer != nil {
		r, err := e.summarizer.Summarize(ctx, transcript)
		if err != nil {
			logger.Warn("transcript summary failed", logging.Error(err))
		} else {
			result = r
		}
	}

	note := strings.TrimSpace(result.Summary)
	if note == "" {
		// The profile still gets a timestamped record of the attempt.
		note = fmt.Sprintf("Call ended with status %q. No summary available.", callStatus)
	}
	if err := e.store.AppendProfileNotes(ctx, customerID, note); err != nil && !errors.Is(err, queue.ErrNotFound) {
		logger.Warn("append call note failed", logging.Error(err))
	}
	if len(result.Tasks) > 0 {
		if err := e.store.AppendProfileTasks(ctx, customerID, strings.Join(result.Tasks, "\n")); err != nil && !errors.Is(err, queue.ErrNotFound) {
			logger.Warn("append follow-up tasks failed", logging.Error(err))
		}
	}
	if result.MeetingScheduled {
		e.sendInvites(ctx, customerID, result, logger)
	}

	if callID != 0 {
		if err := e.correlations.Remove(ctx, callID); err != nil {
			logger.Warn("correlation cleanup failed", logging.Error(err))
		}
	}

	logger.Info("call finalized")
}

// recoverTranscript looks for this call's transcript when the finalize path
// did not carry one: first the per-call cache, then the provider's
// conversation API for completed calls. Only this call's own transcript is
// ever used; a missing transcript stays missing.
func (e *Engine) recoverTranscript(ctx context.Context, callID int64, callStatus string, logger *slog.Logger) string {
	if cached, found, err := e.correlations.Transcript(ctx, callID); err != nil {
		logger.Warn("transcript cache lookup failed", logging.Error(err))
	} else if found && cached != "" {
		return cached
	}

	if callStatus != provider.StatusCompleted {
		return ""
	}
	handle, found, err := e.correlations.Get(ctx, callID)
	if err != nil || !found || handle.ConversationID == "" {
		return ""
	}
	transcript, err := e.provider.Transcript(ctx, handle.ConversationID)
	if err != nil {
		logger.Warn("transcript fetch failed", logging.Error(err))
		return ""
	}
	return transcript
}

func (e *Engine) sendInvites(ctx context.Context, customerID string, result notes.Result, logger *slog.Logger) {
	if e.invites == nil {
		return
	}
	profile, err := e.store.GetProfile(ctx, customerID)
	if err != nil {
		logger.Warn("profile lookup for invites failed", logging.Error(err))
		return
	}
	if profile == nil || profile.Email == "" {
		return
	}
	e.invites.Send(ctx, profile.Name, profile.Email, result)
}
