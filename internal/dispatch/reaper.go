package dispatch

import (
	"context"
	"time"

	"dialqueue/internal/logging"
	"dialqueue/internal/provider"
	"dialqueue/internal/queue"
)

// runReaper is the safety net behind the poller and the webhook. Every
// interval it runs two sweeps over in-flight entries:
//
//   - stuck sweep: entries claimed longer ago than the webhook-stuck window
//     whose call has actually ended get finalized with their real status.
//     This covers a completed call whose webhook never arrived.
//   - timeout sweep: entries older than the hard timeout are finalized as
//     failed regardless of what the status API says. Nothing stays in
//     processing forever.
func (e *Engine) runReaper(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.timing.ReaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		finalized := e.sweepStuck(ctx)
		finalized += e.sweepTimedOut(ctx)
		if finalized > 0 {
			e.Advance(ctx)
		}
	}
}

func (e *Engine) sweepStuck(ctx context.Context) int {
	cutoff := time.Now().UTC().Add(-e.timing.WebhookStuck)
	stuck, err := e.store.StaleProcessing(ctx, cutoff)
	if err != nil {
		e.logger.Error("stuck sweep query failed", logging.Error(err))
		return 0
	}

	finalized := 0
	for _, entry := range stuck {
		if ctx.Err() != nil {
			return finalized
		}
		if e.reconcileStuck(ctx, entry) {
			finalized++
		}
	}
	return finalized
}

// reconcileStuck checks whether a lingering in-flight call has actually
// ended and, if so, finalizes it. Each entry is resolved from its own
// correlation handle and its own cached transcript; one stuck call's data
// never bleeds into another's profile.
func (e *Engine) reconcileStuck(ctx context.Context, entry *queue.Entry) bool {
	logger := e.logger.With(
		logging.Int64(logging.FieldCallID, entry.ID),
		logging.String(logging.FieldCustomerID, entry.CustomerID),
	)

	handle, found, err := e.correlations.Get(ctx, entry.ID)
	if err != nil {
		logger.Warn("stuck sweep correlation lookup failed", logging.Error(err))
		return false
	}
	if !found || handle.ProviderSID == "" {
		// No way to ask the carrier; the timeout sweep will claim it.
		return false
	}

	status, err := e.provider.CallStatus(ctx, handle.ProviderSID)
	if err != nil {
		logger.Warn("stuck sweep status check failed", logging.Error(err))
		return false
	}
	if !provider.IsTerminal(status) {
		return false
	}

	logger.Info("reconciling stuck call",
		logging.String(logging.FieldCallStatus, status))
	return e.finalize(ctx, entry.ID, entry.CustomerID, status, "")
}

func (e *Engine) sweepTimedOut(ctx context.Context) int {
	cutoff := time.Now().UTC().Add(-e.timing.ReaperTimeout)
	expired, err := e.store.StaleProcessing(ctx, cutoff)
	if err != nil {
		e.logger.Error("timeout sweep query failed", logging.Error(err))
		return 0
	}

	finalized := 0
	for _, entry := range expired {
		if ctx.Err() != nil {
			return finalized
		}
		e.logger.Warn("reaping timed out call",
			logging.Int64(logging.FieldCallID, entry.ID),
			logging.String(logging.FieldCustomerID, entry.CustomerID))
		if e.finalize(ctx, entry.ID, entry.CustomerID, provider.StatusFailed, "") {
			finalized++
		}
	}
	return finalized
}
