package dispatch_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"dialqueue/internal/correlation"
	"dialqueue/internal/dispatch"
	"dialqueue/internal/notes"
	"dialqueue/internal/provider"
	"dialqueue/internal/queue"
	"dialqueue/internal/testsupport"
)

type fakeProvider struct {
	mu         sync.Mutex
	placed     []provider.PlaceCallRequest
	placeErr   error
	placeDelay time.Duration
	status     string
	statusErr  error
	transcript string
}

func (f *fakeProvider) PlaceCall(_ context.Context, req provider.PlaceCallRequest) (provider.PlaceCallResult, error) {
	if f.placeDelay > 0 {
		time.Sleep(f.placeDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeErr != nil {
		return provider.PlaceCallResult{}, f.placeErr
	}
	f.placed = append(f.placed, req)
	return provider.PlaceCallResult{ConversationID: "conv-" + req.CustomerID, CallSID: "CA-" + req.CustomerID}, nil
}

func (f *fakeProvider) CallStatus(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return "", f.statusErr
	}
	return f.status, nil
}

func (f *fakeProvider) Transcript(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transcript, nil
}

func (f *fakeProvider) placedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.placed)
}

type fakeGreeter struct{}

func (fakeGreeter) OpeningLine(_ context.Context, name, _ string) string {
	return "Hi " + name
}

type fakeSummarizer struct {
	mu     sync.Mutex
	seen   []string
	fail   bool
	result notes.Result
	block  chan struct{} // when set, Summarize waits for it to close
}

func (f *fakeSummarizer) Summarize(_ context.Context, transcript string) (notes.Result, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return notes.Result{}, errors.New("summarizer down")
	}
	f.seen = append(f.seen, transcript)
	result := f.result
	if result.Summary == "" {
		result.Summary = "summary of: " + transcript
	}
	return result, nil
}

type fakeInvites struct {
	mu   sync.Mutex
	sent []notes.Result
}

func (f *fakeInvites) Send(_ context.Context, _, _ string, result notes.Result) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, result)
	return 1
}

func (f *fakeInvites) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type engineFixture struct {
	store      *queue.Store
	corr       correlation.Store
	provider   *fakeProvider
	summarizer *fakeSummarizer
	invites    *fakeInvites
	engine     *dispatch.Engine
}

func newFixture(t *testing.T, timing dispatch.Timing) *engineFixture {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	prov := &fakeProvider{status: provider.StatusInProgress}
	summarizer := &fakeSummarizer{}
	sender := &fakeInvites{}
	corr := correlation.NewMemory()

	engine := dispatch.NewEngine(store, corr, prov, fakeGreeter{}, summarizer, sender, nil, timing)
	return &engineFixture{
		store:      store,
		corr:       corr,
		provider:   prov,
		summarizer: summarizer,
		invites:    sender,
		engine:     engine,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestAdvanceDispatchesSingleFlight(t *testing.T) {
	f := newFixture(t, dispatch.Timing{PollInterval: time.Hour, PollMaxWait: 2 * time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	testsupport.SeedProfile(t, f.store, "cust-1", "Ada", "5550001111")
	testsupport.Enqueue(t, f.store, "cust-1", "Ada", "+15550001111")
	testsupport.Enqueue(t, f.store, "cust-2", "Grace", "+15550002222")

	f.engine.Advance(ctx)

	if got := f.provider.placedCount(); got != 1 {
		t.Fatalf("expected 1 placed call, got %d", got)
	}
	if f.provider.placed[0].Greeting != "Hi Ada" {
		t.Fatalf("greeting = %q", f.provider.placed[0].Greeting)
	}

	// A second advance must not dispatch while a call is in flight.
	f.engine.Advance(ctx)
	if got := f.provider.placedCount(); got != 1 {
		t.Fatalf("expected single flight, got %d placed calls", got)
	}

	processing, err := f.store.CountProcessing(ctx)
	if err != nil || processing != 1 {
		t.Fatalf("processing = %d, err = %v", processing, err)
	}

	handle, found, err := f.corr.ByCustomer(ctx, "cust-1")
	if err != nil || !found {
		t.Fatalf("ByCustomer = %v, %v", found, err)
	}
	if handle.ProviderSID != "CA-cust-1" || handle.ConversationID != "conv-cust-1" {
		t.Fatalf("handle = %#v", handle)
	}
	if handle.DispatchID == "" || handle.DispatchID != f.provider.placed[0].DispatchID {
		t.Fatalf("dispatch id not threaded through: handle=%q placed=%q",
			handle.DispatchID, f.provider.placed[0].DispatchID)
	}
}

func TestAdvanceConcurrentCallersShareOneFlightSlot(t *testing.T) {
	f := newFixture(t, dispatch.Timing{PollInterval: time.Hour, PollMaxWait: 2 * time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i, cust := range []string{"cust-1", "cust-2", "cust-3", "cust-4", "cust-5"} {
		testsupport.Enqueue(t, f.store, cust, "Lead", "+1555000222"+string(rune('0'+i)))
	}
	f.provider.placeDelay = 50 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.engine.Advance(ctx)
		}()
	}
	wg.Wait()

	if got := f.provider.placedCount(); got != 1 {
		t.Fatalf("expected 1 placed call across concurrent advances, got %d", got)
	}
	processing, err := f.store.CountProcessing(ctx)
	if err != nil || processing != 1 {
		t.Fatalf("processing = %d, err = %v", processing, err)
	}
}

func TestAdvanceFinalizesPlacementFailures(t *testing.T) {
	f := newFixture(t, dispatch.Timing{})
	ctx := context.Background()

	f.provider.placeErr = errors.New("provider down")
	testsupport.SeedProfile(t, f.store, "cust-1", "Ada", "5550001111")
	testsupport.Enqueue(t, f.store, "cust-1", "Ada", "+15550001111")
	testsupport.Enqueue(t, f.store, "cust-2", "Grace", "+15550002222")

	f.engine.Advance(ctx)

	entries, err := f.store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected queue drained after failures, got %d entries", len(entries))
	}

	profile, err := f.store.GetProfile(ctx, "cust-1")
	if err != nil || profile == nil {
		t.Fatalf("GetProfile = %#v, %v", profile, err)
	}
	if profile.LastCallStatus != provider.StatusFailed {
		t.Fatalf("last call status = %q", profile.LastCallStatus)
	}
}

func TestAdvanceLoopIsBounded(t *testing.T) {
	f := newFixture(t, dispatch.Timing{MaxAdvancePerRun: 2})
	ctx := context.Background()

	f.provider.placeErr = errors.New("provider down")
	for i, cust := range []string{"cust-1", "cust-2", "cust-3"} {
		testsupport.Enqueue(t, f.store, cust, "Lead", "+1555000111"+string(rune('0'+i)))
	}

	f.engine.Advance(ctx)

	entries, err := f.store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("bounded loop should leave 1 entry, got %d", len(entries))
	}
}

func TestAdvanceSkipsEntriesWithoutPhone(t *testing.T) {
	f := newFixture(t, dispatch.Timing{PollInterval: time.Hour, PollMaxWait: 2 * time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bad := testsupport.Enqueue(t, f.store, "cust-1", "Ada", "+15550001111")
	bad.PhoneNumber = "  "
	if err := f.store.Update(ctx, bad); err != nil {
		t.Fatalf("Update: %v", err)
	}
	testsupport.Enqueue(t, f.store, "cust-2", "Grace", "+15550002222")

	f.engine.Advance(ctx)

	if got := f.provider.placedCount(); got != 1 {
		t.Fatalf("expected 1 placed call, got %d", got)
	}
	if f.provider.placed[0].CustomerID != "cust-2" {
		t.Fatalf("dispatched %q, want cust-2", f.provider.placed[0].CustomerID)
	}
	if entry, err := f.store.GetByID(ctx, bad.ID); err != nil || entry != nil {
		t.Fatalf("phoneless entry should be removed, got %#v, %v", entry, err)
	}
}

func TestAdvanceExportsReportWhenDrained(t *testing.T) {
	f := newFixture(t, dispatch.Timing{PollInterval: time.Hour, PollMaxWait: 2 * time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var exports int
	f.engine.SetExporter(func(context.Context) error {
		exports++
		return nil
	})

	f.engine.Advance(ctx)
	if exports != 1 {
		t.Fatalf("empty queue should export once, got %d", exports)
	}

	testsupport.Enqueue(t, f.store, "cust-1", "Ada", "+15550001111")
	f.engine.Advance(ctx)
	if exports != 1 {
		t.Fatalf("export must not run while a call is in flight, got %d", exports)
	}
}

func TestHandleCallEndedFinalizesOnce(t *testing.T) {
	f := newFixture(t, dispatch.Timing{PollInterval: time.Hour, PollMaxWait: 2 * time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	testsupport.SeedProfile(t, f.store, "cust-1", "Ada", "5550001111")
	profile, _ := f.store.GetProfile(ctx, "cust-1")
	profile.Email = "ada@example.com"
	if err := f.store.UpsertProfile(ctx, profile); err != nil {
		t.Fatalf("UpsertProfile: %v", err)
	}

	f.summarizer.result = notes.Result{
		Tasks:              []string{"1. Send pricing sheet"},
		MeetingScheduled:   true,
		MeetingVirtual:     true,
		MeetingTimeVirtual: "tomorrow at 2pm",
	}

	testsupport.Enqueue(t, f.store, "cust-1", "Ada", "+15550001111")
	testsupport.Enqueue(t, f.store, "cust-2", "Grace", "+15550002222")
	f.engine.Advance(ctx)

	won, err := f.engine.HandleCallEnded(ctx, "cust-1", "completed", "agent: hi\nuser: book me tomorrow at 2pm")
	if err != nil {
		t.Fatalf("HandleCallEnded failed: %v", err)
	}
	if !won {
		t.Fatal("expected webhook to win finalize")
	}

	// Finalization runs off the request path.
	waitFor(t, "webhook finalize", func() bool {
		return f.invites.sentCount() == 1
	})

	updated, err := f.store.GetProfile(ctx, "cust-1")
	if err != nil {
		t.Fatalf("GetProfile failed: %v", err)
	}
	if updated.LastCallStatus != "completed" {
		t.Fatalf("last call status = %q", updated.LastCallStatus)
	}
	if !strings.Contains(updated.Notes, "summary of:") {
		t.Fatalf("notes missing summary: %q", updated.Notes)
	}
	if !strings.Contains(updated.Tasks, "Send pricing sheet") {
		t.Fatalf("tasks missing follow-ups: %q", updated.Tasks)
	}

	// Finalizing cust-1 frees the flight slot and the next call goes out.
	waitFor(t, "follow-on dispatch", func() bool {
		return f.provider.placedCount() == 2
	})

	// Duplicate webhook is a no-op.
	won, err = f.engine.HandleCallEnded(ctx, "cust-1", "completed", "stale transcript")
	if err != nil {
		t.Fatalf("duplicate HandleCallEnded failed: %v", err)
	}
	if won {
		t.Fatal("duplicate webhook should lose")
	}
}

func TestHandleCallEndedFinalizesOffRequestContext(t *testing.T) {
	f := newFixture(t, dispatch.Timing{
		PollInterval:   time.Hour,
		PollMaxWait:    2 * time.Hour,
		ReaperInterval: time.Hour,
	})
	if err := f.engine.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer f.engine.Stop()

	testsupport.SeedProfile(t, f.store, "cust-1", "Ada", "5550001111")
	testsupport.Enqueue(t, f.store, "cust-1", "Ada", "+15550001111")
	f.engine.Advance(context.Background())

	block := make(chan struct{})
	f.summarizer.block = block

	reqCtx, cancelReq := context.WithCancel(context.Background())
	done := make(chan bool, 1)
	go func() {
		won, err := f.engine.HandleCallEnded(reqCtx, "cust-1", "completed", "agent: hi")
		if err != nil {
			t.Errorf("HandleCallEnded failed: %v", err)
		}
		done <- won
	}()

	select {
	case won := <-done:
		if !won {
			t.Fatal("expected webhook to win finalize")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("HandleCallEnded blocked on summarization")
	}

	// The caller hangs up before summarization finishes. The note must
	// still land because the work runs on the engine's lifecycle context.
	cancelReq()
	close(block)
	waitFor(t, "detached finalize", func() bool {
		profile, err := f.store.GetProfile(context.Background(), "cust-1")
		return err == nil && profile != nil && strings.Contains(profile.Notes, "summary of:")
	})
}

func TestHandleCallEndedSummarizerFailureFallsBack(t *testing.T) {
	f := newFixture(t, dispatch.Timing{PollInterval: time.Hour, PollMaxWait: 2 * time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	testsupport.SeedProfile(t, f.store, "cust-1", "Ada", "5550001111")
	testsupport.Enqueue(t, f.store, "cust-1", "Ada", "+15550001111")
	f.engine.Advance(ctx)
	f.summarizer.fail = true

	won, err := f.engine.HandleCallEnded(ctx, "cust-1", "completed", "agent: hi")
	if err != nil || !won {
		t.Fatalf("HandleCallEnded = %v, %v", won, err)
	}

	waitFor(t, "fallback note", func() bool {
		profile, err := f.store.GetProfile(ctx, "cust-1")
		return err == nil && profile != nil && strings.Contains(profile.Notes, "No summary available.")
	})
	if f.invites.sentCount() != 0 {
		t.Fatalf("no invites should go out without a summary, got %d", f.invites.sentCount())
	}
}

func TestHandleCallEndedLosingWebhookRecordsStatus(t *testing.T) {
	f := newFixture(t, dispatch.Timing{PollInterval: time.Hour, PollMaxWait: 2 * time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	testsupport.SeedProfile(t, f.store, "cust-1", "Ada", "5550001111")
	testsupport.Enqueue(t, f.store, "cust-1", "Ada", "+15550001111")
	f.engine.Advance(ctx)

	// Another finalizer already claimed the removal.
	removed, err := f.store.RemoveProcessingByCustomer(ctx, "cust-1")
	if err != nil || !removed {
		t.Fatalf("RemoveProcessingByCustomer = %v, %v", removed, err)
	}

	won, err := f.engine.HandleCallEnded(ctx, "cust-1", "no-answer", "")
	if err != nil {
		t.Fatalf("HandleCallEnded failed: %v", err)
	}
	if won {
		t.Fatal("webhook should lose after the entry is gone")
	}

	// The carrier's verdict still lands on the profile.
	waitFor(t, "losing webhook status", func() bool {
		profile, err := f.store.GetProfile(ctx, "cust-1")
		return err == nil && profile != nil && profile.LastCallStatus == "no-answer"
	})
}

func TestHandleCallEndedRequiresCustomerID(t *testing.T) {
	f := newFixture(t, dispatch.Timing{})
	if _, err := f.engine.HandleCallEnded(context.Background(), "  ", "completed", ""); err == nil {
		t.Fatal("expected error for missing customer id")
	}
}

func TestHandleCallEndedForUnknownCustomerIsNoOp(t *testing.T) {
	f := newFixture(t, dispatch.Timing{})
	won, err := f.engine.HandleCallEnded(context.Background(), "ghost", "completed", "")
	if err != nil {
		t.Fatalf("HandleCallEnded failed: %v", err)
	}
	if won {
		t.Fatal("unknown customer should not win finalize")
	}
}

func TestPollerFinalizesNonCompletedTerminal(t *testing.T) {
	f := newFixture(t, dispatch.Timing{PollInterval: 10 * time.Millisecond, PollMaxWait: time.Second})
	ctx := context.Background()

	f.provider.status = provider.StatusBusy
	testsupport.SeedProfile(t, f.store, "cust-1", "Ada", "5550001111")
	testsupport.Enqueue(t, f.store, "cust-1", "Ada", "+15550001111")

	f.engine.Advance(ctx)

	waitFor(t, "poller finalize", func() bool {
		profile, err := f.store.GetProfile(ctx, "cust-1")
		return err == nil && profile != nil &&
			profile.LastCallStatus == provider.StatusBusy &&
			strings.Contains(profile.Notes, "No summary available.")
	})

	profile, err := f.store.GetProfile(ctx, "cust-1")
	if err != nil || profile == nil {
		t.Fatalf("GetProfile = %#v, %v", profile, err)
	}
	if profile.LastCallStatus != provider.StatusBusy {
		t.Fatalf("last call status = %q", profile.LastCallStatus)
	}
	if !strings.Contains(profile.Notes, "No summary available.") {
		t.Fatalf("expected fallback note, got %q", profile.Notes)
	}
}

func TestPollerDefersCompletedToWebhook(t *testing.T) {
	f := newFixture(t, dispatch.Timing{PollInterval: 10 * time.Millisecond, PollMaxWait: 100 * time.Millisecond})
	ctx := context.Background()

	f.provider.status = provider.StatusCompleted
	testsupport.Enqueue(t, f.store, "cust-1", "Ada", "+15550001111")

	f.engine.Advance(ctx)
	time.Sleep(200 * time.Millisecond)

	// The poller saw "completed" but must leave the entry for the webhook.
	processing, err := f.store.CountProcessing(ctx)
	if err != nil || processing != 1 {
		t.Fatalf("processing = %d, err = %v", processing, err)
	}
}

func TestReaperFinalizesTimedOutCalls(t *testing.T) {
	f := newFixture(t, dispatch.Timing{
		PollInterval:   time.Hour,
		PollMaxWait:    2 * time.Hour,
		ReaperInterval: 20 * time.Millisecond,
		ReaperTimeout:  15 * time.Minute,
		WebhookStuck:   11 * time.Minute,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := f.engine.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer f.engine.Stop()

	testsupport.SeedProfile(t, f.store, "cust-1", "Ada", "5550001111")
	testsupport.Enqueue(t, f.store, "cust-1", "Ada", "+15550001111")
	f.engine.Advance(ctx)

	// Backdate the claim past the hard timeout.
	entries, err := f.store.List(ctx, queue.StatusProcessing)
	if err != nil || len(entries) != 1 {
		t.Fatalf("List = %v, %v", entries, err)
	}
	old := time.Now().UTC().Add(-20 * time.Minute)
	entries[0].ClaimedAt = &old
	if err := f.store.Update(ctx, entries[0]); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	waitFor(t, "reaper finalize", func() bool {
		profile, err := f.store.GetProfile(ctx, "cust-1")
		return err == nil && profile != nil &&
			profile.LastCallStatus == provider.StatusFailed
	})

	profile, err := f.store.GetProfile(ctx, "cust-1")
	if err != nil || profile == nil {
		t.Fatalf("GetProfile = %#v, %v", profile, err)
	}
	if profile.LastCallStatus != provider.StatusFailed {
		t.Fatalf("last call status = %q", profile.LastCallStatus)
	}
}

func TestReaperReconcilesStuckCompletedCallWithOwnTranscript(t *testing.T) {
	f := newFixture(t, dispatch.Timing{
		PollInterval:   time.Hour,
		PollMaxWait:    2 * time.Hour,
		ReaperInterval: 20 * time.Millisecond,
		ReaperTimeout:  time.Hour,
		WebhookStuck:   11 * time.Minute,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := f.engine.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer f.engine.Stop()

	f.provider.status = provider.StatusCompleted
	testsupport.SeedProfile(t, f.store, "cust-1", "Ada", "5550001111")
	testsupport.Enqueue(t, f.store, "cust-1", "Ada", "+15550001111")
	f.engine.Advance(ctx)

	entries, err := f.store.List(ctx, queue.StatusProcessing)
	if err != nil || len(entries) != 1 {
		t.Fatalf("List = %v, %v", entries, err)
	}
	callID := entries[0].ID
	if err := f.corr.SetTranscript(ctx, callID, "agent: own transcript"); err != nil {
		t.Fatalf("SetTranscript failed: %v", err)
	}

	old := time.Now().UTC().Add(-12 * time.Minute)
	entries[0].ClaimedAt = &old
	if err := f.store.Update(ctx, entries[0]); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	waitFor(t, "stuck reconcile", func() bool {
		profile, err := f.store.GetProfile(ctx, "cust-1")
		return err == nil && profile != nil &&
			profile.LastCallStatus == provider.StatusCompleted &&
			strings.Contains(profile.Notes, "own transcript")
	})

	profile, err := f.store.GetProfile(ctx, "cust-1")
	if err != nil || profile == nil {
		t.Fatalf("GetProfile = %#v, %v", profile, err)
	}
	if profile.LastCallStatus != provider.StatusCompleted {
		t.Fatalf("last call status = %q", profile.LastCallStatus)
	}
	if !strings.Contains(profile.Notes, "own transcript") {
		t.Fatalf("notes should use the call's cached transcript: %q", profile.Notes)
	}
}

func TestStartResetsOrphanedProcessing(t *testing.T) {
	f := newFixture(t, dispatch.Timing{ReaperInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	testsupport.Enqueue(t, f.store, "cust-1", "Ada", "+15550001111")
	if _, err := f.store.ClaimNext(ctx); err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}

	if err := f.engine.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer f.engine.Stop()

	queued, err := f.store.List(ctx, queue.StatusQueued)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(queued) != 1 {
		t.Fatalf("expected orphaned entry reset to queued, got %d", len(queued))
	}
}
