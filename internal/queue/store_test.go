package queue_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"dialqueue/internal/queue"
	"dialqueue/internal/testsupport"
)

func TestOpenAppliesMigrations(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	entry, err := store.Enqueue(ctx, "cust-1", "Ada Lovelace", "+15550001111", "Hi Ada")
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if entry.ID == 0 {
		t.Fatal("expected entry ID to be assigned")
	}
	if entry.Status != queue.StatusQueued {
		t.Fatalf("expected queued status, got %s", entry.Status)
	}

	fetched, err := store.GetByID(ctx, entry.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if fetched == nil || fetched.CustomerID != "cust-1" || fetched.Greeting != "Hi Ada" {
		t.Fatalf("unexpected fetched entry: %#v", fetched)
	}

	found, err := store.FindByPhone(ctx, "+15550001111")
	if err != nil {
		t.Fatalf("FindByPhone failed: %v", err)
	}
	if found == nil || found.ID != entry.ID {
		t.Fatalf("expected to find inserted entry, got %#v", found)
	}
}

func TestEnqueueRejectsDuplicatePhone(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	if _, err := store.Enqueue(ctx, "cust-1", "Ada", "+15550001111", ""); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	_, err := store.Enqueue(ctx, "cust-2", "Grace", "+15550001111", "")
	if !errors.Is(err, queue.ErrDuplicatePhone) {
		t.Fatalf("expected ErrDuplicatePhone, got %v", err)
	}
}

func TestEnqueueRequiresCustomerAndPhone(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	if _, err := store.Enqueue(ctx, "", "Ada", "+15550001111", ""); err == nil {
		t.Fatal("expected error when customer id missing")
	}
	if _, err := store.Enqueue(ctx, "cust-1", "Ada", "", ""); err == nil {
		t.Fatal("expected error when phone missing")
	}
}

func TestClaimNextPromotesOldestQueued(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	first := testsupport.Enqueue(t, store, "cust-1", "Ada", "+15550001111")
	testsupport.Enqueue(t, store, "cust-2", "Grace", "+15550002222")

	claimed, err := store.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if claimed == nil || claimed.ID != first.ID {
		t.Fatalf("expected oldest entry claimed, got %#v", claimed)
	}
	if claimed.Status != queue.StatusProcessing {
		t.Fatalf("expected processing status, got %s", claimed.Status)
	}
	if claimed.ClaimedAt == nil {
		t.Fatal("expected claimed_at to be set")
	}

	count, err := store.CountProcessing(ctx)
	if err != nil {
		t.Fatalf("CountProcessing failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 processing entry, got %d", count)
	}
}

func TestClaimNextReturnsNilWhenEmpty(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	claimed, err := store.ClaimNext(context.Background())
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if claimed != nil {
		t.Fatalf("expected nil claim on empty queue, got %#v", claimed)
	}
}

func TestClaimNextSingleWinnerUnderContention(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		testsupport.Enqueue(t, store, fmt.Sprintf("cust-%d", i), "Lead", fmt.Sprintf("+1555000%04d", i))
	}

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed []int64
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry, err := store.ClaimNext(ctx)
			if err != nil {
				t.Errorf("ClaimNext: %v", err)
				return
			}
			if entry != nil {
				mu.Lock()
				claimed = append(claimed, entry.ID)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// The claim carries the single-flight guard, so exactly one worker
	// may hold a processing entry no matter how many race.
	if len(claimed) != 1 {
		t.Fatalf("expected exactly 1 successful claim, got %d", len(claimed))
	}
	count, err := store.CountProcessing(ctx)
	if err != nil || count != 1 {
		t.Fatalf("processing = %d, err = %v", count, err)
	}
}

func TestClaimNextRefusesWhileInFlight(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	first := testsupport.Enqueue(t, store, "cust-1", "Ada", "+15550001111")
	second := testsupport.Enqueue(t, store, "cust-2", "Grace", "+15550002222")

	claimed, err := store.ClaimNext(ctx)
	if err != nil || claimed == nil || claimed.ID != first.ID {
		t.Fatalf("ClaimNext = %#v, %v", claimed, err)
	}

	blocked, err := store.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if blocked != nil {
		t.Fatalf("claim must refuse while a call is in flight, got %#v", blocked)
	}

	if _, err := store.Remove(ctx, first.ID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	next, err := store.ClaimNext(ctx)
	if err != nil || next == nil || next.ID != second.ID {
		t.Fatalf("ClaimNext after finalize = %#v, %v", next, err)
	}
}

func TestRemoveReportsWinner(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	entry := testsupport.Enqueue(t, store, "cust-1", "Ada", "+15550001111")

	removed, err := store.Remove(ctx, entry.ID)
	if err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if !removed {
		t.Fatal("first remove should report a deleted row")
	}

	removed, err = store.Remove(ctx, entry.ID)
	if err != nil {
		t.Fatalf("second Remove failed: %v", err)
	}
	if removed {
		t.Fatal("second remove should lose the race")
	}
}

func TestRemoveProcessingByCustomer(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.Enqueue(t, store, "cust-1", "Ada", "+15550001111")

	// Still queued, so the processing-scoped delete must not touch it.
	removed, err := store.RemoveProcessingByCustomer(ctx, "cust-1")
	if err != nil {
		t.Fatalf("RemoveProcessingByCustomer failed: %v", err)
	}
	if removed {
		t.Fatal("queued entry should not be removed by processing delete")
	}

	if _, err := store.ClaimNext(ctx); err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}

	removed, err = store.RemoveProcessingByCustomer(ctx, "cust-1")
	if err != nil {
		t.Fatalf("RemoveProcessingByCustomer failed: %v", err)
	}
	if !removed {
		t.Fatal("expected processing entry to be removed")
	}
}

func TestStaleProcessingHonorsCutoff(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	entry := testsupport.Enqueue(t, store, "cust-1", "Ada", "+15550001111")
	claimed, err := store.ClaimNext(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}

	stale, err := store.StaleProcessing(ctx, time.Now().UTC().Add(-time.Minute))
	if err != nil {
		t.Fatalf("StaleProcessing failed: %v", err)
	}
	if len(stale) != 0 {
		t.Fatalf("fresh claim should not be stale, got %d entries", len(stale))
	}

	old := time.Now().UTC().Add(-20 * time.Minute)
	claimed.ClaimedAt = &old
	if err := store.Update(ctx, claimed); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	stale, err = store.StaleProcessing(ctx, time.Now().UTC().Add(-15*time.Minute))
	if err != nil {
		t.Fatalf("StaleProcessing failed: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != entry.ID {
		t.Fatalf("expected one stale entry, got %#v", stale)
	}
}

func TestResetStuckProcessing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.Enqueue(t, store, "cust-1", "Ada", "+15550001111")
	testsupport.Enqueue(t, store, "cust-2", "Grace", "+15550002222")
	if _, err := store.ClaimNext(ctx); err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}

	count, err := store.ResetStuckProcessing(ctx)
	if err != nil {
		t.Fatalf("ResetStuckProcessing failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 entry reset, got %d", count)
	}

	entries, err := store.List(ctx, queue.StatusQueued)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 queued entries after reset, got %d", len(entries))
	}
	for _, entry := range entries {
		if entry.ClaimedAt != nil {
			t.Fatalf("entry %d should have claimed_at cleared", entry.ID)
		}
	}
}

func TestListOrdersByCreation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	a := testsupport.Enqueue(t, store, "cust-a", "A", "+15550001111")
	b := testsupport.Enqueue(t, store, "cust-b", "B", "+15550002222")

	entries, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 2 || entries[0].ID != a.ID || entries[1].ID != b.ID {
		t.Fatalf("unexpected ordering: %#v", entries)
	}
}

func TestHealthSummaryCounts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.Enqueue(t, store, "cust-1", "Ada", "+15550001111")
	testsupport.Enqueue(t, store, "cust-2", "Grace", "+15550002222")
	if _, err := store.ClaimNext(ctx); err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Total != 2 || health.Queued != 1 || health.Processing != 1 {
		t.Fatalf("unexpected health summary: %#v", health)
	}
}

func TestProfileRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	profile := &queue.Profile{
		CustomerID:   "cust-1",
		Name:         "Ada Lovelace",
		PhoneNumber:  "(555) 000-1111",
		CountryCode:  "44",
		Email:        "ada@example.com",
		Company:      "Analytical Engines",
		Industry:     "Computing",
		Location:     "London",
		Requirements: "needs batch tabulation",
		ToCall:       true,
	}
	if err := store.UpsertProfile(ctx, profile); err != nil {
		t.Fatalf("UpsertProfile failed: %v", err)
	}

	fetched, err := store.GetProfile(ctx, "cust-1")
	if err != nil {
		t.Fatalf("GetProfile failed: %v", err)
	}
	if fetched == nil || fetched.Company != "Analytical Engines" || !fetched.ToCall {
		t.Fatalf("unexpected profile: %#v", fetched)
	}
	if fetched.Industry != "Computing" || fetched.Location != "London" || fetched.Requirements != "needs batch tabulation" {
		t.Fatalf("enrichment fields lost: %#v", fetched)
	}
	if got := fetched.DialNumber(); got != "445550001111" {
		t.Fatalf("DialNumber = %q", got)
	}

	fetched.Company = "Babbage & Co"
	if err := store.UpsertProfile(ctx, fetched); err != nil {
		t.Fatalf("second UpsertProfile failed: %v", err)
	}
	updated, err := store.GetProfile(ctx, "cust-1")
	if err != nil {
		t.Fatalf("GetProfile failed: %v", err)
	}
	if updated.Company != "Babbage & Co" {
		t.Fatalf("expected company update, got %q", updated.Company)
	}
}

func TestReplaceProfilesClearsExisting(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.SeedProfile(t, store, "old-1", "Old Lead", "+15550009999")

	fresh := []*queue.Profile{
		{CustomerID: "new-1", Name: "New Lead", PhoneNumber: "+15550001111", ToCall: true},
		{CustomerID: "new-2", Name: "Other Lead", PhoneNumber: "+15550002222"},
	}
	if err := store.ReplaceProfiles(ctx, fresh); err != nil {
		t.Fatalf("ReplaceProfiles failed: %v", err)
	}

	profiles, err := store.ListProfiles(ctx)
	if err != nil {
		t.Fatalf("ListProfiles failed: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("expected 2 profiles after replace, got %d", len(profiles))
	}
	old, err := store.GetProfile(ctx, "old-1")
	if err != nil {
		t.Fatalf("GetProfile failed: %v", err)
	}
	if old != nil {
		t.Fatal("expected old profile to be cleared")
	}
}

func TestSetLastCallStatusAndNotes(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.SeedProfile(t, store, "cust-1", "Ada", "+15550001111")

	if err := store.SetLastCallStatus(ctx, "cust-1", "completed"); err != nil {
		t.Fatalf("SetLastCallStatus failed: %v", err)
	}
	if err := store.AppendProfileNotes(ctx, "cust-1", "Interested in premium plan"); err != nil {
		t.Fatalf("AppendProfileNotes failed: %v", err)
	}
	if err := store.AppendProfileNotes(ctx, "cust-1", "Follow up next week"); err != nil {
		t.Fatalf("AppendProfileNotes failed: %v", err)
	}

	profile, err := store.GetProfile(ctx, "cust-1")
	if err != nil {
		t.Fatalf("GetProfile failed: %v", err)
	}
	if profile.LastCallStatus != "completed" {
		t.Fatalf("last call status = %q", profile.LastCallStatus)
	}
	if !strings.Contains(profile.Notes, "Interested in premium plan") ||
		!strings.Contains(profile.Notes, "Follow up next week") {
		t.Fatalf("notes missing appended entries: %q", profile.Notes)
	}
	if !strings.HasPrefix(strings.TrimPrefix(profile.Notes, "\n"), "[") {
		t.Fatalf("notes should carry timestamps: %q", profile.Notes)
	}

	if err := store.SetLastCallStatus(ctx, "missing", "failed"); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown customer, got %v", err)
	}
}

func TestAppendProfileNotesIgnoresEmpty(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.SeedProfile(t, store, "cust-1", "Ada", "+15550001111")

	if err := store.AppendProfileNotes(ctx, "cust-1", "   "); err != nil {
		t.Fatalf("AppendProfileNotes failed: %v", err)
	}
	profile, err := store.GetProfile(ctx, "cust-1")
	if err != nil {
		t.Fatalf("GetProfile failed: %v", err)
	}
	if profile.Notes != "" {
		t.Fatalf("expected empty notes, got %q", profile.Notes)
	}
}

func TestAppendProfileTasks(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.SeedProfile(t, store, "cust-1", "Ada", "+15550001111")

	if err := store.AppendProfileTasks(ctx, "cust-1", "1. Send pricing sheet\n2. Book demo"); err != nil {
		t.Fatalf("AppendProfileTasks failed: %v", err)
	}
	if err := store.AppendProfileTasks(ctx, "cust-1", "1. Email contract"); err != nil {
		t.Fatalf("AppendProfileTasks failed: %v", err)
	}
	if err := store.AppendProfileTasks(ctx, "cust-1", "   "); err != nil {
		t.Fatalf("empty tasks should be a no-op, got %v", err)
	}

	profile, err := store.GetProfile(ctx, "cust-1")
	if err != nil {
		t.Fatalf("GetProfile failed: %v", err)
	}
	if !strings.Contains(profile.Tasks, "Book demo") || !strings.Contains(profile.Tasks, "Email contract") {
		t.Fatalf("tasks missing appended entries: %q", profile.Tasks)
	}
	if !strings.HasPrefix(strings.TrimPrefix(profile.Tasks, "\n"), "[") {
		t.Fatalf("tasks should carry timestamps: %q", profile.Tasks)
	}

	if err := store.AppendProfileTasks(ctx, "missing", "1. Anything"); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown customer, got %v", err)
	}
}

func TestCleanPhoneNumber(t *testing.T) {
	cases := map[string]string{
		"(555) 000-1111":  "5550001111",
		"+1 555.000.2222": "15550002222",
		"555 000 3333":    "5550003333",
		"":                "",
	}
	for raw, want := range cases {
		if got := queue.CleanPhoneNumber(raw); got != want {
			t.Errorf("CleanPhoneNumber(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestNormalizeCountryCode(t *testing.T) {
	cases := map[string]string{
		"91":   "91",
		"91.0": "91",
		" 44 ": "44",
		"":     "1",
		"+uk":  "+uk",
	}
	for raw, want := range cases {
		if got := queue.NormalizeCountryCode(raw); got != want {
			t.Errorf("NormalizeCountryCode(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestDialNumberConcatenatesPrefix(t *testing.T) {
	p := queue.Profile{PhoneNumber: "5551234", CountryCode: "91"}
	if got := p.DialNumber(); got != "915551234" {
		t.Fatalf("DialNumber = %q", got)
	}
}

func TestParseStatus(t *testing.T) {
	if status, ok := queue.ParseStatus(" Queued "); !ok || status != queue.StatusQueued {
		t.Fatalf("ParseStatus queued = %q, %v", status, ok)
	}
	if _, ok := queue.ParseStatus("completed"); ok {
		t.Fatal("completed is not a persisted status")
	}
}
