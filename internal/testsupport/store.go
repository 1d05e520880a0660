package testsupport

import (
	"context"
	"testing"

	"dialqueue/internal/config"
	"dialqueue/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// Enqueue creates a queued call entry for tests using the provided store.
func Enqueue(t testing.TB, store *queue.Store, customerID, name, phone string) *queue.Entry {
	t.Helper()

	entry, err := store.Enqueue(context.Background(), customerID, name, phone, "")
	if err != nil {
		t.Fatalf("store.Enqueue: %v", err)
	}
	return entry
}

// SeedProfile upserts a basic customer profile for tests.
func SeedProfile(t testing.TB, store *queue.Store, customerID, name, phone string) *queue.Profile {
	t.Helper()

	profile := &queue.Profile{
		CustomerID:  customerID,
		Name:        name,
		PhoneNumber: phone,
		CountryCode: "1",
		ToCall:      true,
	}
	if err := store.UpsertProfile(context.Background(), profile); err != nil {
		t.Fatalf("store.UpsertProfile: %v", err)
	}
	return profile
}
