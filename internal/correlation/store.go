// Package correlation tracks the linkage between in-flight queue entries
// and the provider-side identifiers a call accumulates: the conversation id
// returned at placement, the telephony SID used for status polls, and the
// transcript captured along the way.
//
// Entries are keyed by queue entry id with a secondary customer index for
// the webhook path. The store is advisory state, not the source of truth;
// losing it degrades reconciliation to the reaper sweep but never corrupts
// the queue.
package correlation

import (
	"context"
	"time"
)

// Handle links a queue entry to its provider-side call identifiers.
type Handle struct {
	CallID         int64     `json:"call_id"`
	CustomerID     string    `json:"customer_id"`
	DispatchID     string    `json:"dispatch_id"`
	ConversationID string    `json:"conversation_id"`
	ProviderSID    string    `json:"provider_sid"`
	StartedAt      time.Time `json:"started_at"`
}

// Store persists correlation handles for in-flight calls.
type Store interface {
	// Put records the handle for a call, replacing any previous one.
	Put(ctx context.Context, handle Handle) error
	// Get returns the handle for a queue entry id.
	Get(ctx context.Context, callID int64) (Handle, bool, error)
	// ByCustomer returns the handle for a customer's in-flight call.
	ByCustomer(ctx context.Context, customerID string) (Handle, bool, error)
	// SetTranscript caches the transcript captured for a call.
	SetTranscript(ctx context.Context, callID int64, transcript string) error
	// Transcript returns the cached transcript for a call.
	Transcript(ctx context.Context, callID int64) (string, bool, error)
	// Remove drops all state for a call. Safe to call repeatedly.
	Remove(ctx context.Context, callID int64) error
}
