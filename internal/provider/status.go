package provider

import "strings"

// Telephony call statuses observed while polling.
const (
	StatusQueued     = "queued"
	StatusRinging    = "ringing"
	StatusInProgress = "in-progress"
	StatusCompleted  = "completed"
	StatusBusy       = "busy"
	StatusFailed     = "failed"
	StatusNoAnswer   = "no-answer"
	StatusCanceled   = "canceled"
)

var terminalStatuses = map[string]struct{}{
	StatusCompleted: {},
	StatusBusy:      {},
	StatusFailed:    {},
	StatusNoAnswer:  {},
	StatusCanceled:  {},
	// British spelling shows up in some webhook payloads.
	"cancelled": {},
}

// IsTerminal reports whether a telephony status means the call is over.
func IsTerminal(status string) bool {
	_, ok := terminalStatuses[strings.ToLower(strings.TrimSpace(status))]
	return ok
}
