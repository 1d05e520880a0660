package queue

import (
	"strconv"
	"strings"
	"time"
)

// Status represents the lifecycle of a call queue entry. Entries leave the
// table entirely when a call reaches a terminal outcome, so only two states
// are persisted.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
)

var allStatuses = []Status{
	StatusQueued,
	StatusProcessing,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// Entry represents a pending or in-flight outbound call persisted in SQLite.
type Entry struct {
	ID          int64
	CustomerID  string
	Name        string
	PhoneNumber string
	Greeting    string
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ClaimedAt   *time.Time
}

// Profile represents a sales lead loaded from a workbook or registered
// through the API. Notes and Tasks are append-only and carry timestamped
// call summaries and follow-ups.
type Profile struct {
	CustomerID     string
	Name           string
	PhoneNumber    string
	CountryCode    string
	Email          string
	Company        string
	Industry       string
	Location       string
	Requirements   string
	ToCall         bool
	LastCallStatus string
	Notes          string
	Tasks          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DialNumber returns the fully qualified number used for call placement:
// the country code prefix concatenated directly with the cleaned
// subscriber number.
func (p Profile) DialNumber() string {
	return NormalizeCountryCode(p.CountryCode) + CleanPhoneNumber(p.PhoneNumber)
}

// NormalizeCountryCode trims a raw country code and collapses numeric
// values to their integer form. Spreadsheet cells often deliver codes as
// floats ("91.0"), which would otherwise corrupt the dialed number.
// Defaults to "1" when absent.
func NormalizeCountryCode(raw string) string {
	code := strings.TrimSpace(raw)
	if code == "" {
		return "1"
	}
	if f, err := strconv.ParseFloat(code, 64); err == nil {
		return strconv.FormatInt(int64(f), 10)
	}
	return code
}

// CleanPhoneNumber strips every character except digits from a raw phone
// value so formatting differences never defeat the duplicate check.
func CleanPhoneNumber(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsProcessing reports whether the entry has an in-flight call.
func (e Entry) IsProcessing() bool {
	return e.Status == StatusProcessing
}

// HealthSummary describes aggregated queue counts per lifecycle state.
type HealthSummary struct {
	Total      int
	Queued     int
	Processing int
}
