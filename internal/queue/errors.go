package queue

import "errors"

// ErrDuplicatePhone is returned by Enqueue when a queue entry already exists
// for the same cleaned phone number.
var ErrDuplicatePhone = errors.New("phone number already queued")

// ErrNotFound is returned when a lookup targets an entry or profile that
// does not exist.
var ErrNotFound = errors.New("not found")
