package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Enqueue inserts a new queued call for a customer. The phone number must be
// unique across the queue; attempts to enqueue a number that is already
// pending or in flight return ErrDuplicatePhone.
func (s *Store) Enqueue(ctx context.Context, customerID, name, phoneNumber, greeting string) (*Entry, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, errors.New("customer id is required")
	}
	if strings.TrimSpace(phoneNumber) == "" {
		return nil, errors.New("phone number is required")
	}

	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO call_queue (
            customer_id, name, phone_number, greeting, status, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		customerID,
		nullableString(name),
		phoneNumber,
		nullableString(greeting),
		StatusQueued,
		timestamp,
		timestamp,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: call_queue.phone_number") {
			return nil, ErrDuplicatePhone
		}
		return nil, fmt.Errorf("insert queue entry: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	return s.GetByID(ctx, id)
}

// GetByID fetches a queue entry by identifier.
func (s *Store) GetByID(ctx context.Context, id int64) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM call_queue WHERE id = ?`, id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}
	return entry, nil
}

// FindByPhone returns the entry matching a phone number, if any.
func (s *Store) FindByPhone(ctx context.Context, phoneNumber string) (*Entry, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+entryColumns+` FROM call_queue WHERE phone_number = ? LIMIT 1`,
		phoneNumber,
	)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by phone: %w", err)
	}
	return entry, nil
}

// ClaimNext atomically promotes the oldest queued entry to processing and
// returns it. The single-flight guard lives inside the statement: the claim
// only succeeds while no entry is processing, so concurrent callers can
// never hold two claims at once. Returns nil when the queue is empty or a
// call is already in flight.
func (s *Store) ClaimNext(ctx context.Context) (*Entry, error) {
	ctx = ensureContext(ctx)
	now := time.Now().UTC().Format(time.RFC3339Nano)

	var (
		entry *Entry
		opErr error
	)
	if err := retryOnBusy(ctx, func() error {
		row := s.db.QueryRowContext(
			ctx,
			`UPDATE call_queue
             SET status = ?, claimed_at = ?, updated_at = ?
             WHERE id = (
                 SELECT id FROM call_queue WHERE status = ? ORDER BY created_at, id LIMIT 1
             ) AND status = ?
             AND NOT EXISTS (SELECT 1 FROM call_queue WHERE status = ?)
             RETURNING `+entryColumns,
			StatusProcessing,
			now,
			now,
			StatusQueued,
			StatusQueued,
			StatusProcessing,
		)
		entry, opErr = scanEntry(row)
		return opErr
	}); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim next entry: %w", err)
	}
	return entry, nil
}

// CountProcessing returns the number of entries with calls in flight.
func (s *Store) CountProcessing(ctx context.Context) (int, error) {
	var count int
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM call_queue WHERE status = ?`, StatusProcessing)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count processing: %w", err)
	}
	return count, nil
}

// List returns queue entries filtered by status set (or all entries when no
// status is provided), oldest first.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Entry, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + entryColumns + ` FROM call_queue`
	orderClause := ` ORDER BY created_at, id`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		query := baseQuery + ` WHERE status IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list queue entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Update persists changes to an existing queue entry.
func (s *Store) Update(ctx context.Context, entry *Entry) error {
	if entry == nil {
		return errors.New("entry is nil")
	}
	entry.UpdatedAt = time.Now().UTC()
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE call_queue
         SET customer_id = ?, name = ?, phone_number = ?, greeting = ?,
             status = ?, updated_at = ?, claimed_at = ?
         WHERE id = ?`,
		entry.CustomerID,
		nullableString(entry.Name),
		entry.PhoneNumber,
		nullableString(entry.Greeting),
		entry.Status,
		entry.UpdatedAt.Format(time.RFC3339Nano),
		nullableTime(entry.ClaimedAt),
		entry.ID,
	); err != nil {
		return fmt.Errorf("update entry: %w", err)
	}
	return nil
}

// Remove deletes an entry by identifier. The boolean result reports whether
// a row was actually deleted, which lets racing finalizers decide a single
// winner for an entry's terminal outcome.
func (s *Store) Remove(ctx context.Context, id int64) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM call_queue WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete entry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// RemoveProcessingByCustomer deletes the in-flight entry for a customer.
// Used by the webhook path, which is keyed by customer rather than entry id.
func (s *Store) RemoveProcessingByCustomer(ctx context.Context, customerID string) (bool, error) {
	res, err := s.execWithRetry(
		ctx,
		`DELETE FROM call_queue WHERE customer_id = ? AND status = ?`,
		customerID,
		StatusProcessing,
	)
	if err != nil {
		return false, fmt.Errorf("delete processing entry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// StaleProcessing returns in-flight entries claimed before the cutoff.
func (s *Store) StaleProcessing(ctx context.Context, cutoff time.Time) ([]*Entry, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+entryColumns+` FROM call_queue
         WHERE status = ? AND claimed_at IS NOT NULL AND claimed_at < ?
         ORDER BY claimed_at, id`,
		StatusProcessing,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("query stale processing: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ResetStuckProcessing returns in-flight entries to queued. Used at daemon
// startup when no call can still be live from a previous run.
func (s *Store) ResetStuckProcessing(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE call_queue
         SET status = ?, claimed_at = NULL, updated_at = ?
         WHERE status = ?`,
		StatusQueued,
		time.Now().UTC().Format(time.RFC3339Nano),
		StatusProcessing,
	)
	if err != nil {
		return 0, fmt.Errorf("reset stuck entries: %w", err)
	}
	return res.RowsAffected()
}

// Clear removes all entries from the queue.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM call_queue`)
	if err != nil {
		return 0, fmt.Errorf("clear queue: %w", err)
	}
	return res.RowsAffected()
}

// Stats returns a count of entries grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM call_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates queue state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusQueued:
			health.Queued += count
		case StatusProcessing:
			health.Processing += count
		}
	}
	return health, nil
}
