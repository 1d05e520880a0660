package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// UpsertProfile inserts or replaces a customer profile.
func (s *Store) UpsertProfile(ctx context.Context, profile *Profile) error {
	if profile == nil {
		return errors.New("profile is nil")
	}
	if strings.TrimSpace(profile.CustomerID) == "" {
		return errors.New("customer id is required")
	}

	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}
	profile.UpdatedAt = now

	if err := s.execWithoutResultRetry(
		ctx,
		`INSERT INTO customer_profiles (
            customer_id, name, phone_number, country_code, email, company,
            industry, location, requirements, to_call, last_call_status,
            notes, tasks, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(customer_id) DO UPDATE SET
            name = excluded.name,
            phone_number = excluded.phone_number,
            country_code = excluded.country_code,
            email = excluded.email,
            company = excluded.company,
            industry = excluded.industry,
            location = excluded.location,
            requirements = excluded.requirements,
            to_call = excluded.to_call,
            last_call_status = excluded.last_call_status,
            notes = excluded.notes,
            tasks = excluded.tasks,
            updated_at = excluded.updated_at`,
		profile.CustomerID,
		nullableString(profile.Name),
		nullableString(profile.PhoneNumber),
		nullableString(profile.CountryCode),
		nullableString(profile.Email),
		nullableString(profile.Company),
		nullableString(profile.Industry),
		nullableString(profile.Location),
		nullableString(profile.Requirements),
		boolToInt(profile.ToCall),
		nullableString(profile.LastCallStatus),
		nullableString(profile.Notes),
		nullableString(profile.Tasks),
		profile.CreatedAt.Format(time.RFC3339Nano),
		timestamp,
	); err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// ReplaceProfiles clears the profile table and loads a fresh set. Used by
// workbook ingestion, which treats the workbook as the source of truth.
func (s *Store) ReplaceProfiles(ctx context.Context, profiles []*Profile) error {
	ctx = ensureContext(ctx)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM customer_profiles`); err != nil {
		return fmt.Errorf("clear profiles: %w", err)
	}

	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)
	for _, profile := range profiles {
		if profile == nil || strings.TrimSpace(profile.CustomerID) == "" {
			continue
		}
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO customer_profiles (
                customer_id, name, phone_number, country_code, email, company,
                industry, location, requirements, to_call, last_call_status,
                notes, tasks, created_at, updated_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			profile.CustomerID,
			nullableString(profile.Name),
			nullableString(profile.PhoneNumber),
			nullableString(profile.CountryCode),
			nullableString(profile.Email),
			nullableString(profile.Company),
			nullableString(profile.Industry),
			nullableString(profile.Location),
			nullableString(profile.Requirements),
			boolToInt(profile.ToCall),
			nullableString(profile.LastCallStatus),
			nullableString(profile.Notes),
			nullableString(profile.Tasks),
			timestamp,
			timestamp,
		); err != nil {
			return fmt.Errorf("insert profile %s: %w", profile.CustomerID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace: %w", err)
	}
	return nil
}

// GetProfile fetches a profile by customer identifier.
func (s *Store) GetProfile(ctx context.Context, customerID string) (*Profile, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+profileColumns+` FROM customer_profiles WHERE customer_id = ?`,
		customerID,
	)
	profile, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return profile, nil
}

// ListProfiles returns all profiles ordered by customer identifier.
func (s *Store) ListProfiles(ctx context.Context) ([]*Profile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+profileColumns+` FROM customer_profiles ORDER BY customer_id`)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*Profile
	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, profile)
	}
	return profiles, rows.Err()
}

// SetLastCallStatus records the most recent call outcome for a profile.
func (s *Store) SetLastCallStatus(ctx context.Context, customerID, callStatus string) error {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE customer_profiles SET last_call_status = ?, updated_at = ? WHERE customer_id = ?`,
		nullableString(callStatus),
		time.Now().UTC().Format(time.RFC3339Nano),
		customerID,
	)
	if err != nil {
		return fmt.Errorf("set last call status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendProfileNotes adds a timestamped note to a profile. Notes are never
// overwritten so call summaries accumulate across the sales cycle.
func (s *Store) AppendProfileNotes(ctx context.Context, customerID, note string) error {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil
	}

	stamped := fmt.Sprintf("\n[%s] %s", time.Now().UTC().Format("2006-01-02 15:04:05"), note)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE customer_profiles
         SET notes = COALESCE(notes, '') || ?, updated_at = ?
         WHERE customer_id = ?`,
		stamped,
		time.Now().UTC().Format(time.RFC3339Nano),
		customerID,
	)
	if err != nil {
		return fmt.Errorf("append profile notes: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendProfileTasks adds a timestamped block of follow-up tasks to a
// profile, never overwriting earlier ones.
func (s *Store) AppendProfileTasks(ctx context.Context, customerID, tasks string) error {
	tasks = strings.TrimSpace(tasks)
	if tasks == "" {
		return nil
	}

	stamped := fmt.Sprintf("\n[%s]\n%s", time.Now().UTC().Format("2006-01-02 15:04:05"), tasks)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE customer_profiles
         SET tasks = COALESCE(tasks, '') || ?, updated_at = ?
         WHERE customer_id = ?`,
		stamped,
		time.Now().UTC().Format(time.RFC3339Nano),
		customerID,
	)
	if err != nil {
		return fmt.Errorf("append profile tasks: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// PurgeProfiles removes all customer profiles.
func (s *Store) PurgeProfiles(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM customer_profiles`)
	if err != nil {
		return 0, fmt.Errorf("purge profiles: %w", err)
	}
	return res.RowsAffected()
}
