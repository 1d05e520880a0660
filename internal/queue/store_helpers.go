package queue

import (
	"database/sql"
	"errors"
	"time"
)

const entryColumns = "id, customer_id, name, phone_number, greeting, status, created_at, updated_at, claimed_at"

const profileColumns = "customer_id, name, phone_number, country_code, email, company, industry, location, requirements, to_call, last_call_status, notes, tasks, created_at, updated_at"

func scanEntry(scanner interface{ Scan(dest ...any) error }) (*Entry, error) {
	var (
		id         int64
		customerID string
		name       sql.NullString
		phone      string
		greeting   sql.NullString
		statusStr  string
		createdRaw sql.NullString
		updatedRaw sql.NullString
		claimedRaw sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&customerID,
		&name,
		&phone,
		&greeting,
		&statusStr,
		&createdRaw,
		&updatedRaw,
		&claimedRaw,
	); err != nil {
		return nil, err
	}

	entry := &Entry{
		ID:          id,
		CustomerID:  customerID,
		Name:        name.String,
		PhoneNumber: phone,
		Greeting:    greeting.String,
		Status:      Status(statusStr),
	}

	if created, err := parseTimeString(createdRaw.String); err == nil {
		entry.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		entry.UpdatedAt = updated
	}
	if claimedRaw.Valid {
		if claimed, err := parseTimeString(claimedRaw.String); err == nil {
			entry.ClaimedAt = &claimed
		}
	}
	return entry, nil
}

func scanProfile(scanner interface{ Scan(dest ...any) error }) (*Profile, error) {
	var (
		customerID     string
		name           sql.NullString
		phone          sql.NullString
		countryCode    sql.NullString
		email          sql.NullString
		company        sql.NullString
		industry       sql.NullString
		location       sql.NullString
		requirements   sql.NullString
		toCall         sql.NullInt64
		lastCallStatus sql.NullString
		notes          sql.NullString
		tasks          sql.NullString
		createdRaw     sql.NullString
		updatedRaw     sql.NullString
	)

	if err := scanner.Scan(
		&customerID,
		&name,
		&phone,
		&countryCode,
		&email,
		&company,
		&industry,
		&location,
		&requirements,
		&toCall,
		&lastCallStatus,
		&notes,
		&tasks,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	profile := &Profile{
		CustomerID:     customerID,
		Name:           name.String,
		PhoneNumber:    phone.String,
		CountryCode:    countryCode.String,
		Email:          email.String,
		Company:        company.String,
		Industry:       industry.String,
		Location:       location.String,
		Requirements:   requirements.String,
		LastCallStatus: lastCallStatus.String,
		Notes:          notes.String,
		Tasks:          tasks.String,
	}
	if toCall.Valid {
		profile.ToCall = toCall.Int64 != 0
	}

	if created, err := parseTimeString(createdRaw.String); err == nil {
		profile.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		profile.UpdatedAt = updated
	}
	return profile, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	v := value.UTC().Format(time.RFC3339Nano)
	return v
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
