package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidStatus is returned when a pending change is asked to transition
// to anything other than approved or rejected.
var ErrInvalidStatus = errors.New("invalid change status")

// StageChange records a staged mutation with status pending. The payload is
// opaque here; the calling route has already validated it for its section.
// Only the envelope fields are enforced.
func (s *PostgresStore) StageChange(ctx context.Context, change PendingChange) error {
	if change.ChangeID == "" || change.Type == "" || change.Section == "" || change.AuthorID == "" {
		return fmt.Errorf("stage change: missing envelope fields")
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	payload := change.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	var countryCode any
	if change.CountryCode != "" {
		countryCode = change.CountryCode
	}
	var itemID any
	if change.ItemID != "" {
		itemID = change.ItemID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_changes (change_id, type, section, country_code, lang, item_id, data, user_id, user_name, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'pending')
	`, change.ChangeID, change.Type, change.Section, countryCode, change.Lang, itemID, []byte(payload), change.AuthorID, change.AuthorName)
	if err != nil {
		return fmt.Errorf("stage change: %w", err)
	}
	return nil
}

// ListPendingChanges returns only pending records, newest first, with the
// payload parsed so the moderation UI needs no second round trip.
func (s *PostgresStore) ListPendingChanges(ctx context.Context) ([]PendingChange, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT change_id, type, section, country_code, lang, item_id, data, user_id, user_name, status, created_at
		FROM pending_changes
		WHERE status='pending'
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list pending changes: %w", err)
	}
	defer rows.Close()

	items := make([]PendingChange, 0)
	for rows.Next() {
		var item PendingChange
		var countryCode, itemID sql.NullString
		var payload []byte
		if err := rows.Scan(&item.ChangeID, &item.Type, &item.Section, &countryCode, &item.Lang, &itemID, &payload, &item.AuthorID, &item.AuthorName, &item.Status, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pending change: %w", err)
		}
		item.CountryCode = countryCode.String
		item.ItemID = itemID.String
		// A payload that no longer parses must not break the whole listing.
		if json.Valid(payload) {
			item.Payload = json.RawMessage(payload)
		} else {
			item.Payload = json.RawMessage("{}")
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending changes: %w", err)
	}
	return items, nil
}

// SetChangeStatus moves a change to a terminal status and returns the status
// the record holds afterwards. The update is guarded on status='pending', so
// the first terminal transition wins; repeating a transition on an already
// terminal record is a no-op success. Only approved and rejected are legal
// targets.
func (s *PostgresStore) SetChangeStatus(ctx context.Context, changeID, status string) (string, error) {
	if status != ChangeApproved && status != ChangeRejected {
		return "", ErrInvalidStatus
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, `
		UPDATE pending_changes SET status=$2 WHERE change_id=$1 AND status='pending'
	`, changeID, status)
	if err != nil {
		return "", fmt.Errorf("set change status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("set change status: %w", err)
	}
	if affected > 0 {
		return status, nil
	}

	var current string
	err = s.db.QueryRowContext(ctx, `
		SELECT status FROM pending_changes WHERE change_id=$1
	`, changeID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read change status: %w", err)
	}
	return current, nil
}
