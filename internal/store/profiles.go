package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// The witness, resistor and analyst tables share one shape, as do their
// child tables (testimonies, resistance entries, analyses). One descriptor
// per kind keeps the six-query set from being written out three times.
type profileTables struct {
	table      string
	idCol      string
	entryTable string
	entryIDCol string
	entryFKCol string
}

var profileKinds = map[ProfileKind]profileTables{
	KindWitness: {
		table:      "witnesses",
		idCol:      "witness_id",
		entryTable: "testimonies",
		entryIDCol: "testimony_id",
		entryFKCol: "witness_id",
	},
	KindResistor: {
		table:      "resistors",
		idCol:      "resistor_id",
		entryTable: "resistance_entries",
		entryIDCol: "entry_id",
		entryFKCol: "resistor_id",
	},
	KindAnalyst: {
		table:      "analysts",
		idCol:      "analyst_id",
		entryTable: "analyses",
		entryIDCol: "analysis_id",
		entryFKCol: "analyst_id",
	},
}

func (s *PostgresStore) ListProfiles(ctx context.Context, kind ProfileKind, countryID int64) ([]ProfileSummary, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	t := profileKinds[kind]
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s, name, image FROM %s WHERE country_id=$1 ORDER BY name
	`, t.idCol, t.table), countryID)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", t.table, err)
	}
	defer rows.Close()

	items := make([]ProfileSummary, 0)
	for rows.Next() {
		var item ProfileSummary
		if err := rows.Scan(&item.ID, &item.Name, &item.Image); err != nil {
			return nil, fmt.Errorf("scan %s: %w", t.table, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", t.table, err)
	}
	return items, nil
}

// GetProfile loads one profile plus all its entries.
func (s *PostgresStore) GetProfile(ctx context.Context, kind ProfileKind, countryID int64, profileID string) (Profile, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	t := profileKinds[kind]
	var profile Profile
	var rowID int64
	var social []byte
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, %s, name, bio, image, social FROM %s WHERE country_id=$1 AND %s=$2
	`, t.idCol, t.table, t.idCol), countryID, profileID).Scan(
		&rowID, &profile.ID, &profile.Name, &profile.Bio, &profile.Image, &social,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("get %s: %w", t.table, err)
	}
	if err := decodeDoc(social, &profile.Social, t.table+" social links"); err != nil {
		return Profile{}, err
	}
	if profile.Social == nil {
		profile.Social = SocialLinks{}
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s, title, summary, date, paragraphs, content_blocks, media
		FROM %s WHERE %s=$1
	`, t.entryIDCol, t.entryTable, t.entryFKCol), rowID)
	if err != nil {
		return Profile{}, fmt.Errorf("list %s: %w", t.entryTable, err)
	}
	defer rows.Close()

	profile.Entries = make([]ProfileEntry, 0)
	for rows.Next() {
		entry, err := scanProfileEntry(rows, t)
		if err != nil {
			return Profile{}, err
		}
		profile.Entries = append(profile.Entries, entry)
	}
	if err := rows.Err(); err != nil {
		return Profile{}, fmt.Errorf("iterate %s: %w", t.entryTable, err)
	}
	return profile, nil
}

func (s *PostgresStore) GetProfileEntry(ctx context.Context, kind ProfileKind, countryID int64, profileID, entryID string) (ProfileEntry, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	t := profileKinds[kind]
	var rowID int64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id FROM %s WHERE country_id=$1 AND %s=$2
	`, t.table, t.idCol), countryID, profileID).Scan(&rowID)
	if errors.Is(err, sql.ErrNoRows) {
		return ProfileEntry{}, ErrNotFound
	}
	if err != nil {
		return ProfileEntry{}, fmt.Errorf("get %s: %w", t.table, err)
	}

	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s, title, summary, date, paragraphs, content_blocks, media
		FROM %s WHERE %s=$1 AND %s=$2
	`, t.entryIDCol, t.entryTable, t.entryFKCol, t.entryIDCol), rowID, entryID)

	entry, err := scanProfileEntry(row, t)
	if errors.Is(err, sql.ErrNoRows) {
		return ProfileEntry{}, ErrNotFound
	}
	if err != nil {
		return ProfileEntry{}, err
	}
	return entry, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfileEntry(row rowScanner, t profileTables) (ProfileEntry, error) {
	var entry ProfileEntry
	var paragraphs, blocks, media []byte
	if err := row.Scan(&entry.ID, &entry.Title, &entry.Summary, &entry.Date, &paragraphs, &blocks, &media); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ProfileEntry{}, sql.ErrNoRows
		}
		return ProfileEntry{}, fmt.Errorf("scan %s: %w", t.entryTable, err)
	}
	if err := decodeDoc(paragraphs, &entry.Paragraphs, t.entryTable+" paragraphs"); err != nil {
		return ProfileEntry{}, err
	}
	if err := decodeDoc(blocks, &entry.ContentBlocks, t.entryTable+" content blocks"); err != nil {
		return ProfileEntry{}, err
	}
	if err := decodeDoc(media, &entry.Media, t.entryTable+" media"); err != nil {
		return ProfileEntry{}, err
	}
	return entry, nil
}

func (s *PostgresStore) InsertProfile(ctx context.Context, kind ProfileKind, countryID int64, profile Profile) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	t := profileKinds[kind]
	social, err := encodeDoc(profile.Social)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (%s, country_id, name, bio, image, social)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, t.table, t.idCol), profile.ID, countryID, profile.Name, profile.Bio, profile.Image, social)
	if err != nil {
		return fmt.Errorf("insert %s: %w", t.table, err)
	}
	return nil
}

func (s *PostgresStore) UpdateProfile(ctx context.Context, kind ProfileKind, countryID int64, profileID string, profile Profile) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	t := profileKinds[kind]
	social, err := encodeDoc(profile.Social)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET name=$3, bio=$4, image=$5, social=$6
		WHERE country_id=$1 AND %s=$2
	`, t.table, t.idCol), countryID, profileID, profile.Name, profile.Bio, profile.Image, social)
	if err != nil {
		return fmt.Errorf("update %s: %w", t.table, err)
	}
	return requireRow(result)
}

// DeleteProfile removes a profile; its entries go with it via ON DELETE CASCADE.
func (s *PostgresStore) DeleteProfile(ctx context.Context, kind ProfileKind, countryID int64, profileID string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	t := profileKinds[kind]
	result, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM %s WHERE country_id=$1 AND %s=$2
	`, t.table, t.idCol), countryID, profileID)
	if err != nil {
		return fmt.Errorf("delete %s: %w", t.table, err)
	}
	return requireRow(result)
}
