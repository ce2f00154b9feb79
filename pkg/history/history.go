// Package history keeps every saved calibration document in a local SQLite
// database, so earlier calibrations can be listed and restored.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/tvalice/tvroll/pkg/calibration"
)

// ErrNotFound is returned when no record has the requested id.
var ErrNotFound = errors.New("history record not found")

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	id           TEXT PRIMARY KEY,
	created_at   INTEGER NOT NULL,
	reason       TEXT NOT NULL,
	total_pages  INTEGER NOT NULL,
	current_page INTEGER NOT NULL,
	document     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS snapshots_created_at ON snapshots (created_at);
`

// Record is one stored snapshot.
type Record struct {
	ID          string               `json:"id"`
	CreatedAt   time.Time            `json:"createdAt"`
	Reason      string               `json:"reason"`
	TotalPages  int                  `json:"totalPages"`
	CurrentPage int                  `json:"currentPage"`
	Document    calibration.Document `json:"document"`
}

// Store is a SQLite backed snapshot log.
type Store struct {
	db *sql.DB
}

// Open opens (and creates if needed) the database at path. Use ":memory:"
// for a throwaway store.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open history database %s", path)
	}
	// SQLite allows one writer; an in-memory database also needs to stay
	// on a single connection to be shared.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, pkgerrors.Wrapf(err, "failed to create history schema in %s", path)
	}

	logrus.WithField("path", path).Debug("history database opened")
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append stores doc and returns the new record.
func (s *Store) Append(ctx context.Context, reason string, doc calibration.Document) (Record, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return Record{}, pkgerrors.Wrapf(err, "failed to encode calibration document")
	}

	rec := Record{
		ID:          uuid.NewString(),
		CreatedAt:   time.Now().UTC(),
		Reason:      reason,
		TotalPages:  doc.TotalPages,
		CurrentPage: doc.CurrentPage,
		Document:    doc,
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (id, created_at, reason, total_pages, current_page, document) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.CreatedAt.UnixNano(), rec.Reason, rec.TotalPages, rec.CurrentPage, string(body))
	if err != nil {
		return Record{}, pkgerrors.Wrapf(err, "failed to insert history record")
	}
	return rec, nil
}

// List returns up to limit records, newest first. limit <= 0 means all.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	q := `SELECT id, created_at, reason, total_pages, current_page, document FROM snapshots ORDER BY created_at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to query history")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, pkgerrors.Wrapf(rows.Err(), "failed to read history rows")
}

// Get returns the record with the given id.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Record{}, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, reason, total_pages, current_page, document FROM snapshots WHERE id = ?`, id)
	rec, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

// Latest returns the newest record.
func (s *Store) Latest(ctx context.Context) (Record, error) {
	recs, err := s.List(ctx, 1)
	if err != nil {
		return Record{}, err
	}
	if len(recs) == 0 {
		return Record{}, ErrNotFound
	}
	return recs[0], nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(r scanner) (Record, error) {
	var (
		rec     Record
		created int64
		body    string
	)
	if err := r.Scan(&rec.ID, &created, &rec.Reason, &rec.TotalPages, &rec.CurrentPage, &body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, err
		}
		return Record{}, pkgerrors.Wrapf(err, "failed to scan history record")
	}
	rec.CreatedAt = time.Unix(0, created).UTC()
	if err := json.Unmarshal([]byte(body), &rec.Document); err != nil {
		return Record{}, pkgerrors.Wrapf(err, "failed to decode history record %s", rec.ID)
	}
	return rec, nil
}
