package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SQLiteStore is the embedded local backend. It keeps one JSON blob per
// owner in a single table and rewrites the whole blob on every mutation.
// Writes are serialized through an in-process mutex so that two quick
// successive mutations cannot interleave their read-modify-write cycles.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex

	idGenerator func() string
	now         func() time.Time
}

// NewSQLiteStore prepares the blob table and returns a local store backed by
// the given SQLite handle.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS service_blobs (
		owner_id TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("service: create blob table: %w", err)
	}
	return &SQLiteStore{
		db:          db,
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}, nil
}

// WithIDGenerator overrides record id generation, for tests.
func (s *SQLiteStore) WithIDGenerator(gen func() string) *SQLiteStore {
	s.idGenerator = gen
	return s
}

// WithClock overrides the timestamp source, for tests.
func (s *SQLiteStore) WithClock(now func() time.Time) *SQLiteStore {
	s.now = now
	return s
}

// List returns the owner's records, newest first.
func (s *SQLiteStore) List(ctx context.Context, ownerID string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.loadOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	sortNewestFirst(records)
	return records, nil
}

// Create appends a record to the owner's blob and rewrites it.
func (s *SQLiteStore) Create(ctx context.Context, ownerID string, params Params) (Record, error) {
	if ownerID == "" {
		return Record{}, fmt.Errorf("%w: owner id is required", ErrValidation)
	}
	params, err := normalizeParams(params)
	if err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.loadOwner(ctx, ownerID)
	if err != nil {
		return Record{}, err
	}

	now := s.now().UTC()
	rec := Record{
		ID:          s.idGenerator(),
		OwnerID:     ownerID,
		Title:       params.Title,
		Description: params.Description,
		Responsible: params.Responsible,
		Status:      params.Status,
		Step:        params.Step,
		StartDate:   params.StartDate,
		EndDate:     params.EndDate,
		Result:      params.Result,
		Comments:    params.Comments,
		Images:      params.Images,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	records = append(records, rec)
	if err := s.saveOwner(ctx, ownerID, records); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Update replaces the editable fields of the record with the given id,
// wherever its owner blob lives, and refreshes UpdatedAt.
func (s *SQLiteStore) Update(ctx context.Context, id string, params Params) (Record, error) {
	params, err := normalizeParams(params)
	if err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ownerID, records, idx, err := s.locate(ctx, id)
	if err != nil {
		return Record{}, err
	}

	rec := records[idx]
	rec.Title = params.Title
	rec.Description = params.Description
	rec.Responsible = params.Responsible
	rec.Status = params.Status
	rec.Step = params.Step
	rec.StartDate = params.StartDate
	rec.EndDate = params.EndDate
	rec.Result = params.Result
	rec.Comments = params.Comments
	rec.Images = params.Images
	rec.UpdatedAt = s.now().UTC()
	records[idx] = rec

	if err := s.saveOwner(ctx, ownerID, records); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Delete removes the record with the given id. Deleting an unknown id,
// including an id that was already deleted, fails with ErrNotFound.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ownerID, records, idx, err := s.locate(ctx, id)
	if err != nil {
		return err
	}

	records = append(records[:idx], records[idx+1:]...)
	return s.saveOwner(ctx, ownerID, records)
}

// Watch is not supported by the local backend: it is a synchronous
// direct-read store and callers maintain state from mutation return values.
func (s *SQLiteStore) Watch(ctx context.Context, ownerID string, fn WatchFunc) (*Watch, error) {
	return nil, ErrWatchUnsupported
}

func (s *SQLiteStore) loadOwner(ctx context.Context, ownerID string) ([]Record, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM service_blobs WHERE owner_id = ?`, ownerID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return []Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load owner blob: %v", ErrUnavailable, err)
	}

	var records []Record
	if err := json.Unmarshal(payload, &records); err != nil {
		return nil, fmt.Errorf("service: decode owner blob: %w", err)
	}
	return records, nil
}

func (s *SQLiteStore) saveOwner(ctx context.Context, ownerID string, records []Record) error {
	payload, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("service: encode owner blob: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO service_blobs (owner_id, payload) VALUES (?, ?)
		ON CONFLICT (owner_id) DO UPDATE SET payload = excluded.payload`, ownerID, payload)
	if err != nil {
		return fmt.Errorf("%w: save owner blob: %v", ErrUnavailable, err)
	}
	return nil
}

// locate finds the blob containing id. Returns the owner key, the decoded
// blob, and the record's index within it.
func (s *SQLiteStore) locate(ctx context.Context, id string) (string, []Record, int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT owner_id, payload FROM service_blobs`)
	if err != nil {
		return "", nil, 0, fmt.Errorf("%w: scan blobs: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ownerID string
			payload []byte
		)
		if err := rows.Scan(&ownerID, &payload); err != nil {
			return "", nil, 0, fmt.Errorf("%w: scan blob row: %v", ErrUnavailable, err)
		}
		var records []Record
		if err := json.Unmarshal(payload, &records); err != nil {
			return "", nil, 0, fmt.Errorf("service: decode owner blob: %w", err)
		}
		for i, rec := range records {
			if rec.ID == id {
				return ownerID, records, i, nil
			}
		}
	}
	if err := rows.Err(); err != nil {
		return "", nil, 0, fmt.Errorf("%w: scan blobs: %v", ErrUnavailable, err)
	}

	return "", nil, 0, ErrNotFound
}

func sortNewestFirst(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
}
