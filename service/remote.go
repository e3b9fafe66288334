package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NotifyChannel is the Postgres channel carrying owner ids whose record set
// changed. Every mutating statement notifies it in the same transaction.
const NotifyChannel = "service_records"

const recordColumns = `id, owner_id, title, description, responsible, status, step,
	start_date, end_date, result, comments, images, created_at, updated_at`

// PGStore is the remote backend: one row per record in PostgreSQL, with
// LISTEN/NOTIFY as the push path. Once a watch is established it is the sole
// read path; the backend's own consistency guarantees apply between writers.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a PostgreSQL-backed record store.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// List returns the owner's records ordered by creation time descending.
func (s *PGStore) List(ctx context.Context, ownerID string) ([]Record, error) {
	selectSQL := fmt.Sprintf(`SELECT %s FROM services WHERE owner_id = $1 ORDER BY created_at DESC, id`, recordColumns)

	rows, err := s.pool.Query(ctx, selectSQL, ownerID)
	if err != nil {
		return nil, fmt.Errorf("%w: list: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("service: scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list: %v", ErrUnavailable, err)
	}

	return records, nil
}

// Create inserts a record and notifies watchers in the same transaction.
func (s *PGStore) Create(ctx context.Context, ownerID string, params Params) (Record, error) {
	if ownerID == "" {
		return Record{}, fmt.Errorf("%w: owner id is required", ErrValidation)
	}
	params, err := normalizeParams(params)
	if err != nil {
		return Record{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("%w: begin tx: %v", ErrUnavailable, err)
	}
	defer tx.Rollback(ctx)

	insertSQL := fmt.Sprintf(`
		INSERT INTO services (owner_id, title, description, responsible, status, step,
			start_date, end_date, result, comments, images)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING %s`, recordColumns)

	rec, err := scanRecord(tx.QueryRow(ctx, insertSQL,
		ownerID,
		params.Title,
		params.Description,
		params.Responsible,
		params.Status,
		params.Step,
		params.StartDate,
		params.EndDate,
		params.Result,
		params.Comments,
		params.Images,
	))
	if err != nil {
		return Record{}, fmt.Errorf("%w: insert: %v", ErrUnavailable, err)
	}

	if err := notifyOwner(ctx, tx, ownerID); err != nil {
		return Record{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("%w: commit: %v", ErrUnavailable, err)
	}

	return rec, nil
}

// Update replaces the editable fields of an existing record, refreshes
// updated_at, and notifies watchers.
func (s *PGStore) Update(ctx context.Context, id string, params Params) (Record, error) {
	params, err := normalizeParams(params)
	if err != nil {
		return Record{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("%w: begin tx: %v", ErrUnavailable, err)
	}
	defer tx.Rollback(ctx)

	updateSQL := fmt.Sprintf(`
		UPDATE services
		SET title = $2, description = $3, responsible = $4, status = $5, step = $6,
			start_date = $7, end_date = $8, result = $9, comments = $10, images = $11,
			updated_at = now()
		WHERE id = $1
		RETURNING %s`, recordColumns)

	rec, err := scanRecord(tx.QueryRow(ctx, updateSQL,
		id,
		params.Title,
		params.Description,
		params.Responsible,
		params.Status,
		params.Step,
		params.StartDate,
		params.EndDate,
		params.Result,
		params.Comments,
		params.Images,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("%w: update: %v", ErrUnavailable, err)
	}

	if err := notifyOwner(ctx, tx, rec.OwnerID); err != nil {
		return Record{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("%w: commit: %v", ErrUnavailable, err)
	}

	return rec, nil
}

// Delete removes a record and notifies watchers. A repeat delete of the same
// id fails with ErrNotFound.
func (s *PGStore) Delete(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", ErrUnavailable, err)
	}
	defer tx.Rollback(ctx)

	var ownerID string
	err = tx.QueryRow(ctx, `DELETE FROM services WHERE id = $1 RETURNING owner_id`, id).Scan(&ownerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: delete: %v", ErrUnavailable, err)
	}

	if err := notifyOwner(ctx, tx, ownerID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrUnavailable, err)
	}

	return nil
}

// Watch LISTENs on a dedicated connection and invokes fn with the owner's
// full current record set: once immediately with the initial snapshot, then
// after every notification for that owner. Stop is unconditional; once it
// returns no further callback fires.
func (s *PGStore) Watch(ctx context.Context, ownerID string, fn WatchFunc) (*Watch, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: acquire listener conn: %v", ErrUnavailable, err)
	}

	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("%w: listen: %v", ErrUnavailable, err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w := &pgWatcher{store: s, ownerID: ownerID, fn: fn}

	initial, err := s.List(watchCtx, ownerID)
	if err != nil {
		cancel()
		conn.Release()
		return nil, err
	}
	w.emit(initial)

	done := make(chan struct{})
	go w.run(watchCtx, conn, done)

	return NewWatch(func() {
		w.mu.Lock()
		w.stopped = true
		w.mu.Unlock()
		cancel()
		<-done
	}), nil
}

type pgWatcher struct {
	store   *PGStore
	ownerID string
	fn      WatchFunc

	mu      sync.Mutex
	stopped bool
}

func (w *pgWatcher) run(ctx context.Context, conn *pgxpool.Conn, done chan struct{}) {
	defer close(done)
	defer func() {
		// Drop the LISTEN state before handing the conn back to the pool.
		_, _ = conn.Exec(context.Background(), "UNLISTEN *")
		conn.Release()
	}()

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return
		}
		if notification.Payload != w.ownerID {
			continue
		}

		records, err := w.store.List(ctx, w.ownerID)
		if err != nil {
			// A failed refresh is dropped; the next notification retries.
			continue
		}
		w.emit(records)
	}
}

// emit delivers a snapshot unless the watch has been stopped. The lock is
// held across fn so Stop cannot return while a callback is in flight.
func (w *pgWatcher) emit(records []Record) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.fn(records)
}

func notifyOwner(ctx context.Context, tx pgx.Tx, ownerID string) error {
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, ownerID); err != nil {
		return fmt.Errorf("%w: notify: %v", ErrUnavailable, err)
	}
	return nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec    Record
		images []string
	)
	err := row.Scan(
		&rec.ID,
		&rec.OwnerID,
		&rec.Title,
		&rec.Description,
		&rec.Responsible,
		&rec.Status,
		&rec.Step,
		&rec.StartDate,
		&rec.EndDate,
		&rec.Result,
		&rec.Comments,
		&images,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return Record{}, err
	}

	rec.Images = images
	return rec, nil
}
