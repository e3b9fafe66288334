package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

var (
	// ErrNotFound signals the targeted record does not exist in the backend.
	ErrNotFound = errors.New("service: record not found")
	// ErrValidation signals required fields are missing or malformed.
	ErrValidation = errors.New("service: invalid record fields")
	// ErrUnavailable signals the backing store could not be reached.
	ErrUnavailable = errors.New("service: store unavailable")
	// ErrWatchUnsupported signals the backend has no push path; callers must
	// maintain state from direct mutation return values instead.
	ErrWatchUnsupported = errors.New("service: watch unsupported")
)

// WatchFunc receives the full current record set for the watched owner,
// ordered by creation time descending, on every change.
type WatchFunc func(records []Record)

// Store is the persistence boundary for service records. Both the embedded
// local backend and the remote document backend implement it. Update and
// Delete do not enforce ownership; that check belongs to the synchronizer.
type Store interface {
	// List returns all records belonging to ownerID, newest first.
	List(ctx context.Context, ownerID string) ([]Record, error)
	// Create persists a new record, assigning ID, CreatedAt, and UpdatedAt.
	Create(ctx context.Context, ownerID string, params Params) (Record, error)
	// Update replaces the editable fields of an existing record and
	// refreshes UpdatedAt.
	Update(ctx context.Context, id string, params Params) (Record, error)
	// Delete removes a record. A second delete of the same id fails with
	// ErrNotFound.
	Delete(ctx context.Context, id string) error
	// Watch establishes a push subscription scoped to ownerID. The callback
	// fires once with the initial snapshot and then on every change.
	// Backends without a push path return ErrWatchUnsupported.
	Watch(ctx context.Context, ownerID string, fn WatchFunc) (*Watch, error)
}

// Watch is a cancellable push subscription handle.
type Watch struct {
	once sync.Once
	stop func()
}

// NewWatch wraps a stop function into a subscription handle. The stop
// function runs at most once and must not return until no further callback
// can fire.
func NewWatch(stop func()) *Watch {
	return &Watch{stop: stop}
}

// Stop cancels the subscription. It is unconditional and immediate: once it
// returns, the callback will not be invoked again.
func (w *Watch) Stop() {
	if w == nil {
		return
	}
	w.once.Do(func() {
		if w.stop != nil {
			w.stop()
		}
	})
}

func normalizeParams(p Params) (Params, error) {
	p.Title = strings.TrimSpace(p.Title)
	p.Description = strings.TrimSpace(p.Description)
	p.Responsible = strings.TrimSpace(p.Responsible)

	if p.Title == "" || p.Description == "" || p.Responsible == "" {
		return Params{}, fmt.Errorf("%w: title, description and responsible are required", ErrValidation)
	}
	if p.StartDate.IsZero() {
		return Params{}, fmt.Errorf("%w: start date is required", ErrValidation)
	}
	if p.Status == "" {
		p.Status = StatusPending
	}
	if !isValidStatus(p.Status) {
		return Params{}, fmt.Errorf("%w: unknown status %q", ErrValidation, p.Status)
	}
	if p.Step == "" {
		p.Step = StepAnalysis
	}
	if !isValidStep(p.Step) {
		return Params{}, fmt.Errorf("%w: unknown process step %q", ErrValidation, p.Step)
	}

	for i, img := range p.Images {
		if _, err := SniffImage(img); err != nil {
			return Params{}, fmt.Errorf("%w: image %d: %v", ErrValidation, i, err)
		}
	}

	return p, nil
}

// SniffImage reports the MIME type of an encoded image string. It accepts
// data URLs and bare base64 payloads and only sniffs the content type;
// anything beyond that is left to upstream layers.
func SniffImage(encoded string) (string, error) {
	if rest, ok := strings.CutPrefix(encoded, "data:"); ok {
		mime, _, found := strings.Cut(rest, ";")
		if !found || !strings.HasPrefix(mime, "image/") {
			return "", fmt.Errorf("not an image data URL")
		}
		return mime, nil
	}

	// Sniffing needs at most 512 decoded bytes.
	raw, err := base64.StdEncoding.DecodeString(trimForSniff(encoded))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}
	mime := http.DetectContentType(raw)
	if !strings.HasPrefix(mime, "image/") {
		return "", fmt.Errorf("unexpected content type %s", mime)
	}
	return mime, nil
}

func trimForSniff(encoded string) string {
	// Keep a prefix that decodes cleanly: multiple of 4 base64 chars
	// covering at least 512 bytes.
	const max = 684 // ceil(512/3)*4
	if len(encoded) <= max {
		return encoded
	}
	return encoded[:max]
}
