// Package view derives display-ready record lists: filtering and ordering
// only, no state and no store access.
package view

import (
	"sort"
	"strings"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"servtrack/service"
)

// SortKey names a record field the projection can order by.
type SortKey string

const (
	SortByTitle       SortKey = "title"
	SortByResponsible SortKey = "responsible"
	SortByStatus      SortKey = "status"
	SortByStep        SortKey = "step"
	SortByStartDate   SortKey = "startDate"
	SortByEndDate     SortKey = "endDate"
	SortByCreatedAt   SortKey = "createdAt"
	SortByUpdatedAt   SortKey = "updatedAt"
)

// Query bundles the filter predicates and sort order for one projection.
// All filters are optional and combine with AND. Search matches
// case-insensitively against title, description, and responsible; any of the
// three suffices.
type Query struct {
	Status     *service.Status
	Step       *service.ProcessStep
	Search     string
	SortKey    SortKey
	Descending bool
}

// Projector projects record collections using locale-aware string collation.
// Project is deterministic and side-effect-free: identical inputs yield
// identical output sequences.
type Projector struct {
	collator *collate.Collator
}

// NewProjector builds a projector collating strings for the given locale.
func NewProjector(tag language.Tag) *Projector {
	return &Projector{collator: collate.New(tag)}
}

// Project returns the filtered, ordered view of records. The input slice is
// not modified; ties under the sort key keep their relative input order.
func (p *Projector) Project(records []service.Record, q Query) []service.Record {
	out := make([]service.Record, 0, len(records))
	for _, rec := range records {
		if p.matches(rec, q) {
			out = append(out, rec)
		}
	}

	key := q.SortKey
	if key == "" {
		key = SortByCreatedAt
	}

	sort.SliceStable(out, func(i, j int) bool {
		c := p.compare(out[i], out[j], key)
		if q.Descending {
			return c > 0
		}
		return c < 0
	})

	return out
}

func (p *Projector) matches(rec service.Record, q Query) bool {
	if q.Status != nil && rec.Status != *q.Status {
		return false
	}
	if q.Step != nil && rec.Step != *q.Step {
		return false
	}
	if q.Search != "" {
		term := strings.ToLower(q.Search)
		if !strings.Contains(strings.ToLower(rec.Title), term) &&
			!strings.Contains(strings.ToLower(rec.Description), term) &&
			!strings.Contains(strings.ToLower(rec.Responsible), term) {
			return false
		}
	}
	return true
}

// compare orders a before b when negative. Records missing the requested
// field compare as equal so the stable sort keeps their input order.
func (p *Projector) compare(a, b service.Record, key SortKey) int {
	switch key {
	case SortByTitle:
		return p.collator.CompareString(a.Title, b.Title)
	case SortByResponsible:
		return p.collator.CompareString(a.Responsible, b.Responsible)
	case SortByStatus:
		return p.collator.CompareString(string(a.Status), string(b.Status))
	case SortByStep:
		return p.collator.CompareString(string(a.Step), string(b.Step))
	case SortByStartDate:
		return compareTime(a.StartDate, b.StartDate)
	case SortByEndDate:
		if a.EndDate == nil || b.EndDate == nil {
			return 0
		}
		return compareTime(*a.EndDate, *b.EndDate)
	case SortByCreatedAt:
		return compareTime(a.CreatedAt, b.CreatedAt)
	case SortByUpdatedAt:
		return compareTime(a.UpdatedAt, b.UpdatedAt)
	default:
		return 0
	}
}

func compareTime(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	default:
		return 0
	}
}
