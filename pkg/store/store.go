// Package store defines the local race cache used by the auto updater.
//
// Implementations keep race records unique by id and provide a reactive
// window: an ordered, filtered and limited view which is re-emitted whenever
// the underlying rows change. Changes of the window parameters are handled
// by opening a new window.
package store

import (
	"context"
	"time"

	"github.com/mpapenbr/nexttogo-service-go/pkg/model"
)

type Store interface {
	// UpsertAll inserts the records, replacing existing rows with the same id.
	UpsertAll(ctx context.Context, records []model.Record) error
	// DeleteStale removes all rows with a start time before the given time.
	DeleteStale(ctx context.Context, before time.Time) error
	// Clear removes all rows.
	Clear(ctx context.Context) error
	// Window emits the rows matching q until ctx is done.
	Window(ctx context.Context, q Query) (<-chan []model.Record, error)
}

// Query describes a window. An empty CategoryIDs means no category restriction.
type Query struct {
	CategoryIDs  []string
	MinStartTime time.Time
	Limit        int
}

// Matches reports if r belongs to the (unlimited) window.
func (q Query) Matches(r model.Record) bool {
	if r.StartTime < q.MinStartTime.Unix() {
		return false
	}
	if len(q.CategoryIDs) == 0 {
		return true
	}
	for _, id := range q.CategoryIDs {
		if id == r.CategoryID {
			return true
		}
	}
	return false
}
