// Package memory provides a Store keeping all rows in process memory.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/mpapenbr/nexttogo-service-go/log"
	"github.com/mpapenbr/nexttogo-service-go/pkg/model"
	"github.com/mpapenbr/nexttogo-service-go/pkg/store"
)

type (
	Store struct {
		mutex   sync.RWMutex
		rows    map[string]model.Record
		tracker *store.Tracker
		l       *log.Logger
	}
	Option func(*Store)
)

var _ store.Store = (*Store)(nil)

func New(opts ...Option) *Store {
	ret := &Store{
		rows:    make(map[string]model.Record),
		tracker: store.NewTracker(),
		l:       log.Default().Named("store.memory"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

func WithLogger(l *log.Logger) Option {
	return func(s *Store) {
		s.l = l
	}
}

func (s *Store) UpsertAll(ctx context.Context, records []model.Record) error {
	if len(records) == 0 {
		return nil
	}
	s.mutex.Lock()
	for _, r := range records {
		s.rows[r.ID] = r
	}
	s.mutex.Unlock()
	s.tracker.Invalidate()
	return nil
}

func (s *Store) DeleteStale(ctx context.Context, before time.Time) error {
	limit := before.Unix()
	s.mutex.Lock()
	removed := 0
	for id, r := range s.rows {
		if r.StartTime < limit {
			delete(s.rows, id)
			removed++
		}
	}
	s.mutex.Unlock()
	if removed > 0 {
		s.l.Debug("removed stale races", log.Int("count", removed))
		s.tracker.Invalidate()
	}
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	s.mutex.Lock()
	s.rows = make(map[string]model.Record)
	s.mutex.Unlock()
	s.tracker.Invalidate()
	return nil
}

//nolint:whitespace // editor/linter issue
func (s *Store) Window(ctx context.Context, q store.Query) (
	<-chan []model.Record, error,
) {
	return store.RunWindow(ctx, s.tracker, func(context.Context) ([]model.Record, error) {
		return s.query(q), nil
	}, s.l), nil
}

// Len returns the number of stored rows.
func (s *Store) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.rows)
}

func (s *Store) query(q store.Query) []model.Record {
	s.mutex.RLock()
	matching := lo.Filter(lo.Values(s.rows), func(r model.Record, _ int) bool {
		return q.Matches(r)
	})
	s.mutex.RUnlock()
	model.SortRecords(matching)
	if q.Limit >= 0 && len(matching) > q.Limit {
		matching = matching[:q.Limit]
	}
	return matching
}
