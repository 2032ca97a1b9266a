// Package postgres provides a Store backed by the race table.
//
// Change notifications are process local: only writes issued through the
// same Store instance re-evaluate open windows.
package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mpapenbr/nexttogo-service-go/log"
	"github.com/mpapenbr/nexttogo-service-go/pkg/model"
	"github.com/mpapenbr/nexttogo-service-go/pkg/repository"
	racerepos "github.com/mpapenbr/nexttogo-service-go/pkg/repository/race"
	"github.com/mpapenbr/nexttogo-service-go/pkg/store"
)

type (
	Store struct {
		pool    *pgxpool.Pool
		tracker *store.Tracker
		l       *log.Logger
	}
	Option func(*Store)
)

var _ store.Store = (*Store)(nil)

func New(pool *pgxpool.Pool, opts ...Option) *Store {
	ret := &Store{
		pool:    pool,
		tracker: store.NewTracker(),
		l:       log.Default().Named("store.postgres"),
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
	err := repository.RunInTx(ctx, s.pool, func(q repository.Querier) error {
		return racerepos.Upsert(ctx, q, records)
	})
	if err != nil {
		return err
	}
	s.tracker.Invalidate()
	return nil
}

func (s *Store) DeleteStale(ctx context.Context, before time.Time) error {
	n, err := racerepos.DeleteBefore(ctx, s.pool, before.Unix())
	if err != nil {
		return err
	}
	if n > 0 {
		s.l.Debug("removed stale races", log.Int("count", n))
		s.tracker.Invalidate()
	}
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	n, err := racerepos.DeleteAll(ctx, s.pool)
	// the table may be partially modified even on error
	s.tracker.Invalidate()
	if err != nil {
		return err
	}
	s.l.Debug("cleared races", log.Int("count", n))
	return nil
}

//nolint:whitespace // editor/linter issue
func (s *Store) Window(ctx context.Context, q store.Query) (
	<-chan []model.Record, error,
) {
	return store.RunWindow(ctx, s.tracker, func(ctx context.Context) (
		[]model.Record, error,
	) {
		return racerepos.LoadWindow(ctx, s.pool,
			q.CategoryIDs, q.MinStartTime.Unix(), max(q.Limit, 0))
	}, s.l), nil
}
