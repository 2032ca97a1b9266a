// Package sqlite provides a Store backed by an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mpapenbr/nexttogo-service-go/log"
	"github.com/mpapenbr/nexttogo-service-go/pkg/model"
	"github.com/mpapenbr/nexttogo-service-go/pkg/store"
)

const schema = `
create table if not exists race (
	id           text primary key,
	meeting_name text not null,
	race_number  integer not null,
	category_id  text not null,
	start_time   integer not null
);
create index if not exists race_start_time_idx on race (start_time, meeting_name);
`

type (
	Store struct {
		db      *sql.DB
		tracker *store.Tracker
		l       *log.Logger
	}
	Option func(*Store)
)

var _ store.Store = (*Store)(nil)

func WithLogger(l *log.Logger) Option {
	return func(s *Store) {
		s.l = l
	}
}

// Open opens (and creates if needed) the database at dsn.
// Use ":memory:" for a non persistent database.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// a single connection serializes writers and keeps :memory: databases shared
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	ret := &Store{
		db:      db,
		tracker: store.NewTracker(),
		l:       log.Default().Named("store.sqlite"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) UpsertAll(ctx context.Context, records []model.Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	//nolint:errcheck // no-op after commit
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, `
	insert into race (id, meeting_name, race_number, category_id, start_time)
	values (?, ?, ?, ?, ?)
	on conflict (id) do update set
		meeting_name=excluded.meeting_name,
		race_number=excluded.race_number,
		category_id=excluded.category_id,
		start_time=excluded.start_time`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i := range records {
		r := &records[i]
		if _, err := stmt.ExecContext(ctx,
			r.ID, r.MeetingName, r.RaceNumber, r.CategoryID, r.StartTime); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.tracker.Invalidate()
	return nil
}

func (s *Store) DeleteStale(ctx context.Context, before time.Time) error {
	res, err := s.db.ExecContext(ctx, "delete from race where start_time < ?", before.Unix())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.l.Debug("removed stale races", log.Int64("count", n))
		s.tracker.Invalidate()
	}
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "delete from race")
	s.tracker.Invalidate()
	return err
}

//nolint:whitespace // editor/linter issue
func (s *Store) Window(ctx context.Context, q store.Query) (
	<-chan []model.Record, error,
) {
	return store.RunWindow(ctx, s.tracker, func(ctx context.Context) (
		[]model.Record, error,
	) {
		return s.load(ctx, q)
	}, s.l), nil
}

func (s *Store) load(ctx context.Context, q store.Query) ([]model.Record, error) {
	var sb strings.Builder
	args := []any{q.MinStartTime.Unix()}
	sb.WriteString(`select id, meeting_name, race_number, category_id, start_time
	from race where start_time >= ?`)
	if len(q.CategoryIDs) > 0 {
		sb.WriteString(" and category_id in (")
		for i, id := range q.CategoryIDs {
			if i > 0 {
				sb.WriteString(",")
			}
			sb.WriteString("?")
			args = append(args, id)
		}
		sb.WriteString(")")
	}
	sb.WriteString(" order by start_time, meeting_name, id limit ?")
	args = append(args, max(q.Limit, 0))

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ret := []model.Record{}
	for rows.Next() {
		var r model.Record
		if err := rows.Scan(
			&r.ID, &r.MeetingName, &r.RaceNumber, &r.CategoryID, &r.StartTime,
		); err != nil {
			return nil, err
		}
		ret = append(ret, r)
	}
	return ret, rows.Err()
}
