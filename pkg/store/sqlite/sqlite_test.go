//nolint:funlen // ok for tests
package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/nexttogo-service-go/log"
	"github.com/mpapenbr/nexttogo-service-go/pkg/model"
	"github.com/mpapenbr/nexttogo-service-go/pkg/store"
	"github.com/mpapenbr/nexttogo-service-go/testsupport/basedata"
)

func openStore(t *testing.T, dsn string) *Store {
	t.Helper()
	s, err := Open(context.Background(), dsn, WithLogger(log.NewNop()))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func receive(t *testing.T, ch <-chan []model.Record) []string {
	t.Helper()
	select {
	case r := <-ch:
		return lo.Map(r, func(item model.Record, _ int) string { return item.ID })
	case <-time.After(time.Second):
		t.Fatal("no window emission")
	}
	return nil
}

func TestStore_WindowOrder(t *testing.T) {
	s := openStore(t, ":memory:")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.UpsertAll(ctx, basedata.SameStartRecords()))

	ch, err := s.Window(ctx, store.Query{MinStartTime: time.Unix(20000, 0), Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"r_x", "r_y", "r_b", "r_a"}, receive(t, ch))
}

func TestStore_Window(t *testing.T) {
	s := openStore(t, ":memory:")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.UpsertAll(ctx, basedata.SampleRecords()))

	tests := []struct {
		name  string
		query store.Query
		want  []string
	}{
		{
			name:  "unfiltered limited",
			query: store.Query{Limit: 3, MinStartTime: time.Unix(0, 0)},
			want:  []string{"race_1", "race_2", "race_3"},
		},
		{
			name:  "min start time",
			query: store.Query{Limit: 3, MinStartTime: time.Unix(1200, 0)},
			want:  []string{"race_2", "race_3", "race_4"},
		},
		{
			name: "filtered",
			query: store.Query{
				Limit:        10,
				MinStartTime: time.Unix(0, 0),
				CategoryIDs:  []string{model.GreyhoundID, model.HarnessID},
			},
			want: []string{"race_2", "race_3", "race_7"},
		},
		{
			name:  "zero limit",
			query: store.Query{Limit: 0, MinStartTime: time.Unix(0, 0)},
			want:  []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch, err := s.Window(ctx, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, receive(t, ch))
		})
	}
}

func TestStore_WindowReactsOnChanges(t *testing.T) {
	s := openStore(t, ":memory:")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.Window(ctx, store.Query{Limit: 2, MinStartTime: time.Unix(0, 0)})
	require.NoError(t, err)
	assert.Empty(t, receive(t, ch))

	require.NoError(t, s.UpsertAll(ctx, basedata.SampleRecords()))
	assert.Equal(t, []string{"race_1", "race_2"}, receive(t, ch))

	changed := basedata.SampleRecords()[0]
	changed.StartTime = 4000
	require.NoError(t, s.UpsertAll(ctx, []model.Record{changed}))
	assert.Equal(t, []string{"race_2", "race_3"}, receive(t, ch))

	require.NoError(t, s.Clear(ctx))
	assert.Empty(t, receive(t, ch))
}

func TestStore_Persistent(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "races.db")
	ctx := context.Background()

	s, err := Open(ctx, dsn, WithLogger(log.NewNop()))
	require.NoError(t, err)
	require.NoError(t, s.UpsertAll(ctx, basedata.SampleRecords()))
	require.NoError(t, s.DeleteStale(ctx, time.Unix(5400, 0)))
	require.NoError(t, s.Close())

	s = openStore(t, dsn)
	ch, err := s.Window(ctx, store.Query{Limit: 10, MinStartTime: time.Unix(0, 0)})
	require.NoError(t, err)
	assert.Equal(t, []string{"race_4", "race_5", "race_6", "race_7"}, receive(t, ch))
}
