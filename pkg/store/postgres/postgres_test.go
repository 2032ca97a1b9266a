//nolint:funlen // ok for tests
package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/nexttogo-service-go/log"
	"github.com/mpapenbr/nexttogo-service-go/pkg/model"
	"github.com/mpapenbr/nexttogo-service-go/pkg/store"
	"github.com/mpapenbr/nexttogo-service-go/testsupport/basedata"
	"github.com/mpapenbr/nexttogo-service-go/testsupport/testdb"
)

func receive(t *testing.T, ch <-chan []model.Record) []string {
	t.Helper()
	select {
	case r := <-ch:
		return lo.Map(r, func(item model.Record, _ int) string { return item.ID })
	case <-time.After(5 * time.Second):
		t.Fatal("no window emission")
	}
	return nil
}

func TestStore_Window(t *testing.T) {
	pool := testdb.InitTestDb()
	s := New(pool, WithLogger(log.NewNop()))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	all, err := s.Window(ctx, store.Query{Limit: 3, MinStartTime: time.Unix(0, 0)})
	require.NoError(t, err)
	filtered, err := s.Window(ctx, store.Query{
		Limit:        5,
		MinStartTime: time.Unix(0, 0),
		CategoryIDs:  []string{model.GreyhoundID, model.HarnessID},
	})
	require.NoError(t, err)
	assert.Empty(t, receive(t, all))
	assert.Empty(t, receive(t, filtered))

	require.NoError(t, s.UpsertAll(ctx, basedata.SampleRecords()))
	assert.Equal(t, []string{"race_1", "race_2", "race_3"}, receive(t, all))
	assert.Equal(t, []string{"race_2", "race_3", "race_7"}, receive(t, filtered))

	require.NoError(t, s.DeleteStale(ctx, time.Unix(1200, 0)))
	assert.Equal(t, []string{"race_2", "race_3", "race_4"}, receive(t, all))

	require.NoError(t, s.Clear(ctx))
	assert.Empty(t, receive(t, all))
	assert.Empty(t, receive(t, filtered))
}

func TestStore_DeleteStaleWithoutChange(t *testing.T) {
	pool := testdb.InitTestDb()
	basedata.CreateSampleRaces(pool)
	s := New(pool, WithLogger(log.NewNop()))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.Window(ctx, store.Query{Limit: 1, MinStartTime: time.Unix(0, 0)})
	require.NoError(t, err)
	assert.Equal(t, []string{"race_1"}, receive(t, ch))

	require.NoError(t, s.DeleteStale(ctx, time.Unix(0, 0)))
	select {
	case r := <-ch:
		t.Errorf("unexpected emission %v", r)
	case <-time.After(100 * time.Millisecond):
	}
}
