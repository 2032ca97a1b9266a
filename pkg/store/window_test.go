package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/nexttogo-service-go/log"
	"github.com/mpapenbr/nexttogo-service-go/pkg/model"
)

type fakeTable struct {
	mutex sync.Mutex
	rows  []model.Record
	err   error
	loads int
}

func (f *fakeTable) set(rows []model.Record, err error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.rows = rows
	f.err = err
}

func (f *fakeTable) load(ctx context.Context) ([]model.Record, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.loads++
	return copyRows(f.rows), f.err
}

func (f *fakeTable) numLoads() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.loads
}

func copyRows(r []model.Record) []model.Record {
	if r == nil {
		return []model.Record{}
	}
	return append([]model.Record{}, r...)
}

func receive(t *testing.T, ch <-chan []model.Record) []model.Record {
	t.Helper()
	select {
	case r, ok := <-ch:
		require.True(t, ok, "window closed")
		return r
	case <-time.After(time.Second):
		t.Fatal("no window emission")
	}
	return nil
}

func assertSilent(t *testing.T, ch <-chan []model.Record) {
	t.Helper()
	select {
	case r := <-ch:
		t.Fatalf("unexpected emission %v", r)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRunWindow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tracker := NewTracker()
	table := &fakeTable{}

	ch := RunWindow(ctx, tracker, table.load, log.NewNop())
	assert.Empty(t, receive(t, ch), "initial emission")

	rows := []model.Record{{ID: "a", StartTime: 1}}
	table.set(rows, nil)
	tracker.Invalidate()
	assert.Equal(t, rows, receive(t, ch))

	// same content is not emitted again
	tracker.Invalidate()
	assert.Eventually(t, func() bool { return table.numLoads() == 3 },
		time.Second, 5*time.Millisecond)
	assertSilent(t, ch)

	// failed loads are skipped
	table.set(nil, errors.New("db gone"))
	tracker.Invalidate()
	assert.Eventually(t, func() bool { return table.numLoads() == 4 },
		time.Second, 5*time.Millisecond)
	assertSilent(t, ch)

	cancel()
	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return tracker.numObservers() == 0 },
		time.Second, 5*time.Millisecond)
}

func TestRunWindowConflates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tracker := NewTracker()
	table := &fakeTable{}

	ch := RunWindow(ctx, tracker, table.load, log.NewNop())
	// nobody reads: the pending initial result gets replaced
	for i := 1; i <= 3; i++ {
		table.set([]model.Record{{ID: "a", StartTime: int64(i)}}, nil)
		tracker.Invalidate()
		n := i + 1
		assert.Eventually(t, func() bool { return table.numLoads() >= n },
			time.Second, 5*time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	got := receive(t, ch)
	assert.Equal(t, int64(3), got[0].StartTime)
	assertSilent(t, ch)
}

func TestQueryMatches(t *testing.T) {
	q := Query{
		CategoryIDs:  []string{model.HorseID},
		MinStartTime: time.Unix(100, 0),
	}
	assert.True(t, q.Matches(model.Record{CategoryID: model.HorseID, StartTime: 100}))
	assert.False(t, q.Matches(model.Record{CategoryID: model.HorseID, StartTime: 99}))
	assert.False(t, q.Matches(model.Record{CategoryID: model.HarnessID, StartTime: 200}))
	assert.True(t, Query{}.Matches(model.Record{CategoryID: "x", StartTime: 0}))
}
