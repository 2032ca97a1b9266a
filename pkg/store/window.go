package store

import (
	"context"
	"slices"

	"github.com/mpapenbr/nexttogo-service-go/log"
	"github.com/mpapenbr/nexttogo-service-go/pkg/model"
)

type LoadFunc func(ctx context.Context) ([]model.Record, error)

// RunWindow evaluates load once and again after every invalidation of t.
// Results equal to the previously emitted one are dropped. The returned
// channel holds at most one pending result, an undelivered result is
// replaced by a newer one. The channel is closed when ctx is done.
func RunWindow(ctx context.Context, t *Tracker, load LoadFunc, l *log.Logger) <-chan []model.Record {
	out := make(chan []model.Record, 1)
	// observe before the first load, changes in between must not get lost
	changed, cancel := t.Observe()
	go func() {
		defer close(out)
		defer cancel()
		var last []model.Record
		first := true
		for {
			records, err := load(ctx)
			switch {
			case ctx.Err() != nil:
				return
			case err != nil:
				l.Error("window query failed", log.ErrorField(err))
			case first || !slices.Equal(last, records):
				first = false
				last = records
				select {
				case <-out:
				default:
				}
				out <- records
			}
			select {
			case <-ctx.Done():
				return
			case <-changed:
			}
		}
	}()
	return out
}
