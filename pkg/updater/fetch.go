package updater

import (
	"time"

	"github.com/samber/lo"

	"github.com/mpapenbr/nexttogo-service-go/log"
	"github.com/mpapenbr/nexttogo-service-go/pkg/model"
)

// fetch requests size races from the source and merges them into the store.
// It runs outside of the orchestrator goroutine and returns the error to
// publish, if any.
func (u *Updater) fetch(size int, delay time.Duration) error {
	ctx := u.ctx
	if delay > 0 {
		t := u.clock.NewTimer(delay)
		select {
		case <-t.Chan():
		case <-ctx.Done():
			t.Stop()
			return nil
		}
	}

	start := u.clock.Now()
	u.log.Debug("fetching races", log.Int("count", size))
	resp, err := u.source.FetchNextRaces(ctx, size)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		u.log.Warn("fetching races failed", log.ErrorField(err))
		u.metrics.failed(ctx, OpFetch)
		return &BackgroundError{Op: OpFetch, Err: err}
	}

	cutoff := u.clock.Now().Add(-ExpiryThreshold)
	records := lo.Filter(resp.ToRecords(), func(r model.Record, _ int) bool {
		return r.StartTime >= cutoff.Unix()
	})
	err = u.store.UpsertAll(ctx, records)
	if err == nil {
		err = u.store.DeleteStale(ctx, cutoff)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		u.log.Error("merging races failed, clearing store", log.ErrorField(err))
		if clearErr := u.store.Clear(ctx); clearErr != nil {
			u.log.Error("clearing store failed", log.ErrorField(clearErr))
		}
		u.metrics.failed(ctx, OpPersist)
		return &BackgroundError{Op: OpPersist, Err: err}
	}
	u.metrics.fetched(ctx, size, len(records), u.clock.Since(start))
	return nil
}
