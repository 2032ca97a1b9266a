// Package updater keeps the local race store in sync with the remote source.
//
// An Updater owns a single goroutine which holds all mutable state: the
// cutoff cursor, the forced re-evaluation time, the fetch guard and the
// adaptive fetch multiplier. Commands, window emissions, ticks and fetch
// results are all processed by this goroutine in the order they are
// received. Remote calls and store writes run in a separate worker goroutine,
// at most one at a time. Window emissions are evaluated while a fetch is
// running; only the start of another fetch is suppressed.
package updater

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/mpapenbr/nexttogo-service-go/log"
	"github.com/mpapenbr/nexttogo-service-go/pkg/feed"
	"github.com/mpapenbr/nexttogo-service-go/pkg/model"
	"github.com/mpapenbr/nexttogo-service-go/pkg/store"
	"github.com/mpapenbr/nexttogo-service-go/pkg/utils/broadcast"
)

const (
	// races starting before now minus this threshold are expired
	ExpiryThreshold = 59 * time.Second
	// extra rows requested from the store beyond the visible count
	Buffer             = 2
	BaselineMultiplier = 2
	MaxFetchCount      = 100
	TickInterval       = time.Second
	BackfillDelay      = time.Second
)

type (
	Updater struct {
		store   store.Store
		source  feed.Source
		clock   clockwork.Clock
		log     *log.Logger
		meter   metric.Meter
		metrics *metrics

		ctx       context.Context
		cancel    context.CancelFunc
		done      chan struct{}
		closeOnce sync.Once

		cmds      chan command
		fetchDone chan error

		racesSrc  chan []model.Race
		errorsSrc chan error
		nextRaces broadcast.BroadcastServer[[]model.Race]
		bgErrors  broadcast.BroadcastServer[error]
	}
	Option func(*Updater)
)

type commandKind int

const (
	cmdStart commandKind = iota
	cmdStop
)

type command struct {
	kind        commandKind
	count       int
	categoryIDs []string
	reply       chan error
}

// state is only accessed by the orchestrator goroutine.
type state struct {
	minStartTime    time.Time
	nextUpdateTime  *time.Time
	isFetching      bool
	fetchMultiplier int
	session         *session
}

type session struct {
	count           int
	countWithBuffer int
	categoryIDs     []string
	window          <-chan []model.Record
	cancelWindow    context.CancelFunc
	ticker          clockwork.Timer
}

func WithClock(c clockwork.Clock) Option {
	return func(u *Updater) {
		u.clock = c
	}
}

func WithLogger(l *log.Logger) Option {
	return func(u *Updater) {
		u.log = l
	}
}

func WithMeter(m metric.Meter) Option {
	return func(u *Updater) {
		u.meter = m
	}
}

// New creates an idle Updater. The cutoff cursor starts at now minus
// ExpiryThreshold and is kept across sessions.
func New(s store.Store, source feed.Source, opts ...Option) *Updater {
	ctx, cancel := context.WithCancel(context.Background())
	u := &Updater{
		store:     s,
		source:    source,
		clock:     clockwork.NewRealClock(),
		log:       log.Default().Named("updater"),
		meter:     otel.GetMeterProvider().Meter("ntg.updater"),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		cmds:      make(chan command),
		fetchDone: make(chan error, 1),
		racesSrc:  make(chan []model.Race),
		errorsSrc: make(chan error),
	}
	for _, opt := range opts {
		opt(u)
	}
	u.metrics = newMetrics(u.meter, u.log)
	u.nextRaces = broadcast.NewBroadcastServer("nextraces", u.racesSrc,
		broadcast.WithTelemetry[[]model.Race]("races"),
		broadcast.WithLogger[[]model.Race](u.log.Named("broadcast")))
	u.bgErrors = broadcast.NewBroadcastServer("errors", u.errorsSrc,
		broadcast.WithTelemetry[error]("background-error"),
		broadcast.WithLogger[error](u.log.Named("broadcast")))

	st := &state{
		minStartTime:    u.clock.Now().Add(-ExpiryThreshold),
		fetchMultiplier: BaselineMultiplier,
	}
	go u.run(st)
	return u
}

// NextRaces emits the trimmed window of every evaluated store emission.
func (u *Updater) NextRaces() broadcast.BroadcastServer[[]model.Race] {
	return u.nextRaces
}

// BackgroundErrors emits a *BackgroundError for every failed fetch or merge.
// The emitted value wraps the error returned by the source or store instead of
// being that error itself; use errors.Is or errors.As to inspect it.
func (u *Updater) BackgroundErrors() broadcast.BroadcastServer[error] {
	return u.bgErrors
}

// StartRaceUpdates replaces the active session (if any) by a new one
// delivering up to count races of the given categories. No categories means
// all categories.
//
//nolint:whitespace // editor/linter issue
func (u *Updater) StartRaceUpdates(
	count int,
	categories []model.RacingCategory,
) error {
	if count <= 0 {
		return ErrInvalidCount
	}
	ids := model.CategoryIDs(categories)
	slices.Sort(ids)
	return u.send(command{kind: cmdStart, count: count, categoryIDs: ids})
}

// StopRaceUpdates ends the active session. A fetch already in flight is
// completed and merged. Calling it without active session is a no-op.
func (u *Updater) StopRaceUpdates() error {
	return u.send(command{kind: cmdStop})
}

// Close stops the orchestrator and closes both output streams.
func (u *Updater) Close() {
	u.closeOnce.Do(func() {
		u.cancel()
		<-u.done
		u.nextRaces.Close()
		u.bgErrors.Close()
	})
}

func (u *Updater) send(c command) error {
	c.reply = make(chan error, 1)
	select {
	case u.cmds <- c:
	case <-u.done:
		return ErrClosed
	}
	select {
	case err := <-c.reply:
		return err
	case <-u.done:
		return ErrClosed
	}
}

//nolint:cyclop // by design
func (u *Updater) run(st *state) {
	defer close(u.done)
	for {
		var window <-chan []model.Record
		var tick <-chan time.Time
		if st.session != nil {
			window = st.session.window
			tick = st.session.ticker.Chan()
		}
		select {
		case <-u.ctx.Done():
			u.endSession(st)
			return
		case c := <-u.cmds:
			c.reply <- u.handle(st, c)
		case records, ok := <-window:
			if !ok {
				u.log.Warn("store window closed")
				st.session.window = nil
				continue
			}
			u.evaluate(st, records)
		case <-tick:
			u.onTick(st)
		case err := <-u.fetchDone:
			st.isFetching = false
			if err != nil {
				u.publishError(err)
			}
		}
	}
}

func (u *Updater) handle(st *state, c command) error {
	switch c.kind {
	case cmdStart:
		u.endSession(st)
		st.fetchMultiplier = BaselineMultiplier
		st.nextUpdateTime = nil
		s := &session{
			count:           c.count,
			countWithBuffer: c.count + Buffer,
			categoryIDs:     c.categoryIDs,
		}
		if err := u.subscribe(st, s); err != nil {
			return err
		}
		s.ticker = u.clock.NewTimer(TickInterval)
		st.session = s
		u.log.Debug("started race updates",
			log.Int("count", c.count), log.Strings("categories", c.categoryIDs))
	case cmdStop:
		if st.session != nil {
			u.log.Debug("stopped race updates")
		}
		u.endSession(st)
		st.nextUpdateTime = nil
	}
	return nil
}

func (u *Updater) endSession(st *state) {
	if st.session == nil {
		return
	}
	st.session.cancelWindow()
	st.session.ticker.Stop()
	st.session = nil
}

// subscribe opens a window for s at the current cursor, closing the previous one.
func (u *Updater) subscribe(st *state, s *session) error {
	ctx, cancel := context.WithCancel(u.ctx)
	ch, err := u.store.Window(ctx, store.Query{
		CategoryIDs:  s.categoryIDs,
		MinStartTime: st.minStartTime,
		Limit:        s.countWithBuffer,
	})
	if err != nil {
		cancel()
		return err
	}
	if s.cancelWindow != nil {
		s.cancelWindow()
	}
	s.window = ch
	s.cancelWindow = cancel
	return nil
}

func (u *Updater) onTick(st *state) {
	now := u.clock.Now()
	if st.nextUpdateTime != nil && !st.isFetching && !now.Before(*st.nextUpdateTime) {
		cursor := now.Add(-ExpiryThreshold)
		if cursor.Unix() != st.minStartTime.Unix() {
			st.minStartTime = cursor
			if err := u.subscribe(st, st.session); err != nil {
				u.publishError(&BackgroundError{Op: OpWindow, Err: err})
			}
		}
	}
	st.session.ticker = u.clock.NewTimer(TickInterval)
}

func (u *Updater) evaluate(st *state, records []model.Record) {
	s := st.session
	now := u.clock.Now()
	if len(records) == 0 {
		st.nextUpdateTime = &now
	} else {
		t := time.Unix(records[0].StartTime, 0).Add(ExpiryThreshold + time.Second)
		st.nextUpdateTime = &t
	}

	if len(records) < s.countWithBuffer {
		st.nextUpdateTime = &now
		if !st.isFetching {
			size := min(s.count*st.fetchMultiplier, MaxFetchCount)
			var delay time.Duration
			if st.fetchMultiplier > BaselineMultiplier {
				delay = BackfillDelay
			}
			st.isFetching = true
			go func() { u.fetchDone <- u.fetch(size, delay) }()
			st.fetchMultiplier += 2
		}
	} else {
		st.fetchMultiplier = BaselineMultiplier
	}

	races := model.ToRaces(records[:min(len(records), s.count)])
	select {
	case u.racesSrc <- races:
	case <-u.ctx.Done():
	}
}

func (u *Updater) publishError(err error) {
	select {
	case u.errorsSrc <- err:
	case <-u.ctx.Done():
	}
}
