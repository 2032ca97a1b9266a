//nolint:whitespace // can't make both the linter and editor happy :(
package service

import (
	"context"
	"slices"
	"sync"

	"github.com/mpapenbr/nexttogo-service-go/log"
	"github.com/mpapenbr/nexttogo-service-go/pkg/model"
	"github.com/mpapenbr/nexttogo-service-go/pkg/utils/broadcast"
)

// MaxNumberOfRaces is the number of races presented to clients.
const MaxNumberOfRaces = 5

// RaceUpdater is the part of the updater used by the service.
type RaceUpdater interface {
	StartRaceUpdates(count int, categories []model.RacingCategory) error
	StopRaceUpdates() error
	NextRaces() broadcast.BroadcastServer[[]model.Race]
	BackgroundErrors() broadcast.BroadcastServer[error]
}

// ViewState is the presentation state shared by all clients.
type ViewState struct {
	Races              []model.Race           `json:"races"`
	SelectedCategories []model.RacingCategory `json:"selectedCategories"`
	ShowError          bool                   `json:"showError"`
}

type (
	NextToGoService struct {
		updater RaceUpdater
		count   int
		log     *log.Logger

		mu          sync.Mutex
		state       ViewState
		initialized bool
		closed      bool

		stateSrc chan ViewState
		states   broadcast.BroadcastServer[ViewState]
		ctx      context.Context
		cancel   context.CancelFunc
		wg       sync.WaitGroup
	}
	Option func(*NextToGoService)
)

func WithCount(count int) Option {
	return func(s *NextToGoService) {
		s.count = count
	}
}

func WithCategories(categories ...model.RacingCategory) Option {
	return func(s *NextToGoService) {
		s.state.SelectedCategories = normalize(categories)
	}
}

func WithLogger(l *log.Logger) Option {
	return func(s *NextToGoService) {
		s.log = l
	}
}

func NewNextToGoService(updater RaceUpdater, opts ...Option) *NextToGoService {
	ctx, cancel := context.WithCancel(context.Background())
	ret := &NextToGoService{
		updater:  updater,
		count:    MaxNumberOfRaces,
		log:      log.Default().Named("service"),
		state:    ViewState{Races: []model.Race{}, SelectedCategories: []model.RacingCategory{}},
		stateSrc: make(chan ViewState),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(ret)
	}
	ret.states = broadcast.NewBroadcastServer("viewstate", ret.stateSrc,
		broadcast.WithLogger[ViewState](ret.log.Named("broadcast")))
	return ret
}

// Init subscribes to the updater streams and starts the race updates.
// Subsequent calls are no-ops.
func (s *NextToGoService) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}
	s.initialized = true

	races := s.updater.NextRaces().Subscribe()
	errs := s.updater.BackgroundErrors().Subscribe()
	s.wg.Add(1)
	go s.consume(races, errs)
	return s.start()
}

// Retry clears the error flag and restarts the race updates.
func (s *NextToGoService) Retry() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.ShowError = false
	s.publish()
	return s.start()
}

// ToggleCategory adds or removes c from the selection and restarts
// the race updates with the new selection.
func (s *NextToGoService) ToggleCategory(c model.RacingCategory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	selected := slices.Clone(s.state.SelectedCategories)
	if idx := slices.Index(selected, c); idx >= 0 {
		selected = slices.Delete(selected, idx, idx+1)
	} else {
		selected = normalize(append(selected, c))
	}
	s.state.SelectedCategories = selected
	s.publish()
	return s.start()
}

// State returns a snapshot of the current view state.
func (s *NextToGoService) State() ViewState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// Watch provides every state change from now on.
func (s *NextToGoService) Watch() broadcast.BroadcastServer[ViewState] {
	return s.states
}

// Close stops listening to the updater. The updater itself is not stopped.
func (s *NextToGoService) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
	s.states.Close()
}

func (s *NextToGoService) consume(races <-chan []model.Race, errs <-chan error) {
	defer s.wg.Done()
	defer s.updater.NextRaces().CancelSubscription(races)
	defer s.updater.BackgroundErrors().CancelSubscription(errs)
	for {
		select {
		case <-s.ctx.Done():
			return
		case r, ok := <-races:
			if !ok {
				return
			}
			s.mu.Lock()
			s.state.Races = r
			s.publish()
			s.mu.Unlock()
		case err, ok := <-errs:
			if !ok {
				return
			}
			s.handleError(err)
		}
	}
}

func (s *NextToGoService) handleError(err error) {
	s.log.Warn("stopping race updates on background error", log.ErrorField(err))
	if stopErr := s.updater.StopRaceUpdates(); stopErr != nil {
		s.log.Error("could not stop race updates", log.ErrorField(stopErr))
	}
	s.mu.Lock()
	s.state.ShowError = true
	s.publish()
	s.mu.Unlock()
}

// start must be called with s.mu held
func (s *NextToGoService) start() error {
	return s.updater.StartRaceUpdates(s.count, s.state.SelectedCategories)
}

// publish must be called with s.mu held
func (s *NextToGoService) publish() {
	select {
	case s.stateSrc <- s.snapshot():
	case <-s.ctx.Done():
	}
}

func (s *NextToGoService) snapshot() ViewState {
	return ViewState{
		Races:              slices.Clone(s.state.Races),
		SelectedCategories: slices.Clone(s.state.SelectedCategories),
		ShowError:          s.state.ShowError,
	}
}

func normalize(categories []model.RacingCategory) []model.RacingCategory {
	ret := slices.Clone(categories)
	slices.Sort(ret)
	return slices.Compact(ret)
}
