//nolint:funlen // ok for tests
package public

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/nexttogo-service-go/log"
	"github.com/mpapenbr/nexttogo-service-go/pkg/model"
	"github.com/mpapenbr/nexttogo-service-go/pkg/service"
	"github.com/mpapenbr/nexttogo-service-go/pkg/utils/broadcast"
)

type fakeService struct {
	mu      sync.Mutex
	state   service.ViewState
	retries int
	src     chan service.ViewState
	states  broadcast.BroadcastServer[service.ViewState]
}

func newFakeService() *fakeService {
	f := &fakeService{
		state: service.ViewState{
			Races: []model.Race{{
				ID:          "race_1",
				MeetingName: "Ellerslie",
				RaceNumber:  2,
				Category:    model.Horse,
				StartTime:   time.Unix(0, 0).UTC(),
			}},
			SelectedCategories: []model.RacingCategory{model.Horse},
		},
		src: make(chan service.ViewState),
	}
	f.states = broadcast.NewBroadcastServer("test", f.src,
		broadcast.WithLogger[service.ViewState](log.NewNop()))
	return f
}

func (f *fakeService) State() service.ViewState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeService) Watch() broadcast.BroadcastServer[service.ViewState] { return f.states }

func (f *fakeService) Retry() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retries++
	f.state.ShowError = false
	return nil
}

func (f *fakeService) ToggleCategory(c model.RacingCategory) error {
	f.mu.Lock()
	f.state.SelectedCategories = append(f.state.SelectedCategories, c)
	st := f.state
	f.mu.Unlock()
	f.src <- st
	return nil
}

func setup(t *testing.T) (*fakeService, http.Handler) {
	t.Helper()
	f := newFakeService()
	t.Cleanup(f.states.Close)
	s := NewServer(f, WithLogger(log.NewNop()), WithHeartbeat(time.Hour))
	return f, s.Handler()
}

func TestNextRaces(t *testing.T) {
	_, h := setup(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/races/next", http.NoBody))

	assert.Equal(t, http.StatusOK, rec.Code)
	var got service.ViewState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Races, 1)
	assert.Equal(t, "race_1", got.Races[0].ID)
	assert.Equal(t, model.Horse, got.Races[0].Category)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestCategories(t *testing.T) {
	_, h := setup(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/categories", http.NoBody))

	assert.Equal(t, http.StatusOK, rec.Code)
	var got []CategoryInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, []CategoryInfo{
		{Name: "greyhound", ID: model.GreyhoundID},
		{Name: "harness", ID: model.HarnessID},
		{Name: "horse", ID: model.HorseID, Selected: true},
	}, got)
}

func TestToggle(t *testing.T) {
	tests := []struct {
		name     string
		category string
		want     int
	}{
		{name: "by name", category: "greyhound", want: http.StatusOK},
		{name: "by id", category: model.HarnessID, want: http.StatusOK},
		{name: "unknown", category: "camel", want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, h := setup(t)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost,
				"/api/v1/categories/"+tt.category+"/toggle", http.NoBody))
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusOK {
				assert.Len(t, f.State().SelectedCategories, 2)
			}
		})
	}
}

func TestRetry(t *testing.T) {
	f, h := setup(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/retry", http.NoBody))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.retries)
}

func TestHealth(t *testing.T) {
	_, h := setup(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestStream(t *testing.T) {
	f, h := setup(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		srv.URL+"/api/v1/races/stream", http.NoBody)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	readState := func() service.ViewState {
		t.Helper()
		var data string
		for {
			line, err := r.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			if line == "" && data != "" {
				break
			}
			if after, ok := strings.CutPrefix(line, "data: "); ok {
				data = after
			}
		}
		var st service.ViewState
		require.NoError(t, json.Unmarshal([]byte(data), &st))
		return st
	}

	first := readState()
	assert.Equal(t, []model.RacingCategory{model.Horse}, first.SelectedCategories)

	go func() { _ = f.ToggleCategory(model.Greyhound) }()
	second := readState()
	assert.Equal(t, []model.RacingCategory{model.Horse, model.Greyhound}, second.SelectedCategories)
}
