//nolint:funlen // ok for tests
package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/nexttogo-service-go/log"
	"github.com/mpapenbr/nexttogo-service-go/pkg/model"
)

const samplePayload = `{
  "status": 200,
  "data": {
    "next_to_go_ids": ["race_2", "race_1"],
    "race_summaries": {
      "race_1": {
        "race_id": "race_1",
        "race_name": "Maiden",
        "race_number": 2,
        "meeting_id": "m1",
        "meeting_name": "Ellerslie",
        "category_id": "4a2788f8-e825-4d36-9894-efd4baf1cfae",
        "advertised_start": {"seconds": 1700000000},
        "venue_id": "v1",
        "venue_name": "Ellerslie",
        "venue_state": "AKL",
        "venue_country": "NZ"
      },
      "race_2": {
        "race_id": "race_2",
        "race_number": 5,
        "meeting_name": "Spring Carnival",
        "category_id": "161d9be2-e909-4326-8c2c-35ed71fb460b",
        "advertised_start": {"seconds": 1699999000}
      }
    }
  },
  "message": "Next 2 races from each category"
}`

func TestClient_FetchNextRaces(t *testing.T) {
	var gotMethod, gotCount, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.URL.Query().Get("method")
		gotCount = r.URL.Query().Get("count")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(samplePayload)) //nolint:errcheck // test
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithLogger(log.NewNop()))
	resp, err := c.FetchNextRaces(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, "/rest/v1/racing/", gotPath)
	assert.Equal(t, "nextraces", gotMethod)
	assert.Equal(t, "10", gotCount)
	assert.Equal(t, 200, resp.Status)
	assert.Len(t, resp.Data.RaceSummaries, 2)
	assert.Equal(t, []string{"race_2", "race_1"}, resp.Data.NextToGoIDs)

	records := resp.ToRecords()
	model.SortRecords(records)
	want := []model.Record{
		{
			ID: "race_2", MeetingName: "Spring Carnival", RaceNumber: 5,
			CategoryID: model.HarnessID, StartTime: 1699999000,
		},
		{
			ID: "race_1", MeetingName: "Ellerslie", RaceNumber: 2,
			CategoryID: model.HorseID, StartTime: 1700000000,
		},
	}
	if diff := cmp.Diff(want, records); diff != "" {
		t.Errorf("ToRecords() mismatch (-want +got):\n%s", diff)
	}
}

func TestClient_FetchNextRacesErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantIs  error
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
			wantIs: ErrUnexpectedStatus,
		},
		{
			name: "invalid json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("{not json")) //nolint:errcheck // test
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			c := NewClient(srv.URL, WithLogger(log.NewNop()))
			resp, err := c.FetchNextRaces(context.Background(), 5)
			assert.Nil(t, resp)
			require.Error(t, err)
			if tt.wantIs != nil {
				assert.ErrorIs(t, err, tt.wantIs)
			}
		})
	}
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(srv.URL,
		WithLogger(log.NewNop()),
		WithTimeout(50*time.Millisecond),
		WithTracing())
	_, err := c.FetchNextRaces(context.Background(), 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestToRecordsNil(t *testing.T) {
	var r *NextRacesResponse
	assert.Empty(t, r.ToRecords())
}
