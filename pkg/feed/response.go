package feed

import (
	"github.com/samber/lo"

	"github.com/mpapenbr/nexttogo-service-go/pkg/model"
)

type (
	NextRacesResponse struct {
		Status  int    `json:"status"`
		Data    Data   `json:"data"`
		Message string `json:"message"`
	}
	Data struct {
		NextToGoIDs   []string               `json:"next_to_go_ids"`
		RaceSummaries map[string]RaceSummary `json:"race_summaries"`
	}
	RaceSummary struct {
		RaceID          string          `json:"race_id"`
		RaceName        string          `json:"race_name"`
		RaceNumber      int             `json:"race_number"`
		MeetingID       string          `json:"meeting_id"`
		MeetingName     string          `json:"meeting_name"`
		CategoryID      string          `json:"category_id"`
		AdvertisedStart AdvertisedStart `json:"advertised_start"`
		VenueID         string          `json:"venue_id"`
		VenueName       string          `json:"venue_name"`
		VenueState      string          `json:"venue_state"`
		VenueCountry    string          `json:"venue_country"`
	}
	AdvertisedStart struct {
		Seconds int64 `json:"seconds"`
	}
)

// ToRecords maps the race summaries to store records.
// The feed gives no ordering guarantee, neither does the result.
func (r *NextRacesResponse) ToRecords() []model.Record {
	if r == nil {
		return nil
	}
	return lo.MapToSlice(r.Data.RaceSummaries,
		func(_ string, s RaceSummary) model.Record {
			return model.Record{
				ID:          s.RaceID,
				MeetingName: s.MeetingName,
				RaceNumber:  s.RaceNumber,
				CategoryID:  s.CategoryID,
				StartTime:   s.AdvertisedStart.Seconds,
			}
		})
}
