package basedata

import (
	"context"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mpapenbr/nexttogo-service-go/pkg/feed"
	"github.com/mpapenbr/nexttogo-service-go/pkg/model"
	"github.com/mpapenbr/nexttogo-service-go/pkg/repository"
	racerepos "github.com/mpapenbr/nexttogo-service-go/pkg/repository/race"
)

func summary(id string, num int, meeting, categoryID string, start int64) feed.RaceSummary {
	return feed.RaceSummary{
		RaceID:          id,
		RaceNumber:      num,
		MeetingName:     meeting,
		CategoryID:      categoryID,
		AdvertisedStart: feed.AdvertisedStart{Seconds: start},
	}
}

func response(summaries ...feed.RaceSummary) *feed.NextRacesResponse {
	ret := &feed.NextRacesResponse{
		Status: 200,
		Data: feed.Data{
			RaceSummaries: make(map[string]feed.RaceSummary, len(summaries)),
		},
	}
	for _, s := range summaries {
		ret.Data.NextToGoIDs = append(ret.Data.NextToGoIDs, s.RaceID)
		ret.Data.RaceSummaries[s.RaceID] = s
	}
	return ret
}

// SufficientRaces returns 7 races (start times 0..10800s) across all categories.
// race_2 is harness, race_3 and race_7 are greyhound, the others are horse.
func SufficientRaces() *feed.NextRacesResponse {
	return response(
		summary("race_4", 3, "Royal Ascot", model.HorseID, 5400),
		summary("race_1", 2, "Ellerslie", model.HorseID, 0),
		summary("race_2", 5, "Spring Carnival", model.HarnessID, 1200),
		summary("race_7", 6, "Belmont Stakes", model.GreyhoundID, 10800),
		summary("race_3", 8, "Kentucky Derby", model.GreyhoundID, 3600),
		summary("race_5", 1, "Epsom Derby", model.HorseID, 7200),
		summary("race_6", 4, "Preakness Stakes", model.HorseID, 9000),
	)
}

// NotEnoughRaces returns the first 3 races of SufficientRaces.
func NotEnoughRaces() *feed.NextRacesResponse {
	return response(
		summary("race_4", 3, "Royal Ascot", model.HorseID, 5400),
		summary("race_1", 2, "Ellerslie", model.HorseID, 0),
		summary("race_2", 5, "Spring Carnival", model.HarnessID, 1200),
	)
}

// SampleRecords returns the records of SufficientRaces in window order.
func SampleRecords() []model.Record {
	ret := SufficientRaces().ToRecords()
	model.SortRecords(ret)
	return ret
}

func CreateSampleRaces(db *pgxpool.Pool) []model.Record {
	ctx := context.Background()
	records := SampleRecords()
	err := repository.RunInTx(ctx, db, func(q repository.Querier) error {
		return racerepos.Upsert(ctx, q, records)
	})
	if err != nil {
		log.Fatalf("createSampleRaces: %v\n", err)
	}
	return records
}

// SameStartRecords share one start time; ordered they are r_x, r_y, r_b, r_a
// (meeting names compare byte-wise, ids break the remaining tie).
func SameStartRecords() []model.Record {
	return []model.Record{
		{ID: "r_b", MeetingName: "Beta", CategoryID: model.HorseID, StartTime: 20000},
		{ID: "r_a", MeetingName: "alpha", CategoryID: model.HorseID, StartTime: 20000},
		{ID: "r_y", MeetingName: "Ascot", CategoryID: model.HorseID, StartTime: 20000},
		{ID: "r_x", MeetingName: "Ascot", CategoryID: model.HorseID, StartTime: 20000},
	}
}
