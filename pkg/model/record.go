package model

import (
	"cmp"
	"slices"
	"time"

	"github.com/samber/lo"
)

// Record is the stored form of a race. The category is kept as its external id
// and the start time as epoch seconds.
type Record struct {
	ID          string
	MeetingName string
	RaceNumber  int
	CategoryID  string
	StartTime   int64
}

func (r Record) ToRace() Race {
	return Race{
		ID:          r.ID,
		MeetingName: r.MeetingName,
		RaceNumber:  r.RaceNumber,
		Category:    FromID(r.CategoryID),
		StartTime:   time.Unix(r.StartTime, 0).UTC(),
	}
}

func ToRaces(records []Record) []Race {
	return lo.Map(records, func(r Record, _ int) Race { return r.ToRace() })
}

// CompareRecords orders by start time, then meeting name, then id.
// Meeting names compare byte-wise, as the stores do.
func CompareRecords(a, b Record) int {
	if c := cmp.Compare(a.StartTime, b.StartTime); c != 0 {
		return c
	}
	if c := cmp.Compare(a.MeetingName, b.MeetingName); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func SortRecords(records []Record) {
	slices.SortStableFunc(records, CompareRecords)
}

// CategoryIDs converts categories to their external ids, dropping duplicates.
func CategoryIDs(categories []RacingCategory) []string {
	return lo.Uniq(lo.Map(categories, func(c RacingCategory, _ int) string { return c.ID() }))
}
