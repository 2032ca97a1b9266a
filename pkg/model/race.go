package model

import (
	"time"
)

// Race is an upcoming race as presented to callers.
type Race struct {
	ID          string         `json:"id"`
	MeetingName string         `json:"meetingName"`
	RaceNumber  int            `json:"raceNumber"`
	Category    RacingCategory `json:"category"`
	StartTime   time.Time      `json:"startTime"`
}
