package model

import (
	"fmt"
	"strings"
)

// RacingCategory is the closed set of race categories offered by the feed.
type RacingCategory int

const (
	Unknown RacingCategory = iota
	Greyhound
	Harness
	Horse
)

// external ids as used by the feed
const (
	GreyhoundID = "9daef0d7-bf3c-4f50-921d-8e818c60fe61"
	HarnessID   = "161d9be2-e909-4326-8c2c-35ed71fb460b"
	HorseID     = "4a2788f8-e825-4d36-9894-efd4baf1cfae"
)

var categoryIDs = map[RacingCategory]string{
	Greyhound: GreyhoundID,
	Harness:   HarnessID,
	Horse:     HorseID,
	Unknown:   "",
}

var categoryNames = map[RacingCategory]string{
	Greyhound: "greyhound",
	Harness:   "harness",
	Horse:     "horse",
	Unknown:   "unknown",
}

// KnownCategories lists the selectable categories in display order.
var KnownCategories = []RacingCategory{Greyhound, Harness, Horse}

// FromID maps an external category id. Unrecognized ids yield Unknown.
func FromID(id string) RacingCategory {
	for c, cid := range categoryIDs {
		if c != Unknown && cid == id {
			return c
		}
	}
	return Unknown
}

// ParseCategory resolves a category by name (case insensitive) or external id.
func ParseCategory(s string) (RacingCategory, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	for c, name := range categoryNames {
		if c != Unknown && name == v {
			return c, nil
		}
	}
	if c := FromID(v); c != Unknown {
		return c, nil
	}
	return Unknown, fmt.Errorf("unknown racing category %q", s)
}

func (c RacingCategory) ID() string {
	return categoryIDs[c]
}

func (c RacingCategory) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return categoryNames[Unknown]
}

func (c RacingCategory) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *RacingCategory) UnmarshalText(text []byte) error {
	v, err := ParseCategory(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}
