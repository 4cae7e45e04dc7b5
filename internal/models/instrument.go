package models

import "time"

// Instrument is one listed instrument as reported by a source snapshot.
type Instrument struct {
	Code          string `json:"code"`
	Name          string `json:"name"`
	MarketSegment string `json:"market_segment"`
	Sector        string `json:"sector"`
}

// InstrumentVersion is one type-2 history row for an instrument. For a
// given code at most one row has IsCurrent=true, and a closed row's
// ValidTo equals its successor's ValidFrom (exclusive upper bound).
type InstrumentVersion struct {
	ID            string     `json:"id" db:"id"`
	Code          string     `json:"code" db:"code"`
	Name          string     `json:"name" db:"name"`
	MarketSegment string     `json:"market_segment" db:"market_segment"`
	Sector        string     `json:"sector" db:"sector"`
	ValidFrom     time.Time  `json:"valid_from" db:"valid_from"`
	ValidTo       *time.Time `json:"valid_to,omitempty" db:"valid_to"`
	IsCurrent     bool       `json:"is_current" db:"is_current"`
}
