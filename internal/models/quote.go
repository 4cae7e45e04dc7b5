package models

import "time"

// DailyQuote is one end-of-day price row, keyed by (code, trade_date).
// Repeated delivery of the same source record resolves to the same row.
type DailyQuote struct {
	Code      string    `json:"code" db:"code"`
	TradeDate time.Time `json:"trade_date" db:"trade_date"`
	Open      *float64  `json:"open,omitempty" db:"open"`
	High      *float64  `json:"high,omitempty" db:"high"`
	Low       *float64  `json:"low,omitempty" db:"low"`
	Close     *float64  `json:"close,omitempty" db:"close"`
	Volume    *int64    `json:"volume,omitempty" db:"volume"`
	Turnover  *float64  `json:"turnover,omitempty" db:"turnover"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
