package source

import (
	"context"
	"time"

	"github.com/quantello/marketsync/internal/models"
)

// QuotePage is one page of daily quotes. EffectiveDate is the trade date
// the provider actually served, which may differ from the requested date
// (the API substitutes the next available business day when asked for a
// holiday); downstream writes must use it, never the requested date.
type QuotePage struct {
	Quotes        []models.DailyQuote
	EffectiveDate time.Time
	NextCursor    string
}

// InstrumentSnapshot is the full listed-instrument set as of EffectiveDate.
type InstrumentSnapshot struct {
	Instruments   []models.Instrument
	EffectiveDate time.Time
}

// Client is the contract against the upstream market-data provider.
// Implementations must classify failures as retryable or not; see Error.
type Client interface {
	TradingCalendar(ctx context.Context, from, to time.Time) ([]models.CalendarDay, error)
	DailyQuotes(ctx context.Context, date time.Time, cursor string) (QuotePage, error)
	ListedInstruments(ctx context.Context) (InstrumentSnapshot, error)
}
