package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/quantello/marketsync/internal/models"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
)

// HTTPClientConfig tunes the provider client. Retries apply only to
// rate-limit and server-side failures; auth errors fail fast.
type HTTPClientConfig struct {
	BaseURL    string
	APIToken   string
	Timeout    time.Duration
	MaxRetries uint64
	RetryBase  time.Duration
	RetryCap   time.Duration
}

// HTTPClient talks to the provider's REST API with bearer-token auth and
// capped exponential backoff with jitter.
type HTTPClient struct {
	cfg    HTTPClientConfig
	http   *http.Client
	logger zerolog.Logger
}

func NewHTTPClient(cfg HTTPClientConfig, logger zerolog.Logger) *HTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 4
	}
	if cfg.RetryBase == 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryCap == 0 {
		cfg.RetryCap = 15 * time.Second
	}
	return &HTTPClient{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger.With().Str("component", "source_client").Logger(),
	}
}

type calendarResponse struct {
	Calendar []struct {
		Date        string `json:"date"`
		BusinessDay bool   `json:"business_day"`
	} `json:"calendar"`
}

func (c *HTTPClient) TradingCalendar(ctx context.Context, from, to time.Time) ([]models.CalendarDay, error) {
	params := url.Values{}
	params.Set("from", from.Format(models.DateLayout))
	params.Set("to", to.Format(models.DateLayout))

	var resp calendarResponse
	if err := c.getJSON(ctx, "/v1/markets/trading_calendar", params, &resp); err != nil {
		return nil, err
	}

	days := make([]models.CalendarDay, 0, len(resp.Calendar))
	for _, entry := range resp.Calendar {
		day, err := time.Parse(models.DateLayout, entry.Date)
		if err != nil {
			return nil, errors.Wrapf(err, "parse calendar date %q", entry.Date)
		}
		days = append(days, models.CalendarDay{Day: day, IsBusinessDay: entry.BusinessDay})
	}
	return days, nil
}

type quotesResponse struct {
	Date   string `json:"date"`
	Quotes []struct {
		Code     string   `json:"code"`
		Open     *float64 `json:"open"`
		High     *float64 `json:"high"`
		Low      *float64 `json:"low"`
		Close    *float64 `json:"close"`
		Volume   *int64   `json:"volume"`
		Turnover *float64 `json:"turnover"`
	} `json:"quotes"`
	PaginationKey string `json:"pagination_key"`
}

func (c *HTTPClient) DailyQuotes(ctx context.Context, date time.Time, cursor string) (QuotePage, error) {
	params := url.Values{}
	params.Set("date", date.Format(models.DateLayout))
	if cursor != "" {
		params.Set("pagination_key", cursor)
	}

	var resp quotesResponse
	if err := c.getJSON(ctx, "/v1/prices/daily_quotes", params, &resp); err != nil {
		return QuotePage{}, err
	}

	// The provider may answer with a different trade date than requested
	// (next business day for holidays). That date, not the requested one,
	// keys every row written downstream.
	effective, err := time.Parse(models.DateLayout, resp.Date)
	if err != nil {
		return QuotePage{}, errors.Wrapf(err, "parse quotes effective date %q", resp.Date)
	}

	page := QuotePage{EffectiveDate: models.Midnight(effective), NextCursor: resp.PaginationKey}
	page.Quotes = make([]models.DailyQuote, 0, len(resp.Quotes))
	for _, q := range resp.Quotes {
		page.Quotes = append(page.Quotes, models.DailyQuote{
			Code:      q.Code,
			TradeDate: page.EffectiveDate,
			Open:      q.Open,
			High:      q.High,
			Low:       q.Low,
			Close:     q.Close,
			Volume:    q.Volume,
			Turnover:  q.Turnover,
		})
	}
	return page, nil
}

type instrumentsResponse struct {
	Date        string `json:"date"`
	Instruments []struct {
		Code          string `json:"code"`
		Name          string `json:"name"`
		MarketSegment string `json:"market_segment"`
		Sector        string `json:"sector"`
	} `json:"instruments"`
}

func (c *HTTPClient) ListedInstruments(ctx context.Context) (InstrumentSnapshot, error) {
	var resp instrumentsResponse
	if err := c.getJSON(ctx, "/v1/listed/instruments", url.Values{}, &resp); err != nil {
		return InstrumentSnapshot{}, err
	}

	effective, err := time.Parse(models.DateLayout, resp.Date)
	if err != nil {
		return InstrumentSnapshot{}, errors.Wrapf(err, "parse snapshot effective date %q", resp.Date)
	}

	snapshot := InstrumentSnapshot{EffectiveDate: models.Midnight(effective)}
	snapshot.Instruments = make([]models.Instrument, 0, len(resp.Instruments))
	for _, inst := range resp.Instruments {
		snapshot.Instruments = append(snapshot.Instruments, models.Instrument{
			Code:          inst.Code,
			Name:          inst.Name,
			MarketSegment: inst.MarketSegment,
			Sector:        inst.Sector,
		})
	}
	return snapshot, nil
}

// getJSON performs one GET with retries. Retryable failures are re-marked
// for go-retry; everything else aborts the backoff loop immediately.
func (c *HTTPClient) getJSON(ctx context.Context, path string, params url.Values, out interface{}) error {
	endpoint := c.cfg.BaseURL + path
	if encoded := params.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	backoff := retry.NewExponential(c.cfg.RetryBase)
	backoff = retry.WithCappedDuration(c.cfg.RetryCap, backoff)
	backoff = retry.WithJitterPercent(20, backoff)
	backoff = retry.WithMaxRetries(c.cfg.MaxRetries, backoff)

	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := c.doOnce(ctx, endpoint, out)
		if err == nil {
			return nil
		}
		if IsRetryable(err) {
			c.logger.Warn().Err(err).Int("attempt", attempt).Str("path", path).Msg("retryable source failure")
			return retry.RetryableError(err)
		}
		return err
	})
}

func (c *HTTPClient) doOnce(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return errors.Wrap(err, "build source request")
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Kind: KindTransport, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return &Error{Kind: KindTransport, Message: fmt.Sprintf("read body: %v", err)}
	}

	if resp.StatusCode != http.StatusOK {
		msg := string(body)
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return errorFromStatus(resp.StatusCode, msg)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrap(err, "decode source response")
	}
	return nil
}
