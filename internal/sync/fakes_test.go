package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/quantello/marketsync/internal/models"
	"github.com/quantello/marketsync/internal/source"
)

// In-memory doubles for the repository and source interfaces. They keep
// just enough state for assertions; error fields force failure paths.

type fakeCalendarRepo struct {
	days        []time.Time
	upserted    int
	upsertErr   error
	betweenErr  error
	latestErr   error
	coverageErr error
}

func (f *fakeCalendarRepo) UpsertDays(_ context.Context, days []models.CalendarDay) (int64, error) {
	if f.upsertErr != nil {
		return 0, f.upsertErr
	}
	f.upserted += len(days)
	return int64(len(days)), nil
}

func (f *fakeCalendarRepo) IsBusinessDay(_ context.Context, day time.Time) (bool, error) {
	for _, d := range f.days {
		if models.SameDay(d, day) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeCalendarRepo) BusinessDaysBetween(_ context.Context, from, to time.Time) ([]time.Time, error) {
	if f.betweenErr != nil {
		return nil, f.betweenErr
	}
	var out []time.Time
	for _, d := range f.days {
		if !d.Before(models.Midnight(from)) && !d.After(models.Midnight(to)) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeCalendarRepo) LatestBusinessDayOnOrBefore(_ context.Context, t time.Time) (time.Time, bool, error) {
	if f.latestErr != nil {
		return time.Time{}, false, f.latestErr
	}
	var latest time.Time
	var ok bool
	for _, d := range f.days {
		if !d.After(models.Midnight(t)) && d.After(latest) {
			latest, ok = d, true
		}
	}
	return latest, ok, nil
}

func (f *fakeCalendarRepo) CoverageBounds(_ context.Context) (time.Time, time.Time, bool, error) {
	if f.coverageErr != nil {
		return time.Time{}, time.Time{}, false, f.coverageErr
	}
	if len(f.days) == 0 {
		return time.Time{}, time.Time{}, false, nil
	}
	min, max := f.days[0], f.days[0]
	for _, d := range f.days {
		if d.Before(min) {
			min = d
		}
		if d.After(max) {
			max = d
		}
	}
	return min, max, true, nil
}

type fakeRunRepo struct {
	runs      map[string]*models.JobRun
	meta      map[string]map[string]interface{}
	items     []models.JobRunItem
	seq       int
	succeeded map[string]map[time.Time]bool
	successAt map[string]time.Time
	createErr error
	datesErr  error
}

func newFakeRunRepo() *fakeRunRepo {
	return &fakeRunRepo{
		runs:      map[string]*models.JobRun{},
		meta:      map[string]map[string]interface{}{},
		succeeded: map[string]map[time.Time]bool{},
		successAt: map[string]time.Time{},
	}
}

func (f *fakeRunRepo) markSucceeded(jobName string, dates ...time.Time) {
	if f.succeeded[jobName] == nil {
		f.succeeded[jobName] = map[time.Time]bool{}
	}
	for _, d := range dates {
		f.succeeded[jobName][models.Midnight(d)] = true
	}
}

func (f *fakeRunRepo) CreateRun(_ context.Context, jobName string, targetDate *time.Time) (models.JobRun, error) {
	if f.createErr != nil {
		return models.JobRun{}, f.createErr
	}
	f.seq++
	run := models.JobRun{
		ID:         fmt.Sprintf("run-%d", f.seq),
		JobName:    jobName,
		TargetDate: targetDate,
		Status:     models.RunStatusRunning,
		StartedAt:  time.Now(),
	}
	f.runs[run.ID] = &run
	return run, nil
}

func (f *fakeRunRepo) FinishRun(_ context.Context, runID, status string, errorSummary *string, meta map[string]interface{}) error {
	run, ok := f.runs[runID]
	if !ok {
		return fmt.Errorf("run %s not found", runID)
	}
	run.Status = status
	run.ErrorSummary = errorSummary
	now := time.Now()
	run.FinishedAt = &now
	f.meta[runID] = meta
	return nil
}

func (f *fakeRunRepo) SetRunTargetDate(_ context.Context, runID string, targetDate time.Time) error {
	run, ok := f.runs[runID]
	if !ok {
		return fmt.Errorf("run %s not found", runID)
	}
	d := models.Midnight(targetDate)
	run.TargetDate = &d
	return nil
}

func (f *fakeRunRepo) SuccessfulDates(_ context.Context, jobName string, dates []time.Time) (map[time.Time]bool, error) {
	if f.datesErr != nil {
		return nil, f.datesErr
	}
	out := map[time.Time]bool{}
	for _, d := range dates {
		day := models.Midnight(d)
		if f.succeeded[jobName][day] {
			out[day] = true
			continue
		}
		for _, run := range f.runs {
			if run.JobName == jobName && run.Status == models.RunStatusSuccess &&
				run.TargetDate != nil && models.SameDay(*run.TargetDate, day) {
				out[day] = true
			}
		}
	}
	return out, nil
}

func (f *fakeRunRepo) UpsertRunItem(_ context.Context, item models.JobRunItem) error {
	f.items = append(f.items, item)
	return nil
}

func (f *fakeRunRepo) GetRun(_ context.Context, runID string) (models.JobRun, error) {
	run, ok := f.runs[runID]
	if !ok {
		return models.JobRun{}, fmt.Errorf("run %s not found", runID)
	}
	return *run, nil
}

func (f *fakeRunRepo) ListRuns(_ context.Context, jobName string, limit, offset int) ([]models.JobRun, error) {
	var out []models.JobRun
	for _, run := range f.runs {
		if jobName == "" || run.JobName == jobName {
			out = append(out, *run)
		}
	}
	return out, nil
}

func (f *fakeRunRepo) LatestSuccess(_ context.Context, jobName string) (time.Time, bool, error) {
	t, ok := f.successAt[jobName]
	return t, ok, nil
}

type fakeQuoteRepo struct {
	written   int64
	upsertErr error
	latest    time.Time
	latestOK  bool
}

func (f *fakeQuoteRepo) UpsertQuotes(_ context.Context, quotes []models.DailyQuote) (int64, error) {
	if f.upsertErr != nil {
		return 0, f.upsertErr
	}
	f.written += int64(len(quotes))
	return int64(len(quotes)), nil
}

func (f *fakeQuoteRepo) LatestQuoteDate(_ context.Context) (time.Time, bool, error) {
	return f.latest, f.latestOK, nil
}

type fakeInstrumentRepo struct {
	current     []models.InstrumentVersion
	inserted    []models.InstrumentVersion
	closedCodes []string
	closedAt    time.Time
	closeErr    error
	closeShort  bool
	insertErr   error
	currentErr  error
	validFrom   time.Time
	validFromOK bool
}

func (f *fakeInstrumentRepo) CurrentVersions(_ context.Context) ([]models.InstrumentVersion, error) {
	if f.currentErr != nil {
		return nil, f.currentErr
	}
	return f.current, nil
}

func (f *fakeInstrumentRepo) CloseVersions(_ context.Context, codes []string, validTo time.Time) (int64, error) {
	if f.closeErr != nil {
		return 0, f.closeErr
	}
	f.closedCodes = append(f.closedCodes, codes...)
	f.closedAt = validTo
	if f.closeShort {
		return int64(len(codes)) - 1, nil
	}
	return int64(len(codes)), nil
}

func (f *fakeInstrumentRepo) InsertVersions(_ context.Context, versions []models.InstrumentVersion) (int64, error) {
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	f.inserted = append(f.inserted, versions...)
	return int64(len(versions)), nil
}

func (f *fakeInstrumentRepo) LatestValidFrom(_ context.Context) (time.Time, bool, error) {
	return f.validFrom, f.validFromOK, nil
}

type fakeLockRepo struct {
	denied   bool
	acquires int
	releases int
	err      error
}

func (f *fakeLockRepo) TryAcquire(_ context.Context, jobName, token string, until time.Time) (bool, error) {
	f.acquires++
	if f.err != nil {
		return false, f.err
	}
	return !f.denied, nil
}

func (f *fakeLockRepo) Release(_ context.Context, jobName, token string) error {
	f.releases++
	return nil
}

type fakeHeartbeatRepo struct {
	beats []models.JobHeartbeat
}

func (f *fakeHeartbeatRepo) Upsert(_ context.Context, hb models.JobHeartbeat) error {
	f.beats = append(f.beats, hb)
	return nil
}

func (f *fakeHeartbeatRepo) List(_ context.Context) ([]models.JobHeartbeat, error) {
	return f.beats, nil
}

func (f *fakeHeartbeatRepo) last() (models.JobHeartbeat, bool) {
	if len(f.beats) == 0 {
		return models.JobHeartbeat{}, false
	}
	return f.beats[len(f.beats)-1], true
}

// fakeSourceClient serves canned responses. Quote pages are consumed in
// order across calls; cursors received from the runner are recorded.
type fakeSourceClient struct {
	calendar    []models.CalendarDay
	calendarErr error
	pages       []source.QuotePage
	pageErr     error
	cursors     []string
	snapshot    source.InstrumentSnapshot
	snapshotErr error
}

func (f *fakeSourceClient) TradingCalendar(_ context.Context, from, to time.Time) ([]models.CalendarDay, error) {
	if f.calendarErr != nil {
		return nil, f.calendarErr
	}
	return f.calendar, nil
}

func (f *fakeSourceClient) DailyQuotes(_ context.Context, date time.Time, cursor string) (source.QuotePage, error) {
	if f.pageErr != nil {
		return source.QuotePage{}, f.pageErr
	}
	f.cursors = append(f.cursors, cursor)
	if len(f.pages) == 0 {
		return source.QuotePage{EffectiveDate: models.Midnight(date)}, nil
	}
	page := f.pages[0]
	f.pages = f.pages[1:]
	if page.EffectiveDate.IsZero() {
		page.EffectiveDate = models.Midnight(date)
	}
	return page, nil
}

func (f *fakeSourceClient) ListedInstruments(_ context.Context) (source.InstrumentSnapshot, error) {
	if f.snapshotErr != nil {
		return source.InstrumentSnapshot{}, f.snapshotErr
	}
	return f.snapshot, nil
}

type fakeNotifier struct {
	failedJobs []string
	warnings   [][]string
}

func (f *fakeNotifier) NotifyJobFailed(_ context.Context, jobName, runID, errMsg string, meta map[string]interface{}) {
	f.failedJobs = append(f.failedJobs, jobName)
}

func (f *fakeNotifier) NotifyIntegrityWarnings(_ context.Context, warnings []string) {
	f.warnings = append(f.warnings, warnings)
}

func day(s string) time.Time {
	t, err := time.Parse(models.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func quote(code string, date time.Time) models.DailyQuote {
	open := 100.0
	return models.DailyQuote{Code: code, TradeDate: date, Open: &open}
}
