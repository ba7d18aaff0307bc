package attendance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/goodtune/aiji/internal/metrics"
	"github.com/goodtune/aiji/internal/policy"
	"github.com/goodtune/aiji/internal/storage"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
)

// DaySummary is one date of a monthly summary.
type DaySummary struct {
	Date  string  `json:"date"`
	Hours float64 `json:"hours"`
	Valid bool    `json:"valid"`
}

// Summary is the read-only projection of a MonthlyRecord.
type Summary struct {
	UserID         int64             `json:"user_id"`
	Year           int               `json:"year"`
	Month          int               `json:"month"`
	ValidDays      int               `json:"valid_days"`
	TotalHours     float64           `json:"total_hours"`
	Compliant      bool              `json:"compliant"`
	RemainingDays  int               `json:"remaining_days"`
	RemainingHours float64           `json:"remaining_hours"`
	Thresholds     policy.Thresholds `json:"thresholds"`
	Days           []DaySummary      `json:"days"`
}

type summaryKey struct {
	userID int64
	year   int
	month  int
}

// ReporterConfig sizes the summary cache. A zero CacheSize disables it.
type ReporterConfig struct {
	CacheSize int
	CacheTTL  time.Duration
}

// Reporter answers monthly summaries and runs the monthly rollover.
type Reporter struct {
	store     storage.AttendanceStore
	evaluator policy.Evaluator
	location  *time.Location
	cache     *expirable.LRU[summaryKey, Summary]
	logger    zerolog.Logger

	// Guards against caching a summary read before a concurrent
	// Invalidate or Purge. Every bump takes the next seq value, so a
	// generation never repeats.
	mu    sync.Mutex
	seq   uint64
	epoch uint64
	gens  map[summaryKey]uint64
}

// NewReporter creates a reporter. Months are resolved in loc.
func NewReporter(store storage.AttendanceStore, evaluator policy.Evaluator, loc *time.Location, cfg ReporterConfig, logger zerolog.Logger) *Reporter {
	if loc == nil {
		loc = time.UTC
	}
	r := &Reporter{
		store:     store,
		evaluator: evaluator,
		location:  loc,
		logger:    logger.With().Str("component", "reporter").Logger(),
		gens:      make(map[summaryKey]uint64),
	}
	if cfg.CacheSize > 0 {
		r.cache = expirable.NewLRU[summaryKey, Summary](cfg.CacheSize, nil, cfg.CacheTTL)
	}
	return r
}

// Summarize returns userID's summary for the month. A month without a
// record yields a zero summary.
func (r *Reporter) Summarize(ctx context.Context, userID int64, year, month int) (*Summary, error) {
	if month < 1 || month > 12 {
		return nil, fmt.Errorf("invalid month: %d", month)
	}

	key := summaryKey{userID: userID, year: year, month: month}
	var gen uint64
	if r.cache != nil {
		if cached, ok := r.cache.Get(key); ok {
			metrics.StatsCacheHits.Inc()
			return &cached, nil
		}
		metrics.StatsCacheMisses.Inc()
		gen = r.generation(key)
	}

	record, err := r.store.GetMonthlyRecord(ctx, userID, year, month)
	if errors.Is(err, storage.ErrNotFound) {
		record = storage.NewMonthlyRecord(userID, year, month)
	} else if err != nil {
		metrics.StoreErrors.WithLabelValues("stats").Inc()
		return nil, &StoreUnavailableError{Op: "stats", Err: err}
	}

	summary := r.summarize(*record)
	if r.cache != nil {
		r.fill(key, gen, summary)
	}
	return &summary, nil
}

// SummarizeCurrent summarizes the month containing now.
func (r *Reporter) SummarizeCurrent(ctx context.Context, userID int64, now time.Time) (*Summary, error) {
	local := now.In(r.location)
	return r.Summarize(ctx, userID, local.Year(), int(local.Month()))
}

// Invalidate drops a cached summary.
func (r *Reporter) Invalidate(userID int64, year, month int) {
	if r.cache == nil {
		return
	}
	key := summaryKey{userID: userID, year: year, month: month}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.gens[key] = r.seq
	r.cache.Remove(key)
}

// Purge drops every cached summary, for example after thresholds change.
func (r *Reporter) Purge() {
	if r.cache == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.epoch = r.seq
	clear(r.gens)
	r.cache.Purge()
}

func (r *Reporter) generation(key summaryKey) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return max(r.gens[key], r.epoch)
}

// fill caches summary unless key was invalidated after gen was taken.
func (r *Reporter) fill(key summaryKey, gen uint64, summary Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if max(r.gens[key], r.epoch) != gen {
		r.logger.Debug().
			Int64("user_id", key.userID).
			Int("year", key.year).
			Int("month", key.month).
			Msg("Summary invalidated while reading, not cached")
		return
	}
	r.cache.Add(key, summary)
}

// summarize projects record through the current evaluator. The stored
// aggregates are not trusted so that a threshold change is reflected
// without rewriting history.
func (r *Reporter) summarize(record storage.MonthlyRecord) Summary {
	return summarizeWith(record, policy.Snapshot(r.evaluator))
}

func summarizeWith(record storage.MonthlyRecord, evaluator policy.Evaluator) Summary {
	view := storage.MonthlyRecord{
		UserID:    record.UserID,
		Year:      record.Year,
		Month:     record.Month,
		DailyLogs: record.DailyLogs,
	}
	Recompute(&view, evaluator)

	thresholds := evaluator.Thresholds()
	summary := Summary{
		UserID:         record.UserID,
		Year:           record.Year,
		Month:          record.Month,
		ValidDays:      view.ValidDays,
		TotalHours:     view.TotalHours,
		Compliant:      evaluator.MonthCompliant(view.ValidDays, view.TotalHours),
		RemainingDays:  max(thresholds.MinValidDays-view.ValidDays, 0),
		RemainingHours: math.Max(thresholds.MinMonthlyHours-view.TotalHours, 0),
		Thresholds:     thresholds,
		Days:           make([]DaySummary, 0, len(record.DailyLogs)),
	}

	for _, date := range sortedDates(record.DailyLogs) {
		hours := record.DailyLogs[date]
		summary.Days = append(summary.Days, DaySummary{
			Date:  date,
			Hours: hours,
			Valid: evaluator.DayValid(hours),
		})
	}

	return summary
}
