package attendance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goodtune/aiji/internal/policy"
	"github.com/goodtune/aiji/internal/storage"
	"github.com/rs/zerolog"
)

func newTestLedger(t *testing.T, cacheSize int) (*Tracker, *Reporter, storage.Store) {
	t.Helper()
	store := openTestStore(t)
	evaluator := policy.Defaults()
	tracker := NewTracker(store.Attendance(), evaluator, shanghai, zerolog.Nop())
	reporter := NewReporter(store.Attendance(), evaluator, shanghai, ReporterConfig{CacheSize: cacheSize, CacheTTL: time.Minute}, zerolog.Nop())
	tracker.SetInvalidator(reporter)
	return tracker, reporter, store
}

func stream(t *testing.T, tracker *Tracker, userID int64, start time.Time, d time.Duration) {
	t.Helper()
	if _, err := tracker.Open(context.Background(), userID, start); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := tracker.Close(context.Background(), userID, start.Add(d)); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestSummarizeEmptyMonth(t *testing.T) {
	_, reporter, _ := newTestLedger(t, 0)

	summary, err := reporter.Summarize(context.Background(), 42, 2024, 3)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if summary.ValidDays != 0 || summary.TotalHours != 0 || summary.Compliant {
		t.Fatalf("expected zero summary, got %+v", summary)
	}
	if summary.RemainingDays != 22 || summary.RemainingHours != 50 {
		t.Fatalf("expected full remaining requirement, got %d days %v hours", summary.RemainingDays, summary.RemainingHours)
	}
	if len(summary.Days) != 0 {
		t.Fatalf("expected no day breakdown, got %v", summary.Days)
	}
}

func TestSummarizeAfterSessions(t *testing.T) {
	tracker, reporter, _ := newTestLedger(t, 0)

	stream(t, tracker, 42, at(1, 20, 0), 3*time.Hour)
	stream(t, tracker, 42, at(2, 20, 0), 2*time.Hour)

	summary, err := reporter.Summarize(context.Background(), 42, 2024, 3)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if summary.ValidDays != 1 || summary.TotalHours != 5 {
		t.Fatalf("expected 1 valid day and 5 hours, got %+v", summary)
	}
	if summary.RemainingDays != 21 || summary.RemainingHours != 45 {
		t.Fatalf("unexpected remaining: %d days %v hours", summary.RemainingDays, summary.RemainingHours)
	}
	want := []DaySummary{
		{Date: "2024-03-01", Hours: 3, Valid: true},
		{Date: "2024-03-02", Hours: 2, Valid: false},
	}
	if len(summary.Days) != len(want) {
		t.Fatalf("expected %d days, got %v", len(want), summary.Days)
	}
	for i := range want {
		if summary.Days[i] != want[i] {
			t.Errorf("day %d: expected %+v, got %+v", i, want[i], summary.Days[i])
		}
	}
}

func TestSummarizeRemainingFloorsAtZero(t *testing.T) {
	store := openTestStore(t)
	evaluator := policy.Thresholds{MinDailyHours: 1, MinValidDays: 2, MinMonthlyHours: 4}
	tracker := NewTracker(store.Attendance(), evaluator, shanghai, zerolog.Nop())
	reporter := NewReporter(store.Attendance(), evaluator, shanghai, ReporterConfig{}, zerolog.Nop())

	for day := 1; day <= 3; day++ {
		stream(t, tracker, 42, at(day, 20, 0), 2*time.Hour)
	}

	summary, err := reporter.Summarize(context.Background(), 42, 2024, 3)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if !summary.Compliant {
		t.Fatalf("expected compliant month, got %+v", summary)
	}
	if summary.RemainingDays != 0 || summary.RemainingHours != 0 {
		t.Fatalf("expected remaining floored at zero, got %d days %v hours", summary.RemainingDays, summary.RemainingHours)
	}
	if summary.Thresholds != evaluator {
		t.Fatalf("expected thresholds %+v, got %+v", evaluator, summary.Thresholds)
	}
}

func TestSummarizeCacheInvalidatedOnClose(t *testing.T) {
	tracker, reporter, _ := newTestLedger(t, 16)
	ctx := context.Background()

	stream(t, tracker, 42, at(1, 20, 0), time.Hour)
	first, err := reporter.Summarize(ctx, 42, 2024, 3)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if first.TotalHours != 1 {
		t.Fatalf("expected 1 hour, got %v", first.TotalHours)
	}

	stream(t, tracker, 42, at(2, 20, 0), 2*time.Hour)
	second, err := reporter.Summarize(ctx, 42, 2024, 3)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if second.TotalHours != 3 {
		t.Fatalf("expected cache invalidated after close, got %v hours", second.TotalHours)
	}
}

// pausingRecords holds the first GetMonthlyRecord after its read until
// resume is closed.
type pausingRecords struct {
	storage.AttendanceStore
	once   sync.Once
	read   chan struct{}
	resume chan struct{}
}

func (p *pausingRecords) GetMonthlyRecord(ctx context.Context, userID int64, year, month int) (*storage.MonthlyRecord, error) {
	record, err := p.AttendanceStore.GetMonthlyRecord(ctx, userID, year, month)
	p.once.Do(func() {
		close(p.read)
		<-p.resume
	})
	return record, err
}

func TestSummarizeNotCachedAcrossConcurrentClose(t *testing.T) {
	store := openTestStore(t)
	evaluator := policy.Defaults()
	paused := &pausingRecords{
		AttendanceStore: store.Attendance(),
		read:            make(chan struct{}),
		resume:          make(chan struct{}),
	}
	tracker := NewTracker(store.Attendance(), evaluator, shanghai, zerolog.Nop())
	reporter := NewReporter(paused, evaluator, shanghai, ReporterConfig{CacheSize: 16, CacheTTL: time.Minute}, zerolog.Nop())
	tracker.SetInvalidator(reporter)
	ctx := context.Background()

	if _, err := tracker.Open(ctx, 42, at(1, 20, 0)); err != nil {
		t.Fatalf("open: %v", err)
	}

	type result struct {
		summary *Summary
		err     error
	}
	done := make(chan result, 1)
	go func() {
		summary, err := reporter.Summarize(ctx, 42, 2024, 3)
		done <- result{summary, err}
	}()

	<-paused.read
	if _, err := tracker.Close(ctx, 42, at(1, 23, 0)); err != nil {
		t.Fatalf("close: %v", err)
	}
	close(paused.resume)

	inflight := <-done
	if inflight.err != nil {
		t.Fatalf("summarize: %v", inflight.err)
	}
	if inflight.summary.TotalHours != 0 {
		t.Fatalf("expected the in-flight read to predate the close, got %v hours", inflight.summary.TotalHours)
	}

	summary, err := reporter.Summarize(ctx, 42, 2024, 3)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if summary.TotalHours != 3 || summary.ValidDays != 1 {
		t.Fatalf("expected 3 hours on 1 valid day after close, got total=%v valid=%d", summary.TotalHours, summary.ValidDays)
	}
}

func TestFillSkipsInvalidatedGeneration(t *testing.T) {
	_, reporter, _ := newTestLedger(t, 16)
	key := summaryKey{userID: 42, year: 2024, month: 3}
	other := summaryKey{userID: 7, year: 2024, month: 3}

	tests := []struct {
		name   string
		bump   func()
		cached bool
	}{
		{"untouched", func() {}, true},
		{"invalidated", func() { reporter.Invalidate(42, 2024, 3) }, false},
		{"other key invalidated", func() { reporter.Invalidate(7, 2024, 3) }, true},
		{"purged", reporter.Purge, false},
		{"invalidated then purged", func() { reporter.Invalidate(42, 2024, 3); reporter.Purge() }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reporter.Purge()
			gen := reporter.generation(key)
			_ = reporter.generation(other)
			tt.bump()
			reporter.fill(key, gen, Summary{UserID: 42, TotalHours: 1})
			if _, ok := reporter.cache.Get(key); ok != tt.cached {
				t.Fatalf("expected cached=%v, got %v", tt.cached, ok)
			}
		})
	}
}

func TestSummarizeRejectsBadMonth(t *testing.T) {
	_, reporter, _ := newTestLedger(t, 0)
	if _, err := reporter.Summarize(context.Background(), 42, 2024, 13); err == nil {
		t.Fatal("expected error for month 13")
	}
}

func TestSummarizeCurrentUsesZone(t *testing.T) {
	tracker, reporter, _ := newTestLedger(t, 0)
	stream(t, tracker, 42, at(1, 1, 0), 3*time.Hour)

	// 18:00 UTC on 29 Feb is already March in the ledger's zone.
	summary, err := reporter.SummarizeCurrent(context.Background(), 42, time.Date(2024, 2, 29, 18, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("summarize current: %v", err)
	}
	if summary.Month != 3 || summary.TotalHours != 3 {
		t.Fatalf("expected March summary with 3 hours, got %+v", summary)
	}
}

type failingRecords struct {
	storage.AttendanceStore
}

func (failingRecords) GetMonthlyRecord(context.Context, int64, int, int) (*storage.MonthlyRecord, error) {
	return nil, errors.New("connection reset")
}

func TestSummarizeStoreFailure(t *testing.T) {
	reporter := NewReporter(failingRecords{}, policy.Defaults(), shanghai, ReporterConfig{}, zerolog.Nop())
	_, err := reporter.Summarize(context.Background(), 42, 2024, 3)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

// swappingEvaluator replaces the active evaluator on its first decision,
// like a reload landing in the middle of a summary.
type swappingEvaluator struct {
	base policy.Thresholds
	sw   *policy.Switch
	next policy.Evaluator
}

func (e *swappingEvaluator) DayValid(hours float64) bool {
	e.sw.Store(e.next)
	return e.base.DayValid(hours)
}

func (e *swappingEvaluator) MonthCompliant(validDays int, totalHours float64) bool {
	return e.base.MonthCompliant(validDays, totalHours)
}

func (e *swappingEvaluator) Thresholds() policy.Thresholds {
	return e.base
}

func TestSummarizeUsesOneThresholdSet(t *testing.T) {
	store := openTestStore(t)
	tracker := NewTracker(store.Attendance(), policy.Defaults(), shanghai, zerolog.Nop())
	stream(t, tracker, 42, at(1, 20, 0), 3*time.Hour)
	stream(t, tracker, 42, at(2, 20, 0), 2*time.Hour)

	lenient := policy.Thresholds{MinDailyHours: 1, MinValidDays: 1, MinMonthlyHours: 1}
	sw := policy.NewSwitch(policy.Defaults())
	sw.Store(&swappingEvaluator{base: policy.Defaults(), sw: sw, next: lenient})
	reporter := NewReporter(store.Attendance(), sw, shanghai, ReporterConfig{}, zerolog.Nop())
	ctx := context.Background()

	summary, err := reporter.Summarize(ctx, 42, 2024, 3)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if summary.Thresholds != policy.Defaults() {
		t.Fatalf("expected default thresholds, got %+v", summary.Thresholds)
	}
	if summary.ValidDays != 1 || summary.Compliant || summary.RemainingDays != 21 {
		t.Fatalf("expected summary judged by defaults, got %+v", summary)
	}
	if summary.Days[1].Valid {
		t.Fatalf("expected 2 hours invalid under defaults, got %+v", summary.Days[1])
	}

	// The swap applies from the next summary on
	summary, err = reporter.Summarize(ctx, 42, 2024, 3)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if summary.Thresholds != lenient || summary.ValidDays != 2 || !summary.Compliant {
		t.Fatalf("expected summary judged by swapped thresholds, got %+v", summary)
	}
}
