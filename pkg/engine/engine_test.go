package engine_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/areas"
	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/engine"
	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/history"
	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/model"
	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/notify"
	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/registry"
	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/storage"
)

var errOutage = fmt.Errorf("%w: provider outage", model.ErrProvider)

// clock is a manually advanced time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// step is one scripted quoter answer: a price or an error.
type step struct {
	price string
	err   error
}

// scriptQuoter answers per area from a script; the last step repeats.
// Quotes are stamped with the clock shifted by skew.
type scriptQuoter struct {
	clock *clock
	skew  time.Duration

	mu      sync.Mutex
	scripts map[string][]step
	calls   map[string]int
	guests  []int
	hook    func(ctx context.Context, area string) error
}

func newScriptQuoter(c *clock) *scriptQuoter {
	return &scriptQuoter{clock: c, scripts: map[string][]step{}, calls: map[string]int{}}
}

func (q *scriptQuoter) guestCounts() []int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]int(nil), q.guests...)
}

func (q *scriptQuoter) set(area string, steps ...step) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.scripts[area] = steps
}

func (q *scriptQuoter) callCount(area string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.calls[area]
}

func (q *scriptQuoter) Quote(ctx context.Context, area string, checkIn, checkOut time.Time, guests int) (*model.PriceQuote, error) {
	q.mu.Lock()
	n := q.calls[area]
	q.calls[area]++
	q.guests = append(q.guests, guests)
	script := q.scripts[area]
	hook := q.hook
	q.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, area); err != nil {
			return nil, err
		}
	}
	if len(script) == 0 {
		return nil, errOutage
	}
	s := script[min(n, len(script)-1)]
	if s.err != nil {
		return nil, s.err
	}
	return &model.PriceQuote{
		Area:         area,
		HotelName:    "Test Hotel",
		CheckIn:      checkIn,
		CheckOut:     checkOut,
		NightlyPrice: decimal.RequireFromString(s.price),
		Currency:     "GBP",
		RetrievedAt:  q.clock.Now().Add(q.skew),
		Source:       model.SourceLive,
	}, nil
}

// recorder is a notifier that keeps what it was sent.
type recorder struct {
	mu   sync.Mutex
	sent []notify.Notification
	err  error
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) Send(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, n)
	return nil
}

func (r *recorder) kinds() []notify.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Kind
	for _, n := range r.sent {
		out = append(out, n.Kind)
	}
	return out
}

type fixture struct {
	db       *storage.SQLite
	registry *registry.Registry
	history  *history.Store
	quoter   *scriptQuoter
	notifier *recorder
	clock    *clock
	engine   *engine.Engine
}

func newFixture(t *testing.T, mutate func(*engine.Config), extra ...notify.Notifier) *fixture {
	t.Helper()
	db, err := storage.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	c := &clock{now: time.Date(2030, 5, 1, 8, 0, 0, 0, time.UTC)}

	f := &fixture{
		db:       db,
		registry: registry.New(db, areas.Default(), 0, logger).WithClock(c.Now),
		history:  history.NewStore(db).WithClock(c.Now),
		quoter:   newScriptQuoter(c),
		notifier: &recorder{},
		clock:    c,
	}

	cfg := engine.DefaultConfig()
	cfg.EvaluationTimeout = 2 * time.Second
	if mutate != nil {
		mutate(&cfg)
	}
	notifiers := append([]notify.Notifier{f.notifier}, extra...)
	f.engine = engine.New(cfg, f.registry, f.quoter, f.history, notifiers, nil, logger).WithClock(c.Now)
	return f
}

func (f *fixture) alert(t *testing.T, userID int64, area, ceiling string) *model.Alert {
	t.Helper()
	in, err := model.ParseDate("2030-06-10")
	require.NoError(t, err)
	a, err := f.registry.Create(context.Background(), userID, area, in, in.AddDate(0, 0, 2), decimal.RequireFromString(ceiling), 0)
	require.NoError(t, err)
	return a
}

func (f *fixture) cycle(t *testing.T) engine.CycleReport {
	t.Helper()
	report, err := f.engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, report.Active-report.Failed-report.Skipped, report.Written)
	f.clock.Advance(30 * time.Minute)
	return report
}

func TestCamdenScenario(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a := f.alert(t, 1, "camden", "150")
	f.quoter.set("camden", step{price: "180"}, step{err: errOutage}, step{price: "120"})

	// Above the ceiling: recorded, no notification
	r1 := f.cycle(t)
	assert.Equal(t, 1, r1.Written)
	assert.Zero(t, r1.Triggered)
	assert.Empty(t, f.notifier.kinds())

	// Provider failure: no history write, streak 1
	r2 := f.cycle(t)
	assert.Equal(t, 1, r2.Failed)
	assert.Zero(t, r2.Written)
	got, err := f.registry.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.FailStreak)

	// Drop below the ceiling: recorded, notified, streak reset
	r3 := f.cycle(t)
	assert.Equal(t, 1, r3.Written)
	assert.Equal(t, 1, r3.Triggered)
	assert.Equal(t, 1, r3.Notified)
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, notify.KindPriceDrop, f.notifier.sent[0].Kind)
	assert.Equal(t, "120", f.notifier.sent[0].Price.String())
	assert.Equal(t, int64(1), f.notifier.sent[0].UserID)

	got, err = f.registry.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Zero(t, got.FailStreak)
	assert.True(t, got.Active)

	entries, err := f.history.ForAlert(ctx, a.ID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "180", entries[0].Quote.NightlyPrice.String())
	assert.False(t, entries[0].Triggered)
	assert.Equal(t, "120", entries[1].Quote.NightlyPrice.String())
	assert.True(t, entries[1].Triggered)
	assert.True(t, entries[1].Notified)
}

func TestPriceEqualToCeilingTriggers(t *testing.T) {
	f := newFixture(t, nil)
	f.alert(t, 1, "soho", "150")
	f.quoter.set("soho", step{price: "150.00"})

	r := f.cycle(t)
	assert.Equal(t, 1, r.Triggered)
	assert.Equal(t, 1, r.Notified)
}

func TestDedupWithinCooldown(t *testing.T) {
	f := newFixture(t, func(c *engine.Config) { c.Cooldown = 12 * time.Hour })
	ctx := context.Background()
	a := f.alert(t, 1, "soho", "150")
	f.quoter.set("soho", step{price: "120"})

	// 30 minutes per cycle: 24 cycles span exactly 12 hours
	notified := 0
	for i := 0; i < 24; i++ {
		notified += f.cycle(t).Notified
	}
	assert.Equal(t, 1, notified)

	// The next cycle is 12h after the first notification
	assert.Equal(t, 1, f.cycle(t).Notified)
	assert.Len(t, f.notifier.sent, 2)

	entries, err := f.history.ForAlert(ctx, a.ID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 25)
	for i, e := range entries {
		assert.True(t, e.Triggered)
		assert.Equal(t, i == 0 || i == 24, e.Notified, "entry %d", i)
	}
}

func TestDeactivationAfterFailureStreak(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a := f.alert(t, 7, "greenwich", "100")
	f.quoter.set("greenwich", step{err: errOutage})

	for i := 1; i <= 4; i++ {
		r := f.cycle(t)
		assert.Equal(t, 1, r.Failed)
		assert.Zero(t, r.Deactivated)
	}

	r := f.cycle(t)
	assert.Equal(t, 1, r.Failed)
	assert.Equal(t, 1, r.Deactivated)

	got, err := f.registry.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.Equal(t, model.ReasonFailureStreak, got.DeactivationReason)
	assert.Equal(t, []notify.Kind{notify.KindDeactivated}, f.notifier.kinds())

	// Excluded from later cycles
	after := f.cycle(t)
	assert.Zero(t, after.Active)
	assert.Equal(t, 5, f.quoter.callCount("greenwich"))

	entries, err := f.history.ForAlert(ctx, a.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDeactivationNoticeDisabled(t *testing.T) {
	f := newFixture(t, func(c *engine.Config) {
		c.FailureThreshold = 2
		c.NotifyOnDeactivation = false
	})
	f.alert(t, 7, "greenwich", "100")
	f.quoter.set("greenwich", step{err: errOutage})

	f.cycle(t)
	r := f.cycle(t)
	assert.Equal(t, 1, r.Deactivated)
	assert.Empty(t, f.notifier.kinds())
}

func TestFailureStreakResetBySuccess(t *testing.T) {
	f := newFixture(t, func(c *engine.Config) { c.FailureThreshold = 3 })
	ctx := context.Background()
	a := f.alert(t, 1, "paddington", "100")
	f.quoter.set("paddington",
		step{err: errOutage}, step{err: errOutage}, step{price: "200"},
		step{err: errOutage}, step{err: errOutage}, step{price: "200"},
	)

	for i := 0; i < 6; i++ {
		f.cycle(t)
	}

	got, err := f.registry.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.Active)
	assert.Zero(t, got.FailStreak)
}

func TestWritesEqualActiveMinusFailed(t *testing.T) {
	f := newFixture(t, func(c *engine.Config) { c.Concurrency = 3 })
	ctx := context.Background()

	ok := []string{"camden", "soho", "westminster", "shoreditch"}
	for _, area := range ok {
		f.alert(t, 1, area, "100")
		f.quoter.set(area, step{price: "180"})
	}
	f.alert(t, 2, "greenwich", "100")
	f.alert(t, 3, "kensington", "100")
	f.quoter.set("greenwich", step{err: errOutage})
	f.quoter.set("kensington", step{err: fmt.Errorf("%w: token rejected", model.ErrAuth)})

	r := f.cycle(t)
	assert.Equal(t, 6, r.Active)
	assert.Equal(t, 4, r.Written)
	assert.Equal(t, 2, r.Failed)
	assert.Zero(t, r.Skipped)

	all, err := f.db.QueryHistory(ctx, model.HistoryFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestNotifierFailureDoesNotStopCycle(t *testing.T) {
	broken := &recorder{err: errors.New("webhook down")}
	f := newFixture(t, nil, broken)
	ctx := context.Background()

	a1 := f.alert(t, 1, "camden", "150")
	a2 := f.alert(t, 2, "soho", "150")
	f.quoter.set("camden", step{price: "100"})
	f.quoter.set("soho", step{price: "110"})

	r := f.cycle(t)
	assert.Equal(t, 2, r.Written)
	assert.Equal(t, 2, r.Notified)
	assert.Len(t, f.notifier.sent, 2)

	for _, id := range []string{a1.ID, a2.ID} {
		entries, err := f.history.ForAlert(ctx, id, 0)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.True(t, entries[0].Notified)
	}
}

func TestEvaluationTimeoutCountsAsFailure(t *testing.T) {
	f := newFixture(t, func(c *engine.Config) { c.EvaluationTimeout = 20 * time.Millisecond })
	ctx := context.Background()
	a := f.alert(t, 1, "camden", "150")
	f.quoter.hook = func(ctx context.Context, _ string) error {
		<-ctx.Done()
		return fmt.Errorf("%w: %w", model.ErrProvider, ctx.Err())
	}

	r := f.cycle(t)
	assert.Equal(t, 1, r.Failed)

	got, err := f.registry.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.FailStreak)
}

func TestCancellationSkipsRemainingAlerts(t *testing.T) {
	f := newFixture(t, func(c *engine.Config) { c.Concurrency = 1 })
	for _, area := range []string{"camden", "soho", "westminster"} {
		f.alert(t, 1, area, "100")
		f.quoter.set(area, step{price: "200"})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var calls atomic.Int32
	f.quoter.hook = func(qctx context.Context, _ string) error {
		if calls.Add(1) == 1 {
			cancel()
			// The running evaluation is not cut short by the stop signal
			assert.NoError(t, qctx.Err())
		}
		return nil
	}

	r, err := f.engine.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, r.Active)
	assert.Equal(t, 1, r.Written)
	assert.Equal(t, 2, r.Skipped)
	assert.Zero(t, r.Failed)
	assert.Equal(t, int32(1), calls.Load())

	all, err := f.db.QueryHistory(context.Background(), model.HistoryFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestEvaluateAlert(t *testing.T) {
	f := newFixture(t, nil)
	a := f.alert(t, 1, "camden", "150")
	f.quoter.set("camden", step{price: "140"})

	res := f.engine.EvaluateAlert(context.Background(), *a)
	require.NoError(t, res.Err)
	assert.True(t, res.Written)
	assert.True(t, res.Triggered)
	assert.True(t, res.Notified)
	require.NotNil(t, res.Quote)
	assert.Equal(t, "140", res.Quote.NightlyPrice.String())
}

func TestCheckAlert_RecordsAndNotifies(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a := f.alert(t, 1, "camden", "150")
	f.quoter.set("camden", step{price: "140"})

	res := f.engine.CheckAlert(ctx, *a)
	require.NoError(t, res.Err)
	assert.True(t, res.Written)
	assert.True(t, res.Notified)

	// The cooldown is shared with scheduled evaluations
	assert.Zero(t, f.cycle(t).Notified)
	assert.Equal(t, []notify.Kind{notify.KindPriceDrop}, f.notifier.kinds())
}

func TestCheckAlert_FailuresLeaveStreakAlone(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a := f.alert(t, 1, "camden", "150")
	f.quoter.set("camden", step{err: errOutage})

	for i := 0; i < 2*engine.DefaultConfig().FailureThreshold; i++ {
		res := f.engine.CheckAlert(ctx, *a)
		assert.ErrorIs(t, res.Err, model.ErrProvider)
		assert.False(t, res.Deactivated)
	}

	got, err := f.registry.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.Active)
	assert.Zero(t, got.FailStreak)
	assert.Empty(t, f.notifier.kinds())

	// A scheduled failure still counts from zero
	f.cycle(t)
	got, err = f.registry.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.FailStreak)
}

func TestCheckAlert_SuccessKeepsScheduledStreak(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a := f.alert(t, 1, "camden", "150")
	f.quoter.set("camden", step{err: errOutage}, step{err: errOutage}, step{price: "200"})

	f.cycle(t)
	f.cycle(t)
	require.True(t, f.engine.CheckAlert(ctx, *a).Written)

	got, err := f.registry.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.FailStreak)
}

func TestCheckAlert_IgnoresCallerCancellation(t *testing.T) {
	f := newFixture(t, nil)
	a := f.alert(t, 1, "camden", "150")
	f.quoter.set("camden", step{price: "200"})
	f.quoter.hook = func(ctx context.Context, _ string) error {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", model.ErrProvider, err)
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := f.engine.CheckAlert(ctx, *a)
	require.NoError(t, res.Err)
	assert.True(t, res.Written)
}

func TestCheckAlert_ConcurrentWithCycleNotifiesOnce(t *testing.T) {
	f := newFixture(t, func(c *engine.Config) { c.Concurrency = 4 })
	ctx := context.Background()
	a := f.alert(t, 1, "soho", "150")
	f.quoter.set("soho", step{price: "120"})

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			f.engine.CheckAlert(ctx, *a)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-start
		_, err := f.engine.RunCycle(ctx)
		assert.NoError(t, err)
	}()
	close(start)
	wg.Wait()

	assert.Equal(t, []notify.Kind{notify.KindPriceDrop}, f.notifier.kinds())

	entries, err := f.history.ForAlert(ctx, a.ID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 17)
	notified := 0
	for _, e := range entries {
		if e.Notified {
			notified++
		}
	}
	assert.Equal(t, 1, notified)
}

func TestFailureAfterUserDeactivation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a := f.alert(t, 1, "camden", "150")
	f.quoter.set("camden", step{err: errOutage})

	for i := 0; i < 4; i++ {
		f.cycle(t)
	}
	// The user stops the alert after a cycle has already listed it
	listed := *a
	_, err := f.registry.Deactivate(ctx, a.ID, model.ReasonUser)
	require.NoError(t, err)

	res := f.engine.EvaluateAlert(ctx, listed)
	assert.ErrorIs(t, res.Err, model.ErrProvider)
	assert.False(t, res.Deactivated)
	assert.Empty(t, f.notifier.kinds())

	got, err := f.registry.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.Equal(t, model.ReasonUser, got.DeactivationReason)
	assert.Equal(t, 4, got.FailStreak)
}

func TestQuoteUsesAlertGuests(t *testing.T) {
	f := newFixture(t, nil)
	in, err := model.ParseDate("2030-06-10")
	require.NoError(t, err)
	_, err = f.registry.Create(context.Background(), 1, "camden", in, in.AddDate(0, 0, 2), decimal.NewFromInt(150), 4)
	require.NoError(t, err)
	f.quoter.set("camden", step{price: "200"})

	f.cycle(t)
	assert.Equal(t, []int{4}, f.quoter.guestCounts())
}

func TestCooldownFollowsEngineClock(t *testing.T) {
	f := newFixture(t, func(c *engine.Config) { c.Cooldown = 12 * time.Hour })
	ctx := context.Background()
	a := f.alert(t, 1, "soho", "150")
	f.quoter.set("soho", step{price: "120"})
	// Quotes carry a retrieval time well behind the engine's clock
	f.quoter.skew = -11 * time.Hour
	first := f.clock.Now()

	notified := 0
	for i := 0; i < 24; i++ {
		notified += f.cycle(t).Notified
	}
	assert.Equal(t, 1, notified)
	assert.Equal(t, 1, f.cycle(t).Notified)

	entries, err := f.history.ForAlert(ctx, a.ID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, first, entries[0].RecordedAt)
	assert.Equal(t, first.Add(-11*time.Hour), entries[0].Quote.RetrievedAt)
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newFixture(t, func(c *engine.Config) {
		c.Interval = time.Hour
		c.RunOnStart = true
	})
	f.alert(t, 1, "camden", "150")
	f.quoter.set("camden", step{price: "200"})

	ctx, cancel := context.WithCancel(context.Background())
	evaluated := make(chan struct{}, 1)
	f.quoter.hook = func(context.Context, string) error {
		select {
		case evaluated <- struct{}{}:
		default:
		}
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- f.engine.Run(ctx) }()

	select {
	case <-evaluated:
	case <-time.After(5 * time.Second):
		t.Fatal("first cycle did not run")
	}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop")
	}
}
