package inventory_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/areas"
	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/cache"
	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/inventory"
	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/model"
)

// fakeProvider serves the token and hotel offers endpoints.
type fakeProvider struct {
	tokenCalls  atomic.Int32
	searchCalls atomic.Int32

	mu          sync.Mutex
	tokenStatus int
	expiresIn   int
	status      []int // per search call; last value repeats
	offers      string
	lastQuery   string
	lastAuth    string
}

func newFakeProvider(t *testing.T) (*fakeProvider, *httptest.Server) {
	t.Helper()
	fp := &fakeProvider{
		tokenStatus: http.StatusOK,
		expiresIn:   1799,
		status:      []int{http.StatusOK},
		offers: `{"data":[
			{"hotel":{"hotelId":"H1","name":"Camden Lock Hotel"},"offers":[{"price":{"total":"400.00","currency":"GBP"}},{"price":{"total":"360.00","currency":"GBP"}}]},
			{"hotel":{"hotelId":"H2","name":"Regents Inn"},"offers":[{"price":{"total":"500.00","currency":"GBP"}}]},
			{"hotel":{"hotelId":"H3","name":"No Rooms"},"offers":[]}
		]}`,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/security/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		n := fp.tokenCalls.Add(1)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "id", r.PostForm.Get("client_id"))

		fp.mu.Lock()
		status, expires := fp.tokenStatus, fp.expiresIn
		fp.mu.Unlock()

		// Slow acquisition down so concurrent callers pile up behind it.
		time.Sleep(20 * time.Millisecond)
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-" + string(rune('0'+n)),
			"token_type":   "Bearer",
			"expires_in":   expires,
		})
	})
	mux.HandleFunc("GET /v3/shopping/hotel-offers", func(w http.ResponseWriter, r *http.Request) {
		n := int(fp.searchCalls.Add(1))

		fp.mu.Lock()
		fp.lastQuery = r.URL.RawQuery
		fp.lastAuth = r.Header.Get("Authorization")
		status := fp.status[min(n-1, len(fp.status)-1)]
		body := fp.offers
		fp.mu.Unlock()

		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return fp, srv
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newClient(srvURL string, mutate func(*inventory.Config), opts ...inventory.Option) *inventory.Client {
	cfg := inventory.Config{
		BaseURL:      srvURL,
		ClientID:     "id",
		ClientSecret: "secret",
		Timeout:      5 * time.Second,
		MaxResults:   5,
		Fallback:     true,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	opts = append([]inventory.Option{inventory.WithLogger(testLogger())}, opts...)
	return inventory.New(cfg, areas.Default(), opts...)
}

func stay(t *testing.T) (time.Time, time.Time) {
	t.Helper()
	in, err := model.ParseDate("2030-06-01")
	require.NoError(t, err)
	out, err := model.ParseDate("2030-06-03")
	require.NoError(t, err)
	return in, out
}

func TestQuote_Live(t *testing.T) {
	fp, srv := newFakeProvider(t)
	c := newClient(srv.URL, nil)
	in, out := stay(t)

	q, err := c.Quote(context.Background(), "Camden", in, out, 0)
	require.NoError(t, err)

	assert.Equal(t, model.SourceLive, q.Source)
	assert.Equal(t, "camden", q.Area)
	assert.Equal(t, "Camden Lock Hotel", q.HotelName)
	assert.True(t, q.NightlyPrice.Equal(decimal.NewFromInt(180)), "got %s", q.NightlyPrice)
	assert.Equal(t, "GBP", q.Currency)

	assert.Contains(t, fp.lastQuery, "locationCode=LON-CAM")
	assert.Contains(t, fp.lastQuery, "checkInDate=2030-06-01")
	assert.Contains(t, fp.lastQuery, "checkOutDate=2030-06-03")
	assert.Equal(t, "Bearer tok-1", fp.lastAuth)
}

func TestQuote_Guests(t *testing.T) {
	fp, srv := newFakeProvider(t)
	c := newClient(srv.URL, func(cfg *inventory.Config) { cfg.DefaultAdults = 2 })
	in, out := stay(t)

	_, err := c.Quote(context.Background(), "camden", in, out, 4)
	require.NoError(t, err)
	fp.mu.Lock()
	assert.Contains(t, fp.lastQuery, "adults=4")
	fp.mu.Unlock()

	_, err = c.Quote(context.Background(), "camden", in, out, 0)
	require.NoError(t, err)
	fp.mu.Lock()
	assert.Contains(t, fp.lastQuery, "adults=2")
	fp.mu.Unlock()

	_, err = c.Quote(context.Background(), "camden", in, out, 12)
	assert.ErrorIs(t, err, model.ErrValidation)
	assert.Equal(t, int32(2), fp.searchCalls.Load())
}

func TestSearch_RankedAndCached(t *testing.T) {
	fp, srv := newFakeProvider(t)
	c := newClient(srv.URL, func(cfg *inventory.Config) { cfg.CacheTTL = time.Hour },
		inventory.WithCache(cache.NewMemory()))
	in, out := stay(t)

	quotes, err := c.Search(context.Background(), "camden", in, out, 2)
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	assert.Equal(t, "Camden Lock Hotel", quotes[0].HotelName)
	assert.Equal(t, "250", quotes[1].NightlyPrice.String())

	again, err := c.Search(context.Background(), "camden", in, out, 2)
	require.NoError(t, err)
	assert.Len(t, again, 2)
	assert.Equal(t, int32(1), fp.searchCalls.Load())

	// Quotes bypass the cache
	_, err = c.Quote(context.Background(), "camden", in, out, 0)
	require.NoError(t, err)
	assert.Equal(t, int32(2), fp.searchCalls.Load())
}

func TestSearch_MaxResults(t *testing.T) {
	_, srv := newFakeProvider(t)
	c := newClient(srv.URL, func(cfg *inventory.Config) { cfg.MaxResults = 1 })
	in, out := stay(t)

	quotes, err := c.Search(context.Background(), "camden", in, out, 1)
	require.NoError(t, err)
	assert.Len(t, quotes, 1)
}

func TestSearch_InvalidGuests(t *testing.T) {
	_, srv := newFakeProvider(t)
	c := newClient(srv.URL, nil)
	in, out := stay(t)

	_, err := c.Search(context.Background(), "camden", in, out, 12)
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestQuote_Validation(t *testing.T) {
	fp, srv := newFakeProvider(t)
	c := newClient(srv.URL, nil)
	in, out := stay(t)

	_, err := c.Quote(context.Background(), "Brighton", in, out, 0)
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = c.Quote(context.Background(), "camden", out, in, 0)
	assert.ErrorIs(t, err, model.ErrValidation)

	assert.Zero(t, fp.tokenCalls.Load())
}

func TestQuote_TokenReusedAcrossConcurrentCallers(t *testing.T) {
	fp, srv := newFakeProvider(t)
	c := newClient(srv.URL, nil)
	in, out := stay(t)

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Quote(context.Background(), "camden", in, out, 0)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), fp.tokenCalls.Load())
	assert.Equal(t, int32(25), fp.searchCalls.Load())
}

func TestQuote_TokenRefreshedNearExpiry(t *testing.T) {
	fp, srv := newFakeProvider(t)
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	c := newClient(srv.URL, func(cfg *inventory.Config) { cfg.TokenMargin = time.Minute },
		inventory.WithClock(clock))
	in, out := stay(t)

	_, err := c.Quote(context.Background(), "camden", in, out, 0)
	require.NoError(t, err)

	mu.Lock()
	now = now.Add(1799*time.Second - 2*time.Minute)
	mu.Unlock()
	_, err = c.Quote(context.Background(), "camden", in, out, 0)
	require.NoError(t, err)
	assert.Equal(t, int32(1), fp.tokenCalls.Load())

	// Inside the margin
	mu.Lock()
	now = now.Add(90 * time.Second)
	mu.Unlock()
	_, err = c.Quote(context.Background(), "camden", in, out, 0)
	require.NoError(t, err)
	assert.Equal(t, int32(2), fp.tokenCalls.Load())
}

func TestQuote_TokenFailure(t *testing.T) {
	fp, srv := newFakeProvider(t)
	fp.tokenStatus = http.StatusBadRequest
	c := newClient(srv.URL, nil)
	in, out := stay(t)

	_, err := c.Quote(context.Background(), "camden", in, out, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrAuth)
	assert.NotContains(t, err.Error(), "secret")
	assert.Zero(t, fp.searchCalls.Load())
}

func TestQuote_UnauthorizedDropsToken(t *testing.T) {
	fp, srv := newFakeProvider(t)
	fp.status = []int{http.StatusUnauthorized, http.StatusOK}
	c := newClient(srv.URL, nil)
	in, out := stay(t)

	_, err := c.Quote(context.Background(), "camden", in, out, 0)
	assert.ErrorIs(t, err, model.ErrAuth)

	q, err := c.Quote(context.Background(), "camden", in, out, 0)
	require.NoError(t, err)
	assert.Equal(t, model.SourceLive, q.Source)
	assert.Equal(t, int32(2), fp.tokenCalls.Load())
}

func TestQuote_OutageFallsBack(t *testing.T) {
	for _, status := range []int{http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusServiceUnavailable} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			fp, srv := newFakeProvider(t)
			fp.status = []int{status}
			c := newClient(srv.URL, nil)
			in, out := stay(t)

			q, err := c.Quote(context.Background(), "camden", in, out, 0)
			require.NoError(t, err)
			assert.Equal(t, model.SourceMock, q.Source)

			a, err := areas.Default().Lookup("camden")
			require.NoError(t, err)
			assert.True(t, q.NightlyPrice.Equal(inventory.MockPrice(a, in)))
		})
	}
}

func TestQuote_OutageWithoutFallback(t *testing.T) {
	fp, srv := newFakeProvider(t)
	fp.status = []int{http.StatusBadGateway}
	c := newClient(srv.URL, func(cfg *inventory.Config) { cfg.Fallback = false })
	in, out := stay(t)

	_, err := c.Quote(context.Background(), "camden", in, out, 0)
	assert.ErrorIs(t, err, model.ErrProvider)
}

func TestQuote_TransportFailureFallsBack(t *testing.T) {
	_, srv := newFakeProvider(t)
	c := newClient(srv.URL, nil)
	in, out := stay(t)

	// Acquire a token, then take the provider down
	_, err := c.Quote(context.Background(), "camden", in, out, 0)
	require.NoError(t, err)
	srv.Close()

	q, err := c.Quote(context.Background(), "camden", in, out, 0)
	require.NoError(t, err)
	assert.Equal(t, model.SourceMock, q.Source)
}

func TestQuote_NoAvailability(t *testing.T) {
	fp, srv := newFakeProvider(t)
	fp.offers = `{"data":[]}`
	c := newClient(srv.URL, nil)
	in, out := stay(t)

	_, err := c.Quote(context.Background(), "camden", in, out, 0)
	assert.ErrorIs(t, err, model.ErrProvider)
}

func TestQuote_CancelledContextIsFailure(t *testing.T) {
	_, srv := newFakeProvider(t)
	c := newClient(srv.URL, nil)
	in, out := stay(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Quote(ctx, "camden", in, out, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrProvider)
}

func TestQuote_NoCredentialsUsesMock(t *testing.T) {
	c := inventory.New(inventory.Config{Fallback: true}, areas.Default(), inventory.WithLogger(testLogger()))
	in, out := stay(t)
	assert.False(t, c.Configured())

	q1, err := c.Quote(context.Background(), "soho", in, out, 0)
	require.NoError(t, err)
	q2, err := c.Quote(context.Background(), "soho", in, out, 0)
	require.NoError(t, err)

	assert.Equal(t, model.SourceMock, q1.Source)
	assert.True(t, q1.NightlyPrice.Equal(q2.NightlyPrice))

	quotes, err := c.Search(context.Background(), "soho", in, out, 2)
	require.NoError(t, err)
	assert.Len(t, quotes, 5)
	assert.True(t, quotes[0].NightlyPrice.Equal(q1.NightlyPrice))
}

func TestMockPrice_DeterministicAndBounded(t *testing.T) {
	table := areas.Default()
	day, err := model.ParseDate("2030-01-01")
	require.NoError(t, err)

	for _, a := range table.All() {
		low := a.Base().Mul(decimal.RequireFromString("0.8"))
		high := a.Base().Mul(decimal.RequireFromString("1.2"))
		for i := 0; i < 60; i++ {
			in := day.AddDate(0, 0, i)
			p := inventory.MockPrice(a, in)
			assert.True(t, p.Equal(inventory.MockPrice(a, in)))
			assert.True(t, p.GreaterThanOrEqual(low), "%s %s: %s below %s", a.Key, model.FormatDate(in), p, low)
			assert.True(t, p.LessThanOrEqual(high), "%s %s: %s above %s", a.Key, model.FormatDate(in), p, high)
		}
	}
}
