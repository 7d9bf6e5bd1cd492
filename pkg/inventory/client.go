// Package inventory queries the hotel offers provider for nightly prices.
//
// The client owns the provider access token, paces every outbound request and
// falls back to deterministic generated prices when the provider is
// unreachable or unconfigured.
package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/areas"
	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/cache"
	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/metrics"
	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/model"
)

// Config holds provider connection settings.
type Config struct {
	BaseURL           string
	ClientID          string
	ClientSecret      string
	Timeout           time.Duration
	TokenMargin       time.Duration
	RequestsPerSecond float64
	Burst             int
	MaxResults        int
	DefaultAdults     int
	Fallback          bool
	CacheTTL          time.Duration
}

// Client is safe for concurrent use.
type Client struct {
	cfg     Config
	areas   *areas.Table
	http    *http.Client
	limiter *rate.Limiter
	cache   cache.Cache
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time

	token      atomic.Pointer[accessToken]
	tokenGroup singleflight.Group
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for provider calls.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }

// WithCache enables search result caching.
func WithCache(cc cache.Cache) Option { return func(c *Client) { c.cache = cc } }

// WithMetrics records quote sources and token refreshes.
func WithMetrics(m *metrics.Metrics) Option { return func(c *Client) { c.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option { return func(c *Client) { c.now = now } }

// New creates a provider client for the given area table.
func New(cfg Config, table *areas.Table, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.TokenMargin <= 0 {
		cfg.TokenMargin = time.Minute
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}
	if cfg.DefaultAdults <= 0 {
		cfg.DefaultAdults = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	c := &Client{
		cfg:     cfg,
		areas:   table,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, cfg.Burst),
		cache:   cache.Nop{},
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether provider credentials are set.
func (c *Client) Configured() bool {
	return c.cfg.ClientID != "" && c.cfg.ClientSecret != ""
}

// Areas returns the table the client resolves area names against.
func (c *Client) Areas() *areas.Table { return c.areas }

// Quote returns the cheapest nightly price currently offered for the stay and
// party size. Quotes always go to the provider and are never served from the cache.
func (c *Client) Quote(ctx context.Context, area string, checkIn, checkOut time.Time, guests int) (*model.PriceQuote, error) {
	a, err := c.resolve(area, checkIn, checkOut)
	if err != nil {
		return nil, err
	}
	if guests, err = c.adults(guests); err != nil {
		return nil, err
	}
	quotes, err := c.fetch(ctx, a, checkIn, checkOut, guests)
	if err != nil {
		return nil, err
	}
	q := quotes[0]
	return &q, nil
}

// Search returns up to MaxResults hotels for the stay, cheapest first.
func (c *Client) Search(ctx context.Context, area string, checkIn, checkOut time.Time, guests int) ([]model.PriceQuote, error) {
	a, err := c.resolve(area, checkIn, checkOut)
	if err != nil {
		return nil, err
	}
	if guests, err = c.adults(guests); err != nil {
		return nil, err
	}

	key := fmt.Sprintf("search:%s:%s:%s:%d", a.Key, model.FormatDate(checkIn), model.FormatDate(checkOut), guests)
	var cached []model.PriceQuote
	if err := cache.GetJSON(ctx, c.cache, key, &cached); err == nil && len(cached) > 0 {
		c.metrics.Quote("cache")
		return cached, nil
	} else if err != nil && !errors.Is(err, cache.ErrNotFound) {
		c.logger.Warn("search cache read failed", "key", key, "error", err)
	}

	quotes, err := c.fetch(ctx, a, checkIn, checkOut, guests)
	if err != nil {
		return nil, err
	}
	if len(quotes) > c.cfg.MaxResults {
		quotes = quotes[:c.cfg.MaxResults]
	}
	if quotes[0].Source == model.SourceLive && c.cfg.CacheTTL > 0 {
		if err := cache.SetJSON(ctx, c.cache, key, quotes, c.cfg.CacheTTL); err != nil {
			c.logger.Warn("search cache write failed", "key", key, "error", err)
		}
	}
	return quotes, nil
}

// adults applies the configured default to a zero guest count.
func (c *Client) adults(guests int) (int, error) {
	if guests == 0 {
		guests = c.cfg.DefaultAdults
	}
	if err := model.ValidateGuests(guests); err != nil {
		return 0, err
	}
	return guests, nil
}

func (c *Client) resolve(area string, checkIn, checkOut time.Time) (areas.Area, error) {
	a, err := c.areas.Lookup(area)
	if err != nil {
		return areas.Area{}, err
	}
	if err := model.ValidateStay(checkIn, checkOut); err != nil {
		return areas.Area{}, err
	}
	return a, nil
}

// fetch returns quotes ranked by ascending nightly price. The result is never empty.
func (c *Client) fetch(ctx context.Context, a areas.Area, checkIn, checkOut time.Time, adults int) ([]model.PriceQuote, error) {
	if !c.Configured() {
		return c.fallback(a, checkIn, checkOut, errors.New("no provider credentials configured"))
	}

	tok, err := c.getToken(ctx)
	if err != nil {
		return nil, err
	}

	quotes, err := c.searchOffers(ctx, tok, a, checkIn, checkOut, adults)
	var outage *outageError
	if errors.As(err, &outage) {
		return c.fallback(a, checkIn, checkOut, outage)
	}
	if err != nil {
		return nil, err
	}
	c.metrics.Quote(string(model.SourceLive))
	return quotes, nil
}

// outageError marks provider conditions that allow serving generated prices.
type outageError struct {
	reason string
}

func (e *outageError) Error() string { return e.reason }

type offersResponse struct {
	Data []hotelOffers `json:"data"`
}

type hotelOffers struct {
	Hotel struct {
		HotelID string `json:"hotelId"`
		Name    string `json:"name"`
	} `json:"hotel"`
	Offers []struct {
		Price struct {
			Total    string `json:"total"`
			Currency string `json:"currency"`
		} `json:"price"`
	} `json:"offers"`
}

func (c *Client) searchOffers(ctx context.Context, tok *accessToken, a areas.Area, checkIn, checkOut time.Time, adults int) ([]model.PriceQuote, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: search request paced out: %w", model.ErrProvider, err)
	}

	q := url.Values{}
	q.Set("locationCode", a.LocationCode)
	q.Set("latitude", strconv.FormatFloat(a.Latitude, 'f', 4, 64))
	q.Set("longitude", strconv.FormatFloat(a.Longitude, 'f', 4, 64))
	q.Set("checkInDate", model.FormatDate(checkIn))
	q.Set("checkOutDate", model.FormatDate(checkOut))
	q.Set("adults", strconv.Itoa(adults))
	q.Set("roomQuantity", "1")
	q.Set("currency", c.areas.Currency())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+"/v3/shopping/hotel-offers?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create search request: %w", model.ErrProvider, err)
	}
	req.Header.Set("Authorization", "Bearer "+tok.value)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: search request: %w", model.ErrProvider, ctxErr)
		}
		return nil, &outageError{reason: "search request failed: transport error"}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		c.dropToken(tok)
		return nil, fmt.Errorf("%w: search rejected the access token", model.ErrAuth)
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return nil, &outageError{reason: fmt.Sprintf("search returned status %d", resp.StatusCode)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("%w: search returned status %d", model.ErrProvider, resp.StatusCode)
	}

	var body offersResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: malformed search response", model.ErrProvider)
	}

	quotes := c.mapOffers(body, a, checkIn, checkOut)
	if len(quotes) == 0 {
		return nil, fmt.Errorf("%w: no availability in %s for %s to %s", model.ErrProvider,
			a.Name, model.FormatDate(checkIn), model.FormatDate(checkOut))
	}
	return quotes, nil
}

// mapOffers turns each hotel's cheapest offer into a nightly quote.
func (c *Client) mapOffers(body offersResponse, a areas.Area, checkIn, checkOut time.Time) []model.PriceQuote {
	nights := decimal.NewFromInt(int64(model.Nights(checkIn, checkOut)))
	retrieved := c.now().UTC()

	var quotes []model.PriceQuote
	for _, h := range body.Data {
		var (
			best     decimal.Decimal
			currency string
			found    bool
		)
		for _, o := range h.Offers {
			total, err := decimal.NewFromString(o.Price.Total)
			if err != nil || !total.IsPositive() {
				continue
			}
			if !found || total.LessThan(best) {
				best, currency, found = total, o.Price.Currency, true
			}
		}
		if !found {
			continue
		}
		if currency == "" {
			currency = c.areas.Currency()
		}
		name := h.Hotel.Name
		if name == "" {
			name = h.Hotel.HotelID
		}
		quotes = append(quotes, model.PriceQuote{
			Area:         a.Key,
			HotelName:    name,
			CheckIn:      checkIn,
			CheckOut:     checkOut,
			NightlyPrice: best.Div(nights).Round(2),
			Currency:     currency,
			RetrievedAt:  retrieved,
			Source:       model.SourceLive,
		})
	}

	sort.SliceStable(quotes, func(i, j int) bool {
		return quotes[i].NightlyPrice.LessThan(quotes[j].NightlyPrice)
	})
	return quotes
}

func (c *Client) fallback(a areas.Area, checkIn, checkOut time.Time, reason error) ([]model.PriceQuote, error) {
	if !c.cfg.Fallback {
		return nil, fmt.Errorf("%w: %v", model.ErrProvider, reason)
	}
	c.logger.Warn("serving generated prices", "area", a.Key, "reason", reason.Error())
	c.metrics.Quote(string(model.SourceMock))
	return MockQuotes(a, checkIn, checkOut, c.areas.Currency(), c.now()), nil
}
