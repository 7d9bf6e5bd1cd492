package inventory

import (
	"hash/fnv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/areas"
	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/model"
)

// maxAdjustmentBP bounds the generated price adjustment, in basis points (±20%).
const maxAdjustmentBP = 2000

var mockHotelSuffixes = []string{"Grand Hotel", "Park Inn", "Boutique Suites", "Riverside Lodge", "Central Apartments"}

// MockPrice is the generated nightly price for an area and check-in date.
// The same inputs always give the same price, within ±20% of the area base price.
func MockPrice(a areas.Area, checkIn time.Time) decimal.Decimal {
	h := fnv.New32a()
	_, _ = h.Write([]byte(a.Key + "|" + model.FormatDate(checkIn)))
	bp := int64(h.Sum32()%(2*maxAdjustmentBP+1)) - maxAdjustmentBP

	factor := decimal.NewFromInt(10_000 + bp).Div(decimal.NewFromInt(10_000))
	return a.Base().Mul(factor).Round(2)
}

// MockQuotes returns a ranked list of generated hotels for the stay. The first
// quote always carries MockPrice.
func MockQuotes(a areas.Area, checkIn, checkOut time.Time, currency string, now time.Time) []model.PriceQuote {
	base := MockPrice(a, checkIn)
	step := decimal.NewFromFloat(0.08)

	quotes := make([]model.PriceQuote, 0, len(mockHotelSuffixes))
	for i, suffix := range mockHotelSuffixes {
		price := base.Mul(decimal.NewFromInt(1).Add(step.Mul(decimal.NewFromInt(int64(i))))).Round(2)
		quotes = append(quotes, model.PriceQuote{
			Area:         a.Key,
			HotelName:    a.Name + " " + suffix,
			CheckIn:      checkIn,
			CheckOut:     checkOut,
			NightlyPrice: price,
			Currency:     currency,
			RetrievedAt:  now.UTC(),
			Source:       model.SourceMock,
		})
	}
	return quotes
}
