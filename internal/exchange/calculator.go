package exchange

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrUnknownBasin      = errors.New("unknown basin")
	ErrUnknownSourceType = errors.New("unknown source type")
	ErrInvalidBasinPath  = errors.New("no acquisition path between basins")
)

// Quote is the result of pricing a cross-basin trade.
type Quote struct {
	SourceBasin      string          `json:"source_basin"`
	DestBasin        string          `json:"dest_basin"`
	ExchangeRatio    decimal.Decimal `json:"exchange_ratio"`
	UncertaintyRatio decimal.Decimal `json:"uncertainty_ratio"`
	RawQuantity      decimal.Decimal `json:"raw_quantity"`
	SettledQuantity  decimal.Decimal `json:"settled_quantity"`

	// Reporting only; never applied to SettledQuantity.
	NitrogenDeliveryFactor   float64 `json:"nitrogen_delivery_factor"`
	PhosphorusDeliveryFactor float64 `json:"phosphorus_delivery_factor"`
}

// Settle converts a raw credit quantity from the seller's basin into
// the quantity delivered at the buyer's basin. Pure function of the
// registry tables; safe for concurrent use.
//
// A destination may only acquire from basins in its canAcquireFrom
// set. The identity basin is always legal at ratio 1.0.
func (r *Registry) Settle(sourceCode, destCode, sourceType string, raw decimal.Decimal) (Quote, error) {
	source, ok := r.Basin(sourceCode)
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s", ErrUnknownBasin, sourceCode)
	}
	dest, ok := r.Basin(destCode)
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s", ErrUnknownBasin, destCode)
	}

	uncertainty, ok := r.UncertaintyRatio(sourceType)
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s", ErrUnknownSourceType, sourceType)
	}

	sameBasin := source.Code == dest.Code
	if !sameBasin && !basinContains(dest.CanAcquireFrom, source.Code) {
		return Quote{}, fmt.Errorf("%w: %s cannot acquire from %s", ErrInvalidBasinPath, dest.Code, source.Code)
	}

	exchangeRatio := decimal.NewFromInt(1)
	if !sameBasin {
		ratio, ok := dest.ExchangeRatios[source.Code]
		if !ok || ratio <= 0 {
			return Quote{}, fmt.Errorf("%w: no exchange ratio from %s to %s", ErrInvalidBasinPath, source.Code, dest.Code)
		}
		exchangeRatio = decimal.NewFromFloat(ratio)
	}

	settled := raw.Div(exchangeRatio.Mul(uncertainty))

	return Quote{
		SourceBasin:              source.Code,
		DestBasin:                dest.Code,
		ExchangeRatio:            exchangeRatio,
		UncertaintyRatio:         uncertainty,
		RawQuantity:              raw,
		SettledQuantity:          settled,
		NitrogenDeliveryFactor:   dest.NitrogenDeliveryFactor,
		PhosphorusDeliveryFactor: dest.PhosphorusDeliveryFactor,
	}, nil
}

// OffsetFundQuote prices a cash-equivalent settlement when no basin
// path exists and the seller falls back to the offset fund.
func (r *Registry) OffsetFundQuote(pollutant string, raw decimal.Decimal) (decimal.Decimal, error) {
	price, ok := r.OffsetFundPrice(pollutant)
	if !ok {
		return decimal.Zero, fmt.Errorf("no offset fund price for pollutant %q", pollutant)
	}
	return raw.Mul(price), nil
}

func basinContains(codes []string, code string) bool {
	for _, c := range codes {
		if strings.EqualFold(c, code) {
			return true
		}
	}
	return false
}
