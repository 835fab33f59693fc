package exchange

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Pollutants tracked by the exchange
const (
	PollutantNitrogen   = "nitrogen"
	PollutantPhosphorus = "phosphorus"
)

// Source types and their measurement uncertainty
const (
	SourceTypePoint    = "point_source"
	SourceTypeNonpoint = "nonpoint_source"
)

// Basin is a jurisdictional water-catchment partition. Delivery
// factors are a reporting multiplier only and never enter settlement
// arithmetic.
type Basin struct {
	Code                     string             `json:"code"`
	Name                     string             `json:"name"`
	NitrogenDeliveryFactor   float64            `json:"nitrogenDeliveryFactor"`
	PhosphorusDeliveryFactor float64            `json:"phosphorusDeliveryFactor"`
	CanAcquireFrom           []string           `json:"canAcquireFrom"`
	ExchangeRatios           map[string]float64 `json:"exchangeRatios"`
}

// Registry holds the static basin rule tables for one jurisdiction.
// Loaded once at startup, never mutated at runtime. Additional
// jurisdictions plug in as additional tables.
type Registry struct {
	basins            map[string]Basin
	uncertaintyRatios map[string]decimal.Decimal
	offsetFundPrices  map[string]decimal.Decimal
}

// registryDocument is the wire shape of an external registry source.
type registryDocument struct {
	Basins            []Basin            `json:"basins"`
	UncertaintyRatios map[string]float64 `json:"uncertaintyRatios"`
	OffsetFundPrices  map[string]float64 `json:"offsetFundPrices"`
}

// NewRegistry builds a registry from explicit tables. Tests substitute
// smaller fixtures through this constructor.
func NewRegistry(basins []Basin, uncertaintyRatios, offsetFundPrices map[string]float64) *Registry {
	r := &Registry{
		basins:            make(map[string]Basin, len(basins)),
		uncertaintyRatios: make(map[string]decimal.Decimal, len(uncertaintyRatios)),
		offsetFundPrices:  make(map[string]decimal.Decimal, len(offsetFundPrices)),
	}
	for _, b := range basins {
		r.basins[strings.ToUpper(b.Code)] = b
	}
	for sourceType, ratio := range uncertaintyRatios {
		r.uncertaintyRatios[sourceType] = decimal.NewFromFloat(ratio)
	}
	for pollutant, price := range offsetFundPrices {
		r.offsetFundPrices[pollutant] = decimal.NewFromFloat(price)
	}
	return r
}

// ParseRegistry builds a registry from a JSON document.
func ParseRegistry(data []byte) (*Registry, error) {
	var doc registryDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse basin registry: %w", err)
	}
	if len(doc.Basins) == 0 {
		return nil, fmt.Errorf("basin registry document has no basins")
	}
	return NewRegistry(doc.Basins, doc.UncertaintyRatios, doc.OffsetFundPrices), nil
}

// NewVirginiaRegistry returns the built-in Virginia nutrient exchange
// tables, used when no external registry source is configured.
func NewVirginiaRegistry() *Registry {
	return NewRegistry(
		[]Basin{
			{
				Code: "ES", Name: "Eastern Shore",
				NitrogenDeliveryFactor:   1.0,
				PhosphorusDeliveryFactor: 1.0,
				CanAcquireFrom:           []string{"POT", "RAP"},
				ExchangeRatios:           map[string]float64{"POT": 1.0, "RAP": 1.3},
			},
			{
				Code: "JAM", Name: "James River",
				NitrogenDeliveryFactor:   0.92,
				PhosphorusDeliveryFactor: 0.92,
				CanAcquireFrom:           []string{},
				ExchangeRatios:           map[string]float64{},
			},
			{
				Code: "POT", Name: "Potomac River",
				NitrogenDeliveryFactor:   0.58,
				PhosphorusDeliveryFactor: 0.70,
				CanAcquireFrom:           []string{},
				ExchangeRatios:           map[string]float64{},
			},
			{
				Code: "RAP", Name: "Rappahannock River",
				NitrogenDeliveryFactor:   0.78,
				PhosphorusDeliveryFactor: 0.92,
				CanAcquireFrom:           []string{},
				ExchangeRatios:           map[string]float64{},
			},
			{
				Code: "YOR", Name: "York River",
				NitrogenDeliveryFactor:   0.90,
				PhosphorusDeliveryFactor: 0.99,
				CanAcquireFrom:           []string{},
				ExchangeRatios:           map[string]float64{},
			},
		},
		map[string]float64{
			SourceTypePoint:    1.0,
			SourceTypeNonpoint: 2.0,
		},
		map[string]float64{
			PollutantNitrogen:   5.08,
			PollutantPhosphorus: 11.15,
		},
	)
}

// Basin returns a basin by code, case-insensitive.
func (r *Registry) Basin(code string) (Basin, bool) {
	b, ok := r.basins[strings.ToUpper(code)]
	return b, ok
}

// Basins returns all basins in the registry.
func (r *Registry) Basins() []Basin {
	out := make([]Basin, 0, len(r.basins))
	for _, b := range r.basins {
		out = append(out, b)
	}
	return out
}

// UncertaintyRatio returns the multiplier for a source type.
func (r *Registry) UncertaintyRatio(sourceType string) (decimal.Decimal, bool) {
	ratio, ok := r.uncertaintyRatios[sourceType]
	return ratio, ok
}

// OffsetFundPrice returns the static seller-of-last-resort price per
// unit for a pollutant. Not a market number.
func (r *Registry) OffsetFundPrice(pollutant string) (decimal.Decimal, bool) {
	price, ok := r.offsetFundPrices[pollutant]
	return price, ok
}
