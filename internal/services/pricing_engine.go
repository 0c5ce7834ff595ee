package services

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/unicode/norm"

	domain "github.com/mitrakirim/api/internal/domain"
)

// ErrPricing signals an order the pricing tables cannot resolve: an unknown zone
// pair, an unknown cargo or facility id, or a talangan request above the service
// ceiling. The request is rejected rather than guessed at or clamped.
var ErrPricing = errors.New("pricing: cannot price order")

// PricingEngine quotes delivery costs from an immutable pricing snapshot. It is
// pure and deterministic: identical inputs always produce an identical breakdown,
// so estimated and final costs share one computation path.
type PricingEngine struct{}

// NewPricingEngine returns a stateless pricing engine.
func NewPricingEngine() *PricingEngine {
	return &PricingEngine{}
}

// Quote computes the full cost breakdown for the given details against the
// snapshot, in the smallest currency unit. Talangan is validated against the
// snapshot ceiling but tracked separately from the delivery-fee total.
func (e *PricingEngine) Quote(snapshot domain.ServicePricingConfig, details domain.OrderDetails, talangan int64) (domain.CostBreakdown, error) {
	if talangan < 0 {
		return domain.CostBreakdown{}, fmt.Errorf("%w: talangan amount must not be negative", ErrPricing)
	}
	if talangan > snapshot.TalanganCeiling {
		return domain.CostBreakdown{}, fmt.Errorf("%w: talangan %d exceeds ceiling %d", ErrPricing, talangan, snapshot.TalanganCeiling)
	}

	distanceFee, err := e.distanceFee(snapshot, details)
	if err != nil {
		return domain.CostBreakdown{}, err
	}

	cargo, err := applySurcharges(snapshot.CargoSurcharges, cargoSelection(details), "cargo type")
	if err != nil {
		return domain.CostBreakdown{}, err
	}
	facilities, err := applySurcharges(snapshot.FacilitySurcharges, details.FacilityIDs, "facility")
	if err != nil {
		return domain.CostBreakdown{}, err
	}

	breakdown := domain.CostBreakdown{
		AdminFee:           snapshot.AdminFee,
		DistanceFee:        distanceFee,
		CargoSurcharges:    cargo,
		FacilitySurcharges: facilities,
	}
	breakdown.Total = breakdown.AdminFee + breakdown.DistanceFee
	for _, line := range cargo {
		breakdown.Total += line.Price
	}
	for _, line := range facilities {
		breakdown.Total += line.Price
	}
	return breakdown, nil
}

func (e *PricingEngine) distanceFee(snapshot domain.ServicePricingConfig, details domain.OrderDetails) (int64, error) {
	switch snapshot.DistanceMode {
	case domain.DistancePerKm:
		if details.DistanceKm <= 0 {
			return 0, fmt.Errorf("%w: distance is required for per-km pricing", ErrPricing)
		}
		return int64(math.Ceil(float64(snapshot.PerKmRate) * details.DistanceKm)), nil
	case domain.DistanceZoneMatrix:
		key := ZonePairKey(details.PickupZone, details.DropoffZone)
		price, ok := snapshot.ZoneMatrix[key]
		if !ok {
			return 0, fmt.Errorf("%w: no price for zone pair %q", ErrPricing, key)
		}
		return price, nil
	default:
		return 0, fmt.Errorf("%w: unknown distance mode %q", ErrPricing, snapshot.DistanceMode)
	}
}

// ZonePairKey builds the normalised matrix key for an origin/destination pair.
// Zone codes are NFKC-normalised and upper-cased so visually identical codes
// entered with different Unicode forms resolve to the same row.
func ZonePairKey(origin, destination string) string {
	return normalizeZone(origin) + ">" + normalizeZone(destination)
}

func normalizeZone(zone string) string {
	return strings.ToUpper(strings.TrimSpace(norm.NFKC.String(zone)))
}

func cargoSelection(details domain.OrderDetails) []string {
	if strings.TrimSpace(details.CargoTypeID) == "" {
		return nil
	}
	return []string{details.CargoTypeID}
}

func applySurcharges(configured []domain.Surcharge, selected []string, kind string) ([]domain.SurchargeLine, error) {
	if len(selected) == 0 {
		return nil, nil
	}
	byID := make(map[string]domain.Surcharge, len(configured))
	for _, s := range configured {
		byID[s.ID] = s
	}

	lines := make([]domain.SurchargeLine, 0, len(selected))
	for _, id := range selected {
		id = strings.TrimSpace(id)
		s, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: unknown %s id %q", ErrPricing, kind, id)
		}
		lines = append(lines, domain.SurchargeLine{ID: s.ID, Label: s.Label, Price: s.Price})
	}
	return lines, nil
}
