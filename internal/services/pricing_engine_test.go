package services

import (
	"errors"
	"reflect"
	"testing"

	domain "github.com/mitrakirim/api/internal/domain"
)

func perKmSnapshot() domain.ServicePricingConfig {
	return domain.ServicePricingConfig{
		DistanceMode:    domain.DistancePerKm,
		PerKmRate:       3500,
		AdminFee:        2000,
		TalanganCeiling: 100000,
		CargoSurcharges: []domain.Surcharge{
			{ID: "fragile", Label: "Barang pecah belah", Price: 5000},
		},
		FacilitySurcharges: []domain.Surcharge{
			{ID: "cooler", Label: "Cooler box", Price: 7500},
			{ID: "helper", Label: "Extra helper", Price: 15000},
		},
	}
}

func TestQuotePerKmRoundsUp(t *testing.T) {
	engine := NewPricingEngine()

	breakdown, err := engine.Quote(perKmSnapshot(), domain.OrderDetails{DistanceKm: 5.2}, 0)
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if breakdown.DistanceFee != 18200 {
		t.Fatalf("expected distance fee 18200, got %d", breakdown.DistanceFee)
	}
	if breakdown.Total != 20200 {
		t.Fatalf("expected total 20200, got %d", breakdown.Total)
	}
}

func TestQuoteIsDeterministic(t *testing.T) {
	engine := NewPricingEngine()
	details := domain.OrderDetails{
		DistanceKm:  7.31,
		CargoTypeID: "fragile",
		FacilityIDs: []string{"cooler", "helper"},
	}

	first, err := engine.Quote(perKmSnapshot(), details, 50000)
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	second, err := engine.Quote(perKmSnapshot(), details, 50000)
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("identical inputs produced different breakdowns: %+v vs %+v", first, second)
	}

	wantTotal := first.AdminFee + first.DistanceFee
	for _, line := range first.CargoSurcharges {
		wantTotal += line.Price
	}
	for _, line := range first.FacilitySurcharges {
		wantTotal += line.Price
	}
	if first.Total != wantTotal {
		t.Fatalf("total %d does not equal the sum of its parts %d", first.Total, wantTotal)
	}
}

func TestQuoteZoneMatrixLookup(t *testing.T) {
	engine := NewPricingEngine()
	snapshot := domain.ServicePricingConfig{
		DistanceMode:    domain.DistanceZoneMatrix,
		AdminFee:        1000,
		TalanganCeiling: 0,
		ZoneMatrix: map[string]int64{
			"JKT-SEL>JKT-UT": 25000,
		},
	}

	breakdown, err := engine.Quote(snapshot, domain.OrderDetails{
		PickupZone:  " jkt-sel ",
		DropoffZone: "jkt-ut",
	}, 0)
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if breakdown.DistanceFee != 25000 {
		t.Fatalf("expected zone price 25000, got %d", breakdown.DistanceFee)
	}
	if breakdown.Total != 26000 {
		t.Fatalf("expected total 26000, got %d", breakdown.Total)
	}
}

func TestQuoteZoneMatrixMissingPair(t *testing.T) {
	engine := NewPricingEngine()
	snapshot := domain.ServicePricingConfig{
		DistanceMode: domain.DistanceZoneMatrix,
		ZoneMatrix:   map[string]int64{"A>B": 10000},
	}

	_, err := engine.Quote(snapshot, domain.OrderDetails{PickupZone: "A", DropoffZone: "C"}, 0)
	if !errors.Is(err, ErrPricing) {
		t.Fatalf("expected pricing error for unmatched pair, got %v", err)
	}
}

func TestQuoteRejectsUnknownSurchargeIDs(t *testing.T) {
	engine := NewPricingEngine()

	_, err := engine.Quote(perKmSnapshot(), domain.OrderDetails{DistanceKm: 1, CargoTypeID: "livestock"}, 0)
	if !errors.Is(err, ErrPricing) {
		t.Fatalf("expected pricing error for unknown cargo id, got %v", err)
	}

	_, err = engine.Quote(perKmSnapshot(), domain.OrderDetails{DistanceKm: 1, FacilityIDs: []string{"drone"}}, 0)
	if !errors.Is(err, ErrPricing) {
		t.Fatalf("expected pricing error for unknown facility id, got %v", err)
	}
}

func TestQuoteRejectsTalanganOverCeiling(t *testing.T) {
	engine := NewPricingEngine()

	_, err := engine.Quote(perKmSnapshot(), domain.OrderDetails{DistanceKm: 1}, 100001)
	if !errors.Is(err, ErrPricing) {
		t.Fatalf("expected pricing error for talangan over ceiling, got %v", err)
	}
}

func TestZonePairKeyNormalizesUnicodeForms(t *testing.T) {
	// Full-width letters should fold onto the plain ASCII zone codes.
	if got := ZonePairKey("ｊｋｔ", "bdg"); got != "JKT>BDG" {
		t.Fatalf("expected JKT>BDG, got %q", got)
	}
}
