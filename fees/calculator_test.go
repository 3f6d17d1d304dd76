package fees

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"tabpay/loyalty"
	"tabpay/market"
	"tabpay/tier"
)

func testConfig() Config {
	return Config{
		BaseFeeBps:                 30,
		MinFeeBps:                  5,
		MaxFeeBps:                  100,
		HighVolatilitySurchargeBps: 25,
		LowVolatilityDiscountBps:   10,
		HighVolumeSwapThreshold:    100,
		VolumeDiscountBps:          5,
		LargeAmountThreshold:       big.NewInt(1_000),
		PremiumStep:                big.NewInt(1_000),
		PremiumUnitBps:             2,
		PremiumCapBps:              20,
	}
}

func newTestCalculator(cfg Config) *Calculator {
	calc := NewCalculator(cfg, tier.DefaultTable())
	calc.SetClock(func() time.Time { return time.Unix(1_700_000_000, 0) })
	return calc
}

func snapshotWith(volatility market.Volatility, swaps uint64) market.Snapshot {
	return market.Snapshot{
		Volatility:    volatility,
		Volume24h:     big.NewInt(100_000),
		SwapsLastHour: swaps,
	}
}

func profileWith(level tier.Tier) loyalty.Profile {
	return loyalty.Profile{Account: "acct-1", Tier: level, SpendTotal: big.NewInt(0)}
}

func TestCalculateInputErrors(t *testing.T) {
	calc := newTestCalculator(testConfig())
	snapshot := snapshotWith(market.VolatilityMedium, 10)

	if _, err := calc.Calculate(nil, snapshot, profileWith(tier.TierBronze)); !errors.Is(err, ErrNilAmount) {
		t.Fatalf("expected ErrNilAmount, got %v", err)
	}
	if _, err := calc.Calculate(big.NewInt(-5), snapshot, profileWith(tier.TierBronze)); !errors.Is(err, ErrNegativeAmount) {
		t.Fatalf("expected ErrNegativeAmount, got %v", err)
	}
	if _, err := calc.Calculate(big.NewInt(10), snapshot, loyalty.Profile{Account: "a", Tier: tier.Tier(9)}); !errors.Is(err, loyalty.ErrInvalidTier) {
		t.Fatalf("expected ErrInvalidTier, got %v", err)
	}
}

func TestCalculateBaseOnly(t *testing.T) {
	calc := newTestCalculator(testConfig())
	result, err := calc.Calculate(big.NewInt(100), snapshotWith(market.VolatilityMedium, 10), profileWith(tier.TierBronze))
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if result.EffectiveFeeBps != 30 {
		t.Fatalf("expected base fee 30, got %d", result.EffectiveFeeBps)
	}
	if result.NetAdjustmentBps != 0 {
		t.Fatalf("expected zero net adjustment, got %d", result.NetAdjustmentBps)
	}
	if len(result.Breakdown) != 0 {
		t.Fatalf("expected empty breakdown, got %v", result.Breakdown)
	}
	if result.Clamped {
		t.Fatalf("unclamped fee reported clamped")
	}
}

func TestCalculateAdjustmentOrder(t *testing.T) {
	calc := newTestCalculator(testConfig())
	result, err := calc.Calculate(big.NewInt(5_000), snapshotWith(market.VolatilityHigh, 150), profileWith(tier.TierGold))
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}

	// +25 volatility, -5 volume, -10 gold, +10 premium (5 steps of 2 bps).
	if result.EffectiveFeeBps != 50 {
		t.Fatalf("expected effective fee 50, got %d", result.EffectiveFeeBps)
	}
	if result.NetAdjustmentBps != 20 {
		t.Fatalf("expected net adjustment +20, got %d", result.NetAdjustmentBps)
	}
	wantReasons := []string{
		"high volatility surcharge",
		"high volume discount",
		"Gold tier discount",
		"large amount risk premium",
	}
	if len(result.Breakdown) != len(wantReasons) {
		t.Fatalf("expected %d entries, got %v", len(wantReasons), result.Breakdown)
	}
	for i, want := range wantReasons {
		if result.Breakdown[i].Reason != want {
			t.Fatalf("entry %d: got %q, want %q", i, result.Breakdown[i].Reason, want)
		}
	}
}

func TestCalculateLowVolatilityDiscount(t *testing.T) {
	calc := newTestCalculator(testConfig())
	result, err := calc.Calculate(big.NewInt(100), snapshotWith(market.VolatilityLow, 10), profileWith(tier.TierBronze))
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if result.EffectiveFeeBps != 20 {
		t.Fatalf("expected 20 bps after low volatility discount, got %d", result.EffectiveFeeBps)
	}
}

func TestCalculateVolumeThresholdInclusive(t *testing.T) {
	calc := newTestCalculator(testConfig())
	result, err := calc.Calculate(big.NewInt(100), snapshotWith(market.VolatilityMedium, 100), profileWith(tier.TierBronze))
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if result.EffectiveFeeBps != 25 {
		t.Fatalf("expected volume discount at the threshold, got %d bps", result.EffectiveFeeBps)
	}
}

func TestRiskPremium(t *testing.T) {
	calc := newTestCalculator(testConfig())

	t.Run("amount at threshold earns no premium", func(t *testing.T) {
		result, err := calc.Calculate(big.NewInt(1_000), snapshotWith(market.VolatilityMedium, 10), profileWith(tier.TierBronze))
		if err != nil {
			t.Fatalf("calculate: %v", err)
		}
		if result.EffectiveFeeBps != 30 {
			t.Fatalf("expected no premium at threshold, got %d bps", result.EffectiveFeeBps)
		}
	})

	t.Run("premium is capped", func(t *testing.T) {
		result, err := calc.Calculate(big.NewInt(15_000), snapshotWith(market.VolatilityMedium, 10), profileWith(tier.TierBronze))
		if err != nil {
			t.Fatalf("calculate: %v", err)
		}
		// 15 steps of 2 bps exceeds the 20 bps cap.
		if result.EffectiveFeeBps != 50 {
			t.Fatalf("expected capped premium of 20 bps, got %d total", result.EffectiveFeeBps)
		}
	})
}

func TestCalculateClampFloor(t *testing.T) {
	cfg := testConfig()
	cfg.BaseFeeBps = 10
	calc := newTestCalculator(cfg)

	result, err := calc.Calculate(big.NewInt(100), snapshotWith(market.VolatilityLow, 150), profileWith(tier.TierPlatinum))
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	// 10 - 10 - 5 - 15 lands well below the floor.
	if result.EffectiveFeeBps != 5 {
		t.Fatalf("expected clamp to floor 5, got %d", result.EffectiveFeeBps)
	}
	if !result.Clamped {
		t.Fatalf("expected Clamped to be set")
	}
}

func TestCalculateClampCeiling(t *testing.T) {
	cfg := testConfig()
	cfg.MaxFeeBps = 40
	calc := newTestCalculator(cfg)

	result, err := calc.Calculate(big.NewInt(100), snapshotWith(market.VolatilityHigh, 10), profileWith(tier.TierBronze))
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if result.EffectiveFeeBps != 40 {
		t.Fatalf("expected clamp to ceiling 40, got %d", result.EffectiveFeeBps)
	}
	if !result.Clamped {
		t.Fatalf("expected Clamped to be set")
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := testConfig()
	cfg.MinFeeBps = 200
	cfg.MaxFeeBps = 100
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for inverted clamp range, got %v", err)
	}

	cfg = testConfig()
	cfg.PremiumStep = nil
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for missing premium step, got %v", err)
	}
}

func TestAdjustmentString(t *testing.T) {
	up := Adjustment{Reason: "high volatility surcharge", DeltaBps: 25}
	if got := up.String(); got != "high volatility surcharge (+25 bps)" {
		t.Fatalf("unexpected rendering %q", got)
	}
	down := Adjustment{Reason: "Gold tier discount", DeltaBps: -10}
	if got := down.String(); got != "Gold tier discount (-10 bps)" {
		t.Fatalf("unexpected rendering %q", got)
	}
}
