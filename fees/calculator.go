package fees

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"tabpay/loyalty"
	"tabpay/market"
	"tabpay/tier"
)

// BpsDenominator scales basis-point math: 10_000 bps = 100%.
const BpsDenominator = 10_000

var (
	ErrNilAmount      = errors.New("fees: amount must be set")
	ErrNegativeAmount = errors.New("fees: amount must not be negative")
	ErrInvalidConfig  = errors.New("fees: invalid config")
)

// Config carries the injectable fee parameters. All rates are integer basis
// points; the calculator never rounds through floating point.
type Config struct {
	BaseFeeBps uint32
	MinFeeBps  uint32
	MaxFeeBps  uint32

	HighVolatilitySurchargeBps uint32
	LowVolatilityDiscountBps   uint32

	HighVolumeSwapThreshold uint64
	VolumeDiscountBps       uint32

	LargeAmountThreshold *big.Int
	PremiumStep          *big.Int
	PremiumUnitBps       uint32
	PremiumCapBps        uint32
}

// Normalize backfills nil amounts.
func (c Config) Normalize() Config {
	normalized := c
	if normalized.LargeAmountThreshold == nil {
		normalized.LargeAmountThreshold = big.NewInt(0)
	}
	if normalized.PremiumStep == nil {
		normalized.PremiumStep = big.NewInt(0)
	}
	return normalized
}

// Validate ensures the clamp range and premium parameters are coherent.
func (c Config) Validate() error {
	cfg := c.Normalize()
	if cfg.MinFeeBps > cfg.MaxFeeBps {
		return fmt.Errorf("%w: min fee exceeds max fee", ErrInvalidConfig)
	}
	if cfg.MaxFeeBps > BpsDenominator {
		return fmt.Errorf("%w: max fee exceeds %d bps", ErrInvalidConfig, BpsDenominator)
	}
	if cfg.BaseFeeBps > BpsDenominator {
		return fmt.Errorf("%w: base fee exceeds %d bps", ErrInvalidConfig, BpsDenominator)
	}
	if cfg.LargeAmountThreshold.Sign() > 0 && cfg.PremiumStep.Sign() <= 0 {
		return fmt.Errorf("%w: premium step must be positive when a large-amount threshold is set", ErrInvalidConfig)
	}
	return nil
}

// Adjustment is one audit entry of the fee breakdown. Order is significant
// and preserved exactly as the steps were applied.
type Adjustment struct {
	Reason   string
	DeltaBps int64
}

// String renders the entry for UI display.
func (a Adjustment) String() string {
	return fmt.Sprintf("%s (%+d bps)", a.Reason, a.DeltaBps)
}

// Result captures the computed fee and its full audit trail.
type Result struct {
	BaseFeeBps       uint32
	NetAdjustmentBps int64
	EffectiveFeeBps  uint32
	Clamped          bool
	Breakdown        []Adjustment
	Tier             tier.Tier
	Snapshot         market.Snapshot
	Latency          time.Duration
}

// Calculator computes the effective fee for an approved transaction.
type Calculator struct {
	cfg   Config
	tiers tier.Table
	clock func() time.Time
}

// NewCalculator constructs a calculator over the supplied parameters.
func NewCalculator(cfg Config, tiers tier.Table) *Calculator {
	return &Calculator{cfg: cfg.Normalize(), tiers: tiers.Clone(), clock: time.Now}
}

// SetClock overrides the time source for deterministic latency in tests.
func (c *Calculator) SetClock(clock func() time.Time) {
	if c == nil || clock == nil {
		return
	}
	c.clock = clock
}

// Calculate applies the configured adjustments in fixed order and clamps the
// running total to the configured range. Steps contributing zero are omitted
// from the breakdown.
func (c *Calculator) Calculate(amount *big.Int, snapshot market.Snapshot, profile loyalty.Profile) (Result, error) {
	started := c.clock()
	if amount == nil {
		return Result{}, ErrNilAmount
	}
	if amount.Sign() < 0 {
		return Result{}, ErrNegativeAmount
	}
	if !profile.Tier.Valid() {
		return Result{}, loyalty.ErrInvalidTier
	}
	normalized := snapshot.Normalize()

	running := int64(c.cfg.BaseFeeBps)
	breakdown := make([]Adjustment, 0, 5)
	apply := func(reason string, delta int64) {
		if delta == 0 {
			return
		}
		running += delta
		breakdown = append(breakdown, Adjustment{Reason: reason, DeltaBps: delta})
	}

	switch normalized.Volatility {
	case market.VolatilityHigh:
		apply("high volatility surcharge", int64(c.cfg.HighVolatilitySurchargeBps))
	case market.VolatilityLow:
		apply("low volatility discount", -int64(c.cfg.LowVolatilityDiscountBps))
	}

	if c.cfg.HighVolumeSwapThreshold > 0 && normalized.SwapsLastHour >= c.cfg.HighVolumeSwapThreshold {
		apply("high volume discount", -int64(c.cfg.VolumeDiscountBps))
	}

	tierParams := c.tiers.Params(profile.Tier)
	apply(fmt.Sprintf("%s tier discount", tierParams.Label), int64(tierParams.FeeDiscountBps))

	apply("large amount risk premium", c.riskPremium(amount))

	effective := running
	clamped := false
	if effective < int64(c.cfg.MinFeeBps) {
		effective = int64(c.cfg.MinFeeBps)
		clamped = true
	}
	if effective > int64(c.cfg.MaxFeeBps) {
		effective = int64(c.cfg.MaxFeeBps)
		clamped = true
	}

	return Result{
		BaseFeeBps:       c.cfg.BaseFeeBps,
		NetAdjustmentBps: running - int64(c.cfg.BaseFeeBps),
		EffectiveFeeBps:  uint32(effective),
		Clamped:          clamped,
		Breakdown:        breakdown,
		Tier:             profile.Tier,
		Snapshot:         normalized,
		Latency:          c.clock().Sub(started),
	}, nil
}

// riskPremium returns min(floor(amount/step) * unit, cap) in bps for amounts
// above the large-amount threshold. Division uses floor semantics.
func (c *Calculator) riskPremium(amount *big.Int) int64 {
	if c.cfg.LargeAmountThreshold.Sign() <= 0 || amount.Cmp(c.cfg.LargeAmountThreshold) <= 0 {
		return 0
	}
	if c.cfg.PremiumStep.Sign() <= 0 || c.cfg.PremiumUnitBps == 0 {
		return 0
	}
	steps := new(big.Int).Quo(amount, c.cfg.PremiumStep)
	premium := steps.Mul(steps, new(big.Int).SetUint64(uint64(c.cfg.PremiumUnitBps)))
	limit := new(big.Int).SetUint64(uint64(c.cfg.PremiumCapBps))
	if c.cfg.PremiumCapBps > 0 && premium.Cmp(limit) > 0 {
		return int64(c.cfg.PremiumCapBps)
	}
	return premium.Int64()
}
