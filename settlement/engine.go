package settlement

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"tabpay/loyalty"
	"tabpay/tier"
)

var (
	ErrNilAmount       = errors.New("settlement: amount must be set")
	ErrNegativeAmount  = errors.New("settlement: amount must not be negative")
	ErrAccountRequired = errors.New("settlement: account id required")
	ErrNilTokenRate    = errors.New("settlement: token rate must be set")
	ErrInvalidConfig   = errors.New("settlement: invalid config")
)

// RewardParams configures one reward type: the accrual rate in basis points
// and the hard per-line-item cap in reward-token units. A zero cap disables
// capping for the type.
type RewardParams struct {
	RateBps uint32
	Cap     *big.Int
}

// Clone returns a deep copy of the params.
func (p RewardParams) Clone() RewardParams {
	clone := p
	if p.Cap != nil {
		clone.Cap = new(big.Int).Set(p.Cap)
	}
	return clone
}

// Config carries the injectable reward economics.
type Config struct {
	SwapBonus        RewardParams
	FirstTransaction RewardParams
	Referral         RewardParams

	// Loyalty bonus and merchant cashback derive their rates from the
	// payer's tier; only the caps live here. The streak accrual curve is
	// global.
	LoyaltyBonusCap     *big.Int
	MerchantCashbackCap *big.Int
	StreakPerDayBps     uint32
	StreakRateCapBps    uint32
	StreakBonusCap      *big.Int
}

// Clone returns a deep copy of the config.
func (c Config) Clone() Config {
	clone := c
	clone.SwapBonus = c.SwapBonus.Clone()
	clone.FirstTransaction = c.FirstTransaction.Clone()
	clone.Referral = c.Referral.Clone()
	if c.LoyaltyBonusCap != nil {
		clone.LoyaltyBonusCap = new(big.Int).Set(c.LoyaltyBonusCap)
	}
	if c.MerchantCashbackCap != nil {
		clone.MerchantCashbackCap = new(big.Int).Set(c.MerchantCashbackCap)
	}
	if c.StreakBonusCap != nil {
		clone.StreakBonusCap = new(big.Int).Set(c.StreakBonusCap)
	}
	return clone
}

// Validate bounds every configured rate to at most 100%.
func (c Config) Validate() error {
	rates := map[string]uint32{
		"swap bonus":        c.SwapBonus.RateBps,
		"first transaction": c.FirstTransaction.RateBps,
		"referral":          c.Referral.RateBps,
		"streak per day":    c.StreakPerDayBps,
		"streak cap":        c.StreakRateCapBps,
	}
	for name, rate := range rates {
		if rate > 10_000 {
			return fmt.Errorf("%w: %s rate exceeds 10_000 bps", ErrInvalidConfig, name)
		}
	}
	return nil
}

// Input captures one approved transaction to settle.
type Input struct {
	Account          string
	Amount           *big.Int
	Profile          loyalty.Profile
	TokenRate        *big.Rat
	FirstTransaction bool
	MerchantID       string
	ReferrerID       string
}

// Result is the stage-three output: the ordered reward line items, the payer's
// total, and the updated loyalty profile. No token moves here; every item is
// Pending until the caller reconciles it against real settlement.
type Result struct {
	Items       []LineItem
	TotalReward *big.Int
	Profile     loyalty.Profile
	Latency     time.Duration
}

// Engine computes reward line items for approved transactions. It is pure:
// the clock and ID source are injected, and the caller's profile is never
// mutated.
type Engine struct {
	cfg   Config
	tiers tier.Table
	clock func() time.Time
	newID func() string
}

// NewEngine constructs an engine over the supplied economics and tier table.
func NewEngine(cfg Config, tiers tier.Table) *Engine {
	return &Engine{
		cfg:   cfg.Clone(),
		tiers: tiers.Clone(),
		clock: time.Now,
		newID: uuid.NewString,
	}
}

// SetClock overrides the time source for deterministic tests.
func (e *Engine) SetClock(clock func() time.Time) {
	if e == nil || clock == nil {
		return
	}
	e.clock = clock
}

// SetIDSource overrides the line-item ID generator for deterministic tests.
func (e *Engine) SetIDSource(newID func() string) {
	if e == nil || newID == nil {
		return
	}
	e.newID = newID
}

// Settle evaluates every reward rule against the transaction, caps each line
// item, and returns the updated profile with the tier re-derived from the new
// totals. Callers detect promotions by diffing the old and new tier.
func (e *Engine) Settle(input Input) (Result, error) {
	started := e.clock()
	account := strings.TrimSpace(input.Account)
	if account == "" {
		return Result{}, ErrAccountRequired
	}
	if input.Amount == nil {
		return Result{}, ErrNilAmount
	}
	if input.Amount.Sign() < 0 {
		return Result{}, ErrNegativeAmount
	}
	if input.TokenRate == nil || input.TokenRate.Sign() <= 0 {
		return Result{}, ErrNilTokenRate
	}
	profile := input.Profile.Normalize()
	if !profile.Tier.Valid() {
		return Result{}, loyalty.ErrInvalidTier
	}

	now := e.clock().UTC()
	amount := input.Amount
	tierParams := e.tiers.Params(profile.Tier)

	items := make([]LineItem, 0, 6)
	emit := func(kind RewardType, recipient string, rateBps uint32, raw *big.Int, rewardCap *big.Int, description string) {
		if raw == nil || raw.Sign() <= 0 {
			return
		}
		value := raw
		if rewardCap != nil && rewardCap.Sign() > 0 && value.Cmp(rewardCap) > 0 {
			value = rewardCap
		}
		items = append(items, LineItem{
			ID:          e.newID(),
			Type:        kind,
			Recipient:   recipient,
			Amount:      new(big.Int).Set(value),
			TxAmount:    new(big.Int).Set(amount),
			RateBps:     rateBps,
			Tier:        profile.Tier,
			Description: description,
			Status:      LineStatusPending,
			CreatedAt:   now,
		})
	}

	// Swap bonus: everyone earns the base rate on a positive amount.
	swapRaw := rewardAmount(amount, input.TokenRate, e.cfg.SwapBonus.RateBps)
	emit(RewardSwapBonus, account, e.cfg.SwapBonus.RateBps, swapRaw, e.cfg.SwapBonus.Cap, "base swap bonus")

	// Loyalty bonus: only the incremental multiplier over baseline is
	// rewarded, so the swap bonus is not double counted.
	if profile.Tier > tier.TierBronze && tierParams.MultiplierBps > tier.MultiplierDenominator {
		incremental := tierParams.MultiplierBps - tier.MultiplierDenominator
		raw := scaleReward(swapRaw, incremental)
		emit(RewardLoyaltyBonus, account, e.cfg.SwapBonus.RateBps, raw, e.cfg.LoyaltyBonusCap,
			fmt.Sprintf("%s tier loyalty bonus", tierParams.Label))
	}

	// Streak bonus: per-day rate capped before the amount is computed.
	if profile.StreakDays > 0 && e.cfg.StreakPerDayBps > 0 {
		rate := uint64(profile.StreakDays) * uint64(e.cfg.StreakPerDayBps)
		if e.cfg.StreakRateCapBps > 0 && rate > uint64(e.cfg.StreakRateCapBps) {
			rate = uint64(e.cfg.StreakRateCapBps)
		}
		raw := rewardAmount(amount, input.TokenRate, uint32(rate))
		emit(RewardStreakBonus, account, uint32(rate), raw, e.cfg.StreakBonusCap,
			fmt.Sprintf("%d-day streak bonus", profile.StreakDays))
	}

	if input.FirstTransaction {
		raw := rewardAmount(amount, input.TokenRate, e.cfg.FirstTransaction.RateBps)
		emit(RewardFirstTransaction, account, e.cfg.FirstTransaction.RateBps, raw, e.cfg.FirstTransaction.Cap, "first transaction bonus")
	}

	// Merchant cashback is attributed to the merchant, never the payer.
	// The rate follows the payer's tier.
	if merchant := strings.TrimSpace(input.MerchantID); merchant != "" {
		raw := rewardAmount(amount, input.TokenRate, tierParams.CashbackBps)
		emit(RewardMerchantCashback, merchant, tierParams.CashbackBps, raw, e.cfg.MerchantCashbackCap,
			fmt.Sprintf("cashback for merchant %s", merchant))
	}

	if referrer := strings.TrimSpace(input.ReferrerID); referrer != "" {
		raw := rewardAmount(amount, input.TokenRate, e.cfg.Referral.RateBps)
		emit(RewardReferral, referrer, e.cfg.Referral.RateBps, raw, e.cfg.Referral.Cap,
			fmt.Sprintf("referral reward for %s", referrer))
	}

	total := big.NewInt(0)
	for _, item := range items {
		if item.Recipient == account {
			total.Add(total, item.Amount)
		}
	}

	updated := profile.Clone()
	updated.Account = account
	updated.SpendTotal = new(big.Int).Add(profile.SpendTotal, amount)
	updated.TxCount = profile.TxCount + 1
	if updated.JoinedAt.IsZero() {
		updated.JoinedAt = now
	}
	updated.Tier = e.tiers.Derive(updated.SpendTotal, updated.TxCount)

	return Result{
		Items:       items,
		TotalReward: total,
		Profile:     updated,
		Latency:     e.clock().Sub(started),
	}, nil
}

// rewardAmount computes floor(amount * tokenRate * rateBps / 10_000) in
// reward-token units.
func rewardAmount(amount *big.Int, tokenRate *big.Rat, rateBps uint32) *big.Int {
	if amount == nil || amount.Sign() <= 0 || rateBps == 0 {
		return big.NewInt(0)
	}
	value := new(big.Rat).SetInt(amount)
	value.Mul(value, tokenRate)
	value.Mul(value, big.NewRat(int64(rateBps), 10_000))
	return new(big.Int).Quo(value.Num(), value.Denom())
}

// scaleReward applies an incremental multiplier (in bps over 10_000) to an
// already computed reward amount.
func scaleReward(base *big.Int, incrementalBps uint32) *big.Int {
	if base == nil || base.Sign() <= 0 || incrementalBps == 0 {
		return big.NewInt(0)
	}
	scaled := new(big.Int).Mul(base, new(big.Int).SetUint64(uint64(incrementalBps)))
	return scaled.Quo(scaled, big.NewInt(tier.MultiplierDenominator))
}
