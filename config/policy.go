package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"tabpay/constraints"
	"tabpay/fees"
	"tabpay/settlement"
	"tabpay/tier"
)

// Policy is the operator-facing economics file. Amounts are textual integers
// in the smallest token denomination; underscores are permitted for
// readability.
type Policy struct {
	Constraints ConstraintPolicy      `toml:"constraints"`
	Fees        FeePolicy             `toml:"fees"`
	Rewards     RewardPolicy          `toml:"rewards"`
	Tiers       map[string]TierPolicy `toml:"tiers"`
}

// ConstraintPolicy configures the stage-one bounds.
type ConstraintPolicy struct {
	DefaultMinimum string `toml:"DefaultMinimum"`
	GlobalMaximum  string `toml:"GlobalMaximum"`
}

// FeePolicy configures the dynamic fee calculator. Numeric fields are
// pointers so an absent key keeps the stock value instead of zeroing it.
type FeePolicy struct {
	BaseFeeBps                 *uint32 `toml:"BaseFeeBps"`
	MinFeeBps                  *uint32 `toml:"MinFeeBps"`
	MaxFeeBps                  *uint32 `toml:"MaxFeeBps"`
	HighVolatilitySurchargeBps *uint32 `toml:"HighVolatilitySurchargeBps"`
	LowVolatilityDiscountBps   *uint32 `toml:"LowVolatilityDiscountBps"`
	HighVolumeSwapThreshold    *uint64 `toml:"HighVolumeSwapThreshold"`
	VolumeDiscountBps          *uint32 `toml:"VolumeDiscountBps"`
	LargeAmountThreshold       string  `toml:"LargeAmountThreshold"`
	PremiumStep                string  `toml:"PremiumStep"`
	PremiumUnitBps             *uint32 `toml:"PremiumUnitBps"`
	PremiumCapBps              *uint32 `toml:"PremiumCapBps"`
}

// RewardPolicy configures the settlement engine. Absent keys keep the stock
// values, same as FeePolicy.
type RewardPolicy struct {
	SwapBonusBps        *uint32 `toml:"SwapBonusBps"`
	SwapBonusCap        string  `toml:"SwapBonusCap"`
	FirstTxBonusBps     *uint32 `toml:"FirstTxBonusBps"`
	FirstTxBonusCap     string  `toml:"FirstTxBonusCap"`
	ReferralBps         *uint32 `toml:"ReferralBps"`
	ReferralCap         string  `toml:"ReferralCap"`
	LoyaltyBonusCap     string  `toml:"LoyaltyBonusCap"`
	MerchantCashbackCap string  `toml:"MerchantCashbackCap"`
	StreakPerDayBps     *uint32 `toml:"StreakPerDayBps"`
	StreakRateCapBps    *uint32 `toml:"StreakRateCapBps"`
	StreakBonusCap      string  `toml:"StreakBonusCap"`
}

// TierPolicy configures one tier of the loyalty ladder.
type TierPolicy struct {
	MinSpend       string `toml:"MinSpend"`
	MinTxCount     uint64 `toml:"MinTxCount"`
	FeeDiscountBps int32  `toml:"FeeDiscountBps"`
	CashbackBps    uint32 `toml:"CashbackBps"`
	MultiplierBps  uint32 `toml:"MultiplierBps"`
	Label          string `toml:"Label"`
}

// LoadPolicy reads and resolves the policy file at the supplied path.
func LoadPolicy(path string) (Parameters, error) {
	var policy Policy
	raw, err := os.ReadFile(path)
	if err != nil {
		return Parameters{}, fmt.Errorf("config: read policy: %w", err)
	}
	if err := toml.Unmarshal(raw, &policy); err != nil {
		return Parameters{}, fmt.Errorf("config: decode policy: %w", err)
	}
	return policy.Parameters()
}

// Parameters bundles the runtime-ready stage configurations resolved from a
// policy file.
type Parameters struct {
	Constraints constraints.Config
	Fees        fees.Config
	Rewards     settlement.Config
	Tiers       tier.Table
}

// DefaultParameters returns the stock economics used when no policy file is
// supplied.
func DefaultParameters() Parameters {
	return Parameters{
		Constraints: constraints.Config{
			DefaultMinimum: big.NewInt(1),
			GlobalMaximum:  big.NewInt(10_000),
		},
		Fees: fees.Config{
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
		},
		Rewards: settlement.Config{
			SwapBonus:           settlement.RewardParams{RateBps: 100, Cap: big.NewInt(50_000)},
			FirstTransaction:    settlement.RewardParams{RateBps: 500, Cap: big.NewInt(100_000)},
			Referral:            settlement.RewardParams{RateBps: 50, Cap: big.NewInt(25_000)},
			LoyaltyBonusCap:     big.NewInt(50_000),
			MerchantCashbackCap: big.NewInt(50_000),
			StreakPerDayBps:     10,
			StreakRateCapBps:    100,
			StreakBonusCap:      big.NewInt(25_000),
		},
		Tiers: tier.DefaultTable(),
	}
}

// Parameters converts the textual policy into runtime configuration, falling
// back to the defaults for sections left empty, and validates the result.
func (p Policy) Parameters() (Parameters, error) {
	params := DefaultParameters()

	if err := applyAmount(&params.Constraints.DefaultMinimum, p.Constraints.DefaultMinimum, "constraints.DefaultMinimum"); err != nil {
		return Parameters{}, err
	}
	if err := applyAmount(&params.Constraints.GlobalMaximum, p.Constraints.GlobalMaximum, "constraints.GlobalMaximum"); err != nil {
		return Parameters{}, err
	}

	applyBps(&params.Fees.BaseFeeBps, p.Fees.BaseFeeBps)
	applyBps(&params.Fees.MinFeeBps, p.Fees.MinFeeBps)
	applyBps(&params.Fees.MaxFeeBps, p.Fees.MaxFeeBps)
	applyBps(&params.Fees.HighVolatilitySurchargeBps, p.Fees.HighVolatilitySurchargeBps)
	applyBps(&params.Fees.LowVolatilityDiscountBps, p.Fees.LowVolatilityDiscountBps)
	applyCount(&params.Fees.HighVolumeSwapThreshold, p.Fees.HighVolumeSwapThreshold)
	applyBps(&params.Fees.VolumeDiscountBps, p.Fees.VolumeDiscountBps)
	applyBps(&params.Fees.PremiumUnitBps, p.Fees.PremiumUnitBps)
	applyBps(&params.Fees.PremiumCapBps, p.Fees.PremiumCapBps)
	if err := applyAmount(&params.Fees.LargeAmountThreshold, p.Fees.LargeAmountThreshold, "fees.LargeAmountThreshold"); err != nil {
		return Parameters{}, err
	}
	if err := applyAmount(&params.Fees.PremiumStep, p.Fees.PremiumStep, "fees.PremiumStep"); err != nil {
		return Parameters{}, err
	}

	applyBps(&params.Rewards.SwapBonus.RateBps, p.Rewards.SwapBonusBps)
	applyBps(&params.Rewards.FirstTransaction.RateBps, p.Rewards.FirstTxBonusBps)
	applyBps(&params.Rewards.Referral.RateBps, p.Rewards.ReferralBps)
	applyBps(&params.Rewards.StreakPerDayBps, p.Rewards.StreakPerDayBps)
	applyBps(&params.Rewards.StreakRateCapBps, p.Rewards.StreakRateCapBps)
	if err := applyAmount(&params.Rewards.SwapBonus.Cap, p.Rewards.SwapBonusCap, "rewards.SwapBonusCap"); err != nil {
		return Parameters{}, err
	}
	if err := applyAmount(&params.Rewards.FirstTransaction.Cap, p.Rewards.FirstTxBonusCap, "rewards.FirstTxBonusCap"); err != nil {
		return Parameters{}, err
	}
	if err := applyAmount(&params.Rewards.Referral.Cap, p.Rewards.ReferralCap, "rewards.ReferralCap"); err != nil {
		return Parameters{}, err
	}
	if err := applyAmount(&params.Rewards.LoyaltyBonusCap, p.Rewards.LoyaltyBonusCap, "rewards.LoyaltyBonusCap"); err != nil {
		return Parameters{}, err
	}
	if err := applyAmount(&params.Rewards.MerchantCashbackCap, p.Rewards.MerchantCashbackCap, "rewards.MerchantCashbackCap"); err != nil {
		return Parameters{}, err
	}
	if err := applyAmount(&params.Rewards.StreakBonusCap, p.Rewards.StreakBonusCap, "rewards.StreakBonusCap"); err != nil {
		return Parameters{}, err
	}

	if len(p.Tiers) > 0 {
		table := tier.Table{}
		for name, entry := range p.Tiers {
			target, ok := tier.Parse(name)
			if !ok {
				return Parameters{}, fmt.Errorf("config: unknown tier %q", name)
			}
			minSpend := big.NewInt(0)
			if err := applyAmount(&minSpend, entry.MinSpend, "tiers."+name+".MinSpend"); err != nil {
				return Parameters{}, err
			}
			label := strings.TrimSpace(entry.Label)
			if label == "" {
				name := target.String()
				label = strings.ToUpper(name[:1]) + name[1:]
			}
			table[target] = tier.Params{
				MinSpend:       minSpend,
				MinTxCount:     entry.MinTxCount,
				FeeDiscountBps: entry.FeeDiscountBps,
				CashbackBps:    entry.CashbackBps,
				MultiplierBps:  entry.MultiplierBps,
				Label:          label,
			}
		}
		params.Tiers = table
	}

	if err := params.Validate(); err != nil {
		return Parameters{}, err
	}
	return params, nil
}

// Validate checks every stage configuration.
func (p Parameters) Validate() error {
	if err := p.Constraints.Validate(); err != nil {
		return err
	}
	if err := p.Fees.Validate(); err != nil {
		return err
	}
	if err := p.Rewards.Validate(); err != nil {
		return err
	}
	return p.Tiers.Validate()
}

func applyBps(target *uint32, value *uint32) {
	if value != nil {
		*target = *value
	}
}

func applyCount(target *uint64, value *uint64) {
	if value != nil {
		*target = *value
	}
}

func applyAmount(target **big.Int, value, field string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	parsed, err := parseAmount(trimmed)
	if err != nil {
		return fmt.Errorf("config: invalid %s: %w", field, err)
	}
	*target = parsed
	return nil
}

// parseAmount reads a non-negative integer amount, tolerating underscore
// separators.
func parseAmount(value string) (*big.Int, error) {
	normalized := strings.ReplaceAll(strings.TrimSpace(value), "_", "")
	if normalized == "" {
		return big.NewInt(0), nil
	}
	if strings.HasPrefix(normalized, "-") {
		return nil, fmt.Errorf("amount must not be negative")
	}
	amount, ok := new(big.Int).SetString(normalized, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	return amount, nil
}
