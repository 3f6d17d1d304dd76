package settlement

import (
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"tabpay/loyalty"
	"tabpay/tier"
)

func testRewardConfig() Config {
	return Config{
		SwapBonus:           RewardParams{RateBps: 100, Cap: big.NewInt(50_000)},
		FirstTransaction:    RewardParams{RateBps: 500, Cap: big.NewInt(100_000)},
		Referral:            RewardParams{RateBps: 50, Cap: big.NewInt(25_000)},
		LoyaltyBonusCap:     big.NewInt(50_000),
		MerchantCashbackCap: big.NewInt(50_000),
		StreakPerDayBps:     10,
		StreakRateCapBps:    100,
		StreakBonusCap:      big.NewInt(25_000),
	}
}

func newTestEngine(cfg Config) *Engine {
	engine := NewEngine(cfg, tier.DefaultTable())
	engine.SetClock(func() time.Time { return time.Unix(1_700_000_000, 0) })
	seq := 0
	engine.SetIDSource(func() string {
		seq++
		return fmt.Sprintf("reward-%d", seq)
	})
	return engine
}

func rate() *big.Rat { return big.NewRat(1000, 1) }

func findItem(t *testing.T, items []LineItem, kind RewardType) LineItem {
	t.Helper()
	for _, item := range items {
		if item.Type == kind {
			return item
		}
	}
	t.Fatalf("no %s line item in %v", kind, items)
	return LineItem{}
}

func hasItem(items []LineItem, kind RewardType) bool {
	for _, item := range items {
		if item.Type == kind {
			return true
		}
	}
	return false
}

func TestSettleInputErrors(t *testing.T) {
	engine := newTestEngine(testRewardConfig())
	profile := loyalty.Profile{Account: "acct", SpendTotal: big.NewInt(0)}

	cases := []struct {
		name  string
		input Input
		want  error
	}{
		{"missing account", Input{Amount: big.NewInt(1), TokenRate: rate()}, ErrAccountRequired},
		{"nil amount", Input{Account: "acct", Profile: profile, TokenRate: rate()}, ErrNilAmount},
		{"negative amount", Input{Account: "acct", Amount: big.NewInt(-1), Profile: profile, TokenRate: rate()}, ErrNegativeAmount},
		{"nil token rate", Input{Account: "acct", Amount: big.NewInt(1), Profile: profile}, ErrNilTokenRate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := engine.Settle(tc.input); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestSettleFirstTransaction(t *testing.T) {
	engine := newTestEngine(testRewardConfig())
	result, err := engine.Settle(Input{
		Account:          "acct-1",
		Amount:           big.NewInt(50),
		Profile:          loyalty.NewProfile("acct-1", time.Unix(1_700_000_000, 0)),
		TokenRate:        rate(),
		FirstTransaction: true,
	})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}

	swap := findItem(t, result.Items, RewardSwapBonus)
	if swap.Amount.Int64() != 500 {
		t.Fatalf("swap bonus = %s, want 500", swap.Amount)
	}
	first := findItem(t, result.Items, RewardFirstTransaction)
	if first.Amount.Int64() != 2_500 {
		t.Fatalf("first transaction bonus = %s, want 2500", first.Amount)
	}
	if hasItem(result.Items, RewardLoyaltyBonus) {
		t.Fatalf("bronze profile must not earn a loyalty bonus")
	}
	if result.TotalReward.Int64() != 3_000 {
		t.Fatalf("total reward = %s, want 3000", result.TotalReward)
	}
}

func TestSettleGoldEarnsIncrementalLoyaltyBonus(t *testing.T) {
	engine := newTestEngine(testRewardConfig())
	result, err := engine.Settle(Input{
		Account:   "acct-1",
		Amount:    big.NewInt(50),
		Profile:   loyalty.Profile{Account: "acct-1", Tier: tier.TierGold, SpendTotal: big.NewInt(600), TxCount: 25},
		TokenRate: rate(),
	})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}

	// Gold multiplies 1.5x: only the 0.5x increment over the base swap bonus
	// is paid as a separate line item.
	bonus := findItem(t, result.Items, RewardLoyaltyBonus)
	if bonus.Amount.Int64() != 250 {
		t.Fatalf("loyalty bonus = %s, want 250", bonus.Amount)
	}
	if result.TotalReward.Int64() != 750 {
		t.Fatalf("total reward = %s, want 750", result.TotalReward)
	}
}

func TestSettleLoyaltyBonusUsesUncappedSwapAmount(t *testing.T) {
	cfg := testRewardConfig()
	cfg.SwapBonus.Cap = big.NewInt(100)
	engine := newTestEngine(cfg)

	result, err := engine.Settle(Input{
		Account:   "acct-1",
		Amount:    big.NewInt(50),
		Profile:   loyalty.Profile{Account: "acct-1", Tier: tier.TierGold, SpendTotal: big.NewInt(600), TxCount: 25},
		TokenRate: rate(),
	})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}

	swap := findItem(t, result.Items, RewardSwapBonus)
	if swap.Amount.Int64() != 100 {
		t.Fatalf("swap bonus = %s, want capped 100", swap.Amount)
	}
	bonus := findItem(t, result.Items, RewardLoyaltyBonus)
	if bonus.Amount.Int64() != 250 {
		t.Fatalf("loyalty bonus = %s, want 250 from the uncapped swap amount", bonus.Amount)
	}
}

func TestSettleStreakRateCap(t *testing.T) {
	engine := newTestEngine(testRewardConfig())

	t.Run("below cap", func(t *testing.T) {
		result, err := engine.Settle(Input{
			Account:   "acct-1",
			Amount:    big.NewInt(50),
			Profile:   loyalty.Profile{Account: "acct-1", SpendTotal: big.NewInt(10), StreakDays: 5},
			TokenRate: rate(),
		})
		if err != nil {
			t.Fatalf("settle: %v", err)
		}
		streak := findItem(t, result.Items, RewardStreakBonus)
		if streak.RateBps != 50 || streak.Amount.Int64() != 250 {
			t.Fatalf("streak = rate %d amount %s, want rate 50 amount 250", streak.RateBps, streak.Amount)
		}
	})

	t.Run("rate capped before the amount", func(t *testing.T) {
		result, err := engine.Settle(Input{
			Account:   "acct-1",
			Amount:    big.NewInt(50),
			Profile:   loyalty.Profile{Account: "acct-1", SpendTotal: big.NewInt(10), StreakDays: 30},
			TokenRate: rate(),
		})
		if err != nil {
			t.Fatalf("settle: %v", err)
		}
		streak := findItem(t, result.Items, RewardStreakBonus)
		if streak.RateBps != 100 || streak.Amount.Int64() != 500 {
			t.Fatalf("streak = rate %d amount %s, want rate 100 amount 500", streak.RateBps, streak.Amount)
		}
	})
}

func TestSettleRecipientAttribution(t *testing.T) {
	engine := newTestEngine(testRewardConfig())
	result, err := engine.Settle(Input{
		Account:    "acct-1",
		Amount:     big.NewInt(50),
		Profile:    loyalty.Profile{Account: "acct-1", Tier: tier.TierGold, SpendTotal: big.NewInt(600), TxCount: 25},
		TokenRate:  rate(),
		MerchantID: "bistro-1",
		ReferrerID: "acct-2",
	})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}

	cashback := findItem(t, result.Items, RewardMerchantCashback)
	if cashback.Recipient != "bistro-1" {
		t.Fatalf("cashback recipient = %q, want the merchant", cashback.Recipient)
	}
	// Gold cashback is 200 bps of the converted amount.
	if cashback.Amount.Int64() != 1_000 {
		t.Fatalf("cashback = %s, want 1000", cashback.Amount)
	}
	referral := findItem(t, result.Items, RewardReferral)
	if referral.Recipient != "acct-2" {
		t.Fatalf("referral recipient = %q, want the referrer", referral.Recipient)
	}

	// Only rewards paid to the payer count toward the total.
	if result.TotalReward.Int64() != 750 {
		t.Fatalf("total reward = %s, want 750", result.TotalReward)
	}
}

func TestSettlePromotesAtBoundary(t *testing.T) {
	engine := newTestEngine(testRewardConfig())
	before := loyalty.Profile{Account: "acct-1", Tier: tier.TierBronze, SpendTotal: big.NewInt(150), TxCount: 4}

	result, err := engine.Settle(Input{
		Account:   "acct-1",
		Amount:    big.NewInt(50),
		Profile:   before,
		TokenRate: rate(),
	})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}

	if result.Profile.SpendTotal.Int64() != 200 || result.Profile.TxCount != 5 {
		t.Fatalf("updated profile = spend %s count %d, want 200/5", result.Profile.SpendTotal, result.Profile.TxCount)
	}
	if result.Profile.Tier != tier.TierSilver {
		t.Fatalf("expected promotion to silver at the inclusive boundary, got %s", result.Profile.Tier)
	}
	if before.SpendTotal.Int64() != 150 || before.Tier != tier.TierBronze {
		t.Fatalf("input profile was mutated: %+v", before)
	}
}

func TestSettleZeroAmount(t *testing.T) {
	engine := newTestEngine(testRewardConfig())
	result, err := engine.Settle(Input{
		Account:          "acct-1",
		Amount:           big.NewInt(0),
		Profile:          loyalty.Profile{Account: "acct-1", SpendTotal: big.NewInt(0), StreakDays: 3},
		TokenRate:        rate(),
		FirstTransaction: true,
		MerchantID:       "bistro-1",
	})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if len(result.Items) != 0 {
		t.Fatalf("zero amount must emit no line items, got %v", result.Items)
	}
	if result.TotalReward.Sign() != 0 {
		t.Fatalf("total reward = %s, want 0", result.TotalReward)
	}
	if result.Profile.TxCount != 1 {
		t.Fatalf("transaction count should still advance, got %d", result.Profile.TxCount)
	}
}

func TestSettleDeterministicIDs(t *testing.T) {
	engine := newTestEngine(testRewardConfig())
	result, err := engine.Settle(Input{
		Account:   "acct-1",
		Amount:    big.NewInt(50),
		Profile:   loyalty.Profile{Account: "acct-1", SpendTotal: big.NewInt(0)},
		TokenRate: rate(),
	})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if len(result.Items) != 1 || result.Items[0].ID != "reward-1" {
		t.Fatalf("unexpected items %v", result.Items)
	}
	if result.Items[0].Status != LineStatusPending {
		t.Fatalf("new line items must start pending, got %s", result.Items[0].Status)
	}
}

func TestConfigValidateRejectsExcessiveRates(t *testing.T) {
	cfg := testRewardConfig()
	cfg.SwapBonus.RateBps = 10_001
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestParseRewardType(t *testing.T) {
	for _, kind := range RewardTypes() {
		parsed, err := ParseRewardType(string(kind))
		if err != nil || parsed != kind {
			t.Fatalf("ParseRewardType(%q) = %v, %v", kind, parsed, err)
		}
	}
	if _, err := ParseRewardType("jackpot"); err == nil {
		t.Fatalf("expected error for unknown reward type")
	}
}
