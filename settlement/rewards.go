package settlement

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"tabpay/tier"
)

// RewardType is the closed set of reward line-item kinds. Each carries its own
// base rate and cap in config; adding a kind means adding a variant here, not
// a key in a runtime map.
type RewardType string

const (
	RewardSwapBonus        RewardType = "swap_bonus"
	RewardLoyaltyBonus     RewardType = "loyalty_bonus"
	RewardStreakBonus      RewardType = "streak_bonus"
	RewardMerchantCashback RewardType = "merchant_cashback"
	RewardReferral         RewardType = "referral_reward"
	RewardFirstTransaction RewardType = "first_transaction_bonus"
)

// RewardTypes enumerates the defined kinds in settlement order.
func RewardTypes() []RewardType {
	return []RewardType{
		RewardSwapBonus,
		RewardLoyaltyBonus,
		RewardStreakBonus,
		RewardFirstTransaction,
		RewardMerchantCashback,
		RewardReferral,
	}
}

// Valid reports whether the reward type is one of the defined values.
func (r RewardType) Valid() bool {
	switch r {
	case RewardSwapBonus, RewardLoyaltyBonus, RewardStreakBonus,
		RewardMerchantCashback, RewardReferral, RewardFirstTransaction:
		return true
	}
	return false
}

// ParseRewardType resolves a textual reward type.
func ParseRewardType(value string) (RewardType, error) {
	parsed := RewardType(strings.ToLower(strings.TrimSpace(value)))
	if !parsed.Valid() {
		return "", fmt.Errorf("settlement: unknown reward type %q", value)
	}
	return parsed, nil
}

// LineStatus tracks the lifecycle of a reward line item. The engine only ever
// emits Pending; reconciliation against real token settlement flips the
// status downstream.
type LineStatus string

const (
	LineStatusPending LineStatus = "pending"
	LineStatusSettled LineStatus = "settled"
	LineStatusFailed  LineStatus = "failed"
)

// LineItem is one capped reward entry. Recipient names who the reward is
// attributed to: the payer for most kinds, the merchant for cashback, and the
// referrer for referral rewards. Payer aggregations must filter on Recipient.
type LineItem struct {
	ID          string
	Type        RewardType
	Recipient   string
	Amount      *big.Int
	TxAmount    *big.Int
	RateBps     uint32
	Tier        tier.Tier
	Description string
	Status      LineStatus
	CreatedAt   time.Time
}

// Clone returns a deep copy of the line item.
func (l LineItem) Clone() LineItem {
	clone := l
	if l.Amount != nil {
		clone.Amount = new(big.Int).Set(l.Amount)
	}
	if l.TxAmount != nil {
		clone.TxAmount = new(big.Int).Set(l.TxAmount)
	}
	return clone
}
