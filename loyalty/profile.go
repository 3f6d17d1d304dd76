package loyalty

import (
	"errors"
	"math/big"
	"strings"
	"time"

	"tabpay/tier"
)

var (
	ErrAccountRequired = errors.New("loyalty: account id required")
	ErrInvalidTier     = errors.New("loyalty: invalid tier")
)

// Profile tracks the loyalty standing of a single account. Profiles are value
// objects: the settlement engine returns an updated copy and never mutates the
// caller's instance.
type Profile struct {
	Account    string
	Tier       tier.Tier
	SpendTotal *big.Int
	TxCount    uint64
	StreakDays uint32
	JoinedAt   time.Time
}

// NewProfile returns the zeroed profile created on an account's first
// transaction.
func NewProfile(account string, now time.Time) Profile {
	return Profile{
		Account:    strings.TrimSpace(account),
		Tier:       tier.TierBronze,
		SpendTotal: big.NewInt(0),
		JoinedAt:   now.UTC(),
	}
}

// Clone returns a deep copy of the profile.
func (p Profile) Clone() Profile {
	clone := p
	if p.SpendTotal != nil {
		clone.SpendTotal = new(big.Int).Set(p.SpendTotal)
	}
	return clone
}

// Normalize ensures pointer fields are non-nil and returns the updated copy.
func (p Profile) Normalize() Profile {
	normalized := p.Clone()
	normalized.Account = strings.TrimSpace(p.Account)
	if normalized.SpendTotal == nil {
		normalized.SpendTotal = big.NewInt(0)
	}
	if normalized.SpendTotal.Sign() < 0 {
		normalized.SpendTotal = big.NewInt(0)
	}
	return normalized
}

// Validate reports structural problems that indicate a caller bug rather than
// a business outcome.
func (p Profile) Validate() error {
	if strings.TrimSpace(p.Account) == "" {
		return ErrAccountRequired
	}
	if !p.Tier.Valid() {
		return ErrInvalidTier
	}
	return nil
}
