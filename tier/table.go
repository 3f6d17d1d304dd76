package tier

import (
	"fmt"
	"math/big"
)

// MultiplierDenominator scales reward multipliers: 10_000 represents 1.0x.
const MultiplierDenominator = 10_000

// Params captures the economics attached to a single tier.
type Params struct {
	MinSpend       *big.Int
	MinTxCount     uint64
	FeeDiscountBps int32
	CashbackBps    uint32
	MultiplierBps  uint32
	Label          string
}

// Clone returns a deep copy of the params.
func (p Params) Clone() Params {
	clone := p
	if p.MinSpend != nil {
		clone.MinSpend = new(big.Int).Set(p.MinSpend)
	}
	return clone
}

// Table maps each tier to its configured parameters.
type Table map[Tier]Params

// DefaultTable returns the stock tier ladder used when no policy file
// overrides it. Amounts are in the smallest token denomination.
func DefaultTable() Table {
	return Table{
		TierBronze: {
			MinSpend:       big.NewInt(0),
			MinTxCount:     0,
			FeeDiscountBps: 0,
			CashbackBps:    100,
			MultiplierBps:  10_000,
			Label:          "Bronze",
		},
		TierSilver: {
			MinSpend:       big.NewInt(200),
			MinTxCount:     5,
			FeeDiscountBps: -5,
			CashbackBps:    150,
			MultiplierBps:  12_000,
			Label:          "Silver",
		},
		TierGold: {
			MinSpend:       big.NewInt(500),
			MinTxCount:     20,
			FeeDiscountBps: -10,
			CashbackBps:    200,
			MultiplierBps:  15_000,
			Label:          "Gold",
		},
		TierPlatinum: {
			MinSpend:       big.NewInt(1000),
			MinTxCount:     50,
			FeeDiscountBps: -15,
			CashbackBps:    300,
			MultiplierBps:  20_000,
			Label:          "Platinum",
		},
	}
}

// Clone returns a deep copy of the table.
func (t Table) Clone() Table {
	clone := make(Table, len(t))
	for tier, params := range t {
		clone[tier] = params.Clone()
	}
	return clone
}

// Params resolves the parameters for the supplied tier, falling back to the
// bronze entry when the tier is unknown.
func (t Table) Params(target Tier) Params {
	if params, ok := t[target]; ok {
		return params
	}
	return t[TierBronze]
}

// Validate ensures the ladder is complete and thresholds increase
// monotonically with rank. Derivation relies on this ordering.
func (t Table) Validate() error {
	if len(t) == 0 {
		return fmt.Errorf("tier: empty table")
	}
	tiers := All()
	for _, target := range tiers {
		params, ok := t[target]
		if !ok {
			return fmt.Errorf("tier: missing params for %s", target)
		}
		if params.MinSpend == nil || params.MinSpend.Sign() < 0 {
			return fmt.Errorf("tier: %s min spend must be non-negative", target)
		}
		if params.FeeDiscountBps > 0 {
			return fmt.Errorf("tier: %s fee discount must be stored as a non-positive adjustment", target)
		}
		if params.MultiplierBps < MultiplierDenominator {
			return fmt.Errorf("tier: %s multiplier must be at least 1.0x", target)
		}
		if params.CashbackBps > MultiplierDenominator {
			return fmt.Errorf("tier: %s cashback must not exceed 10_000 bps", target)
		}
	}
	for i := 1; i < len(tiers); i++ {
		lower := t[tiers[i-1]]
		upper := t[tiers[i]]
		if upper.MinSpend.Cmp(lower.MinSpend) < 0 {
			return fmt.Errorf("tier: %s spend threshold below %s", tiers[i], tiers[i-1])
		}
		if upper.MinTxCount < lower.MinTxCount {
			return fmt.Errorf("tier: %s count threshold below %s", tiers[i], tiers[i-1])
		}
	}
	return nil
}

// Derive resolves the highest tier whose spend and transaction-count
// thresholds are both satisfied. Boundaries are inclusive. The function is
// total: it falls back to bronze when nothing higher matches.
func (t Table) Derive(cumulativeSpend *big.Int, txCount uint64) Tier {
	spend := cumulativeSpend
	if spend == nil {
		spend = big.NewInt(0)
	}
	tiers := All()
	for i := len(tiers) - 1; i >= 0; i-- {
		params, ok := t[tiers[i]]
		if !ok {
			continue
		}
		minSpend := params.MinSpend
		if minSpend == nil {
			minSpend = big.NewInt(0)
		}
		if spend.Cmp(minSpend) >= 0 && txCount >= params.MinTxCount {
			return tiers[i]
		}
	}
	return TierBronze
}
