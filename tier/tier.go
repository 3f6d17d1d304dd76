package tier

import "strings"

// Tier identifies a loyalty level derived from cumulative spend and
// transaction count. Higher values rank higher.
type Tier uint8

const (
	// TierBronze is the entry tier. Historical data uses both "none" and
	// "bronze" for accounts without accumulated spend; both parse to this
	// single canonical value.
	TierBronze Tier = iota
	TierSilver
	TierGold
	TierPlatinum
)

// String returns the canonical lower-case tier name.
func (t Tier) String() string {
	switch t {
	case TierSilver:
		return "silver"
	case TierGold:
		return "gold"
	case TierPlatinum:
		return "platinum"
	default:
		return "bronze"
	}
}

// Valid reports whether the tier is one of the defined values.
func (t Tier) Valid() bool {
	return t <= TierPlatinum
}

// Parse resolves a textual tier name. The legacy "none" alias resolves to
// bronze.
func Parse(value string) (Tier, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "none", "bronze":
		return TierBronze, true
	case "silver":
		return TierSilver, true
	case "gold":
		return TierGold, true
	case "platinum":
		return TierPlatinum, true
	default:
		return TierBronze, false
	}
}

// All enumerates the defined tiers from lowest to highest rank.
func All() []Tier {
	return []Tier{TierBronze, TierSilver, TierGold, TierPlatinum}
}
