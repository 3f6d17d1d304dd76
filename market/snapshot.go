package market

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
)

var (
	ErrInvalidVolatility = errors.New("market: invalid volatility level")
	ErrNoPrice           = errors.New("market: reference price unavailable")
)

// Volatility buckets the observed market volatility into the coarse levels
// consumed by the fee calculator.
type Volatility string

const (
	VolatilityLow    Volatility = "low"
	VolatilityMedium Volatility = "medium"
	VolatilityHigh   Volatility = "high"
)

// Valid reports whether the level is one of the defined values.
func (v Volatility) Valid() bool {
	switch v {
	case VolatilityLow, VolatilityMedium, VolatilityHigh:
		return true
	}
	return false
}

// ParseVolatility resolves a textual volatility level.
func ParseVolatility(value string) (Volatility, error) {
	level := Volatility(strings.ToLower(strings.TrimSpace(value)))
	if !level.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidVolatility, value)
	}
	return level, nil
}

// Snapshot is a point-in-time read of the market signals consumed by the
// pricing stage. Snapshots are immutable values created per evaluation; the
// pipeline depends only on this shape, never on how it was produced.
type Snapshot struct {
	Volatility     Volatility
	Volume24h      *big.Int
	ReferencePrice *big.Rat
	PriceChange1h  *big.Rat
	SwapsLastHour  uint64
	Timestamp      time.Time
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	clone := s
	if s.Volume24h != nil {
		clone.Volume24h = new(big.Int).Set(s.Volume24h)
	}
	if s.ReferencePrice != nil {
		clone.ReferencePrice = new(big.Rat).Set(s.ReferencePrice)
	}
	if s.PriceChange1h != nil {
		clone.PriceChange1h = new(big.Rat).Set(s.PriceChange1h)
	}
	return clone
}

// Normalize backfills nil numeric fields and defaults the volatility level to
// medium so a zero-value snapshot is a safe fallback input.
func (s Snapshot) Normalize() Snapshot {
	normalized := s.Clone()
	if !normalized.Volatility.Valid() {
		normalized.Volatility = VolatilityMedium
	}
	if normalized.Volume24h == nil {
		normalized.Volume24h = big.NewInt(0)
	}
	if normalized.ReferencePrice == nil {
		normalized.ReferencePrice = new(big.Rat)
	}
	if normalized.PriceChange1h == nil {
		normalized.PriceChange1h = new(big.Rat)
	}
	return normalized
}

// Provider supplies market snapshots. Implementations may perform I/O; the
// pipeline itself only ever sees the resolved Snapshot value, so timeout and
// fallback policy stays with the caller.
type Provider interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}
