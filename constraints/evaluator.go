package constraints

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"tabpay/merchants"
)

var (
	ErrNilAmount      = errors.New("constraints: amount must be set")
	ErrNegativeAmount = errors.New("constraints: amount must not be negative")
	ErrInvalidConfig  = errors.New("constraints: invalid config")
)

// Config carries the process-wide transaction bounds applied when no merchant
// context is supplied, plus the global ceiling that binds regardless of
// merchant state.
type Config struct {
	DefaultMinimum *big.Int
	GlobalMaximum  *big.Int
}

// Normalize backfills nil bounds with zero values.
func (c Config) Normalize() Config {
	normalized := c
	if normalized.DefaultMinimum == nil {
		normalized.DefaultMinimum = big.NewInt(0)
	}
	if normalized.GlobalMaximum == nil {
		normalized.GlobalMaximum = big.NewInt(0)
	}
	return normalized
}

// Validate ensures the bounds are coherent.
func (c Config) Validate() error {
	cfg := c.Normalize()
	if cfg.DefaultMinimum.Sign() < 0 || cfg.GlobalMaximum.Sign() < 0 {
		return fmt.Errorf("%w: bounds must be non-negative", ErrInvalidConfig)
	}
	if cfg.GlobalMaximum.Sign() > 0 && cfg.DefaultMinimum.Cmp(cfg.GlobalMaximum) > 0 {
		return fmt.Errorf("%w: default minimum exceeds global maximum", ErrInvalidConfig)
	}
	return nil
}

// CheckResult is the stage-one decision. Blocked is a first-class outcome,
// not an error: callers branch on Allowed.
type CheckResult struct {
	Allowed   bool
	Reason    string
	Status    merchants.Status
	MinAmount *big.Int
	MaxAmount *big.Int
	Latency   time.Duration
}

// Evaluator approves or blocks a transaction against merchant-state rules.
// It is a pure function of its inputs; the clock feeds latency reporting only
// and never influences the decision.
type Evaluator struct {
	cfg   Config
	clock func() time.Time
}

// NewEvaluator constructs an evaluator over the supplied bounds.
func NewEvaluator(cfg Config) *Evaluator {
	return &Evaluator{cfg: cfg.Normalize(), clock: time.Now}
}

// SetClock overrides the time source for deterministic latency in tests.
func (e *Evaluator) SetClock(clock func() time.Time) {
	if e == nil || clock == nil {
		return
	}
	e.clock = clock
}

// Evaluate decides whether the amount may proceed against the supplied
// merchant state. A nil merchant applies the process-wide default bounds.
func (e *Evaluator) Evaluate(amount *big.Int, merchant *merchants.Constraints) (CheckResult, error) {
	started := e.clock()
	if amount == nil {
		return CheckResult{}, ErrNilAmount
	}
	if amount.Sign() < 0 {
		return CheckResult{}, ErrNegativeAmount
	}

	result := e.decide(amount, merchant)
	result.Latency = e.clock().Sub(started)
	return result, nil
}

func (e *Evaluator) decide(amount *big.Int, merchant *merchants.Constraints) CheckResult {
	maximum := new(big.Int).Set(e.cfg.GlobalMaximum)

	if merchant == nil {
		minimum := new(big.Int).Set(e.cfg.DefaultMinimum)
		if amount.Cmp(minimum) < 0 {
			return blocked(fmt.Sprintf("amount below default minimum of %s", minimum), merchants.StatusOpen, minimum, maximum)
		}
		if maximum.Sign() > 0 && amount.Cmp(maximum) > 0 {
			return blocked(fmt.Sprintf("amount exceeds maximum of %s", maximum), merchants.StatusOpen, minimum, maximum)
		}
		return allowed("amount within default bounds", merchants.StatusOpen, minimum, maximum)
	}

	normalized := merchant.Normalize()
	if normalized.Status == merchants.StatusClosed {
		return blocked(fmt.Sprintf("%s is closed", merchantName(normalized)), normalized.Status, big.NewInt(0), big.NewInt(0))
	}
	if !normalized.AcceptsToken {
		return blocked(fmt.Sprintf("%s does not accept token payments", merchantName(normalized)), normalized.Status, big.NewInt(0), big.NewInt(0))
	}

	minimum := new(big.Int).Set(e.cfg.DefaultMinimum)
	if normalized.Status == merchants.StatusBusy {
		minimum = new(big.Int).Set(normalized.BusyMinimum)
		if amount.Cmp(minimum) < 0 {
			return blocked(fmt.Sprintf("%s is busy, minimum order is %s", merchantName(normalized), minimum), normalized.Status, minimum, maximum)
		}
	} else if amount.Cmp(minimum) < 0 {
		return blocked(fmt.Sprintf("amount below minimum of %s", minimum), normalized.Status, minimum, maximum)
	}
	if maximum.Sign() > 0 && amount.Cmp(maximum) > 0 {
		return blocked(fmt.Sprintf("amount exceeds maximum of %s", maximum), normalized.Status, minimum, maximum)
	}
	return allowed(fmt.Sprintf("%s (%s) accepts the payment", merchantName(normalized), normalized.Status), normalized.Status, minimum, maximum)
}

func merchantName(m merchants.Constraints) string {
	if m.Name != "" {
		return m.Name
	}
	return m.ID
}

func blocked(reason string, status merchants.Status, minimum, maximum *big.Int) CheckResult {
	return CheckResult{Reason: reason, Status: status, MinAmount: minimum, MaxAmount: maximum}
}

func allowed(reason string, status merchants.Status, minimum, maximum *big.Int) CheckResult {
	return CheckResult{Allowed: true, Reason: reason, Status: status, MinAmount: minimum, MaxAmount: maximum}
}
