package merchants

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
)

var (
	ErrIDRequired     = errors.New("merchants: merchant id required")
	ErrInvalidStatus  = errors.New("merchants: invalid status")
	ErrInvalidHours   = errors.New("merchants: hours must be within 0-23")
	ErrNotFound       = errors.New("merchants: merchant not found")
	ErrNegativeAmount = errors.New("merchants: busy minimum must be non-negative")
)

// Status describes the operating state of a merchant.
type Status string

const (
	StatusOpen   Status = "open"
	StatusBusy   Status = "busy"
	StatusClosed Status = "closed"
)

// Valid reports whether the status is one of the defined values.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusBusy, StatusClosed:
		return true
	}
	return false
}

// ParseStatus resolves a textual status.
func ParseStatus(value string) (Status, error) {
	status := Status(strings.ToLower(strings.TrimSpace(value)))
	if !status.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, value)
	}
	return status, nil
}

// Constraints is the merchant-state record consumed by the constraint
// evaluator. It is owned by the merchant registry; the pipeline reads it and
// never writes it back.
type Constraints struct {
	ID           string
	Name         string
	Status       Status
	BusyMinimum  *big.Int
	AcceptsToken bool
	OpensAtUTC   uint8
	ClosesAtUTC  uint8
	UpdatedAt    time.Time
}

// Clone returns a deep copy of the constraints record.
func (c Constraints) Clone() Constraints {
	clone := c
	if c.BusyMinimum != nil {
		clone.BusyMinimum = new(big.Int).Set(c.BusyMinimum)
	}
	return clone
}

// Normalize trims identifiers and backfills nil amounts.
func (c Constraints) Normalize() Constraints {
	normalized := c.Clone()
	normalized.ID = strings.TrimSpace(c.ID)
	normalized.Name = strings.TrimSpace(c.Name)
	normalized.Status = Status(strings.ToLower(strings.TrimSpace(string(c.Status))))
	if normalized.BusyMinimum == nil {
		normalized.BusyMinimum = big.NewInt(0)
	}
	return normalized
}

// Validate performs static validation before a record enters the registry.
func (c Constraints) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return ErrIDRequired
	}
	if !c.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, c.Status)
	}
	if c.BusyMinimum != nil && c.BusyMinimum.Sign() < 0 {
		return ErrNegativeAmount
	}
	if c.OpensAtUTC > 23 || c.ClosesAtUTC > 23 {
		return ErrInvalidHours
	}
	return nil
}
