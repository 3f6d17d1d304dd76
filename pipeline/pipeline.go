package pipeline

import (
	"errors"
	"math/big"
	"time"

	"tabpay/constraints"
	"tabpay/fees"
	"tabpay/loyalty"
	"tabpay/market"
	"tabpay/merchants"
	"tabpay/settlement"
)

// BlockedByConstraints names the only stage that can block a transaction.
// Once constraints pass, pricing and settlement are total functions over
// well-formed inputs.
const BlockedByConstraints = "constraints"

var ErrNotConfigured = errors.New("pipeline: stages not configured")

// Input is one transaction to run through the three stages. Merchant and
// Market are already-resolved values; fetching them, with whatever timeout or
// fallback policy applies, is the caller's concern.
type Input struct {
	Account          string
	Amount           *big.Int
	Merchant         *merchants.Constraints
	Market           market.Snapshot
	Profile          loyalty.Profile
	TokenRate        *big.Rat
	FirstTransaction bool
	ReferrerID       string

	// Defaults are returned in place of the pricing and settlement results
	// when the transaction is blocked, so the caller always receives a
	// well-formed Result without partial computation.
	FeeDefault        fees.Result
	SettlementDefault settlement.Result
}

// Result aggregates the three stage results. On a block, BlockedBy names the
// stage and Reason carries the constraint reason verbatim.
type Result struct {
	Success      bool
	BlockedBy    string
	Reason       string
	Constraints  constraints.CheckResult
	Fees         fees.Result
	Settlement   settlement.Result
	TotalLatency time.Duration
}

// Pipeline sequences the constraint, pricing, and settlement stages.
type Pipeline struct {
	evaluator  *constraints.Evaluator
	calculator *fees.Calculator
	engine     *settlement.Engine
}

// New constructs a pipeline from the three stage implementations.
func New(evaluator *constraints.Evaluator, calculator *fees.Calculator, engine *settlement.Engine) (*Pipeline, error) {
	if evaluator == nil || calculator == nil || engine == nil {
		return nil, ErrNotConfigured
	}
	return &Pipeline{evaluator: evaluator, calculator: calculator, engine: engine}, nil
}

// Run evaluates the transaction. Stage one blocking short-circuits stages two
// and three; otherwise both run independently (settlement does not consume
// the fee result) and the total latency is the sum of the stage latencies.
func (p *Pipeline) Run(input Input) (Result, error) {
	check, err := p.evaluator.Evaluate(input.Amount, input.Merchant)
	if err != nil {
		return Result{}, err
	}
	if !check.Allowed {
		return Result{
			BlockedBy:    BlockedByConstraints,
			Reason:       check.Reason,
			Constraints:  check,
			Fees:         input.FeeDefault,
			Settlement:   input.SettlementDefault,
			TotalLatency: check.Latency,
		}, nil
	}

	feeResult, err := p.calculator.Calculate(input.Amount, input.Market, input.Profile)
	if err != nil {
		return Result{}, err
	}

	merchantID := ""
	if input.Merchant != nil {
		merchantID = input.Merchant.ID
	}
	settleResult, err := p.engine.Settle(settlement.Input{
		Account:          input.Account,
		Amount:           input.Amount,
		Profile:          input.Profile,
		TokenRate:        input.TokenRate,
		FirstTransaction: input.FirstTransaction,
		MerchantID:       merchantID,
		ReferrerID:       input.ReferrerID,
	})
	if err != nil {
		return Result{}, err
	}

	return Result{
		Success:      true,
		Constraints:  check,
		Fees:         feeResult,
		Settlement:   settleResult,
		TotalLatency: check.Latency + feeResult.Latency + settleResult.Latency,
	}, nil
}
