package bridge

import (
	"fmt"

	"github.com/shopspring/decimal"

	domainerrors "github.com/rail-service/bridge_core/internal/domain/errors"
	"github.com/rail-service/bridge_core/internal/domain/entities"
)

var bpsDenominator = decimal.NewFromInt(10000)

// FeeSchedule is the public fee schedule applied to every transfer
type FeeSchedule struct {
	BaseFee       decimal.Decimal
	PercentageBps int64
	MinFee        decimal.Decimal
	MaxFee        decimal.Decimal
	// Precision is the number of decimal places the percentage fee is floored to
	Precision int32
}

// Validate rejects schedules that cannot produce a sane fee
func (s FeeSchedule) Validate() error {
	if s.BaseFee.IsNegative() || s.MinFee.IsNegative() || s.MaxFee.IsNegative() {
		return fmt.Errorf("fee schedule: fees must be non-negative")
	}
	if s.PercentageBps < 0 || s.PercentageBps > 10000 {
		return fmt.Errorf("fee schedule: percentage bps %d out of range", s.PercentageBps)
	}
	if s.MinFee.GreaterThan(s.MaxFee) {
		return fmt.Errorf("fee schedule: min fee %s exceeds max fee %s", s.MinFee, s.MaxFee)
	}
	if s.Precision < 0 {
		return fmt.Errorf("fee schedule: precision must be >= 0")
	}
	return nil
}

// ComputeFee derives the fee and net deliverable amount. It is pure so any
// auditor holding the schedule can reproduce the result.
func ComputeFee(amount decimal.Decimal, schedule FeeSchedule) (entities.FeeBreakdown, error) {
	if !amount.IsPositive() {
		return entities.FeeBreakdown{}, domainerrors.InvalidAmountError(amount.String(), "amount must be greater than zero")
	}

	percentageFee := amount.
		Mul(decimal.NewFromInt(schedule.PercentageBps)).
		Div(bpsDenominator).
		RoundFloor(schedule.Precision)

	totalFee := schedule.BaseFee.Add(percentageFee)
	if totalFee.LessThan(schedule.MinFee) {
		totalFee = schedule.MinFee
	}
	if totalFee.GreaterThan(schedule.MaxFee) {
		totalFee = schedule.MaxFee
	}

	netAmount := amount.Sub(totalFee)
	if !netAmount.IsPositive() {
		return entities.FeeBreakdown{}, domainerrors.InvalidAmountError(amount.String(), "fee exceeds the amount transferred")
	}

	return entities.FeeBreakdown{
		BaseFee:       schedule.BaseFee,
		PercentageFee: percentageFee,
		TotalFee:      totalFee,
		NetAmount:     netAmount,
	}, nil
}
