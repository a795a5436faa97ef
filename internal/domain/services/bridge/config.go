package bridge

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rail-service/bridge_core/internal/domain/entities"
	"github.com/rail-service/bridge_core/pkg/retry"
)

// Route maps a direction onto its source and destination chains
type Route struct {
	SourceChain      string
	DestinationChain string
}

// Config is the explicit bridge configuration handed to the orchestrator
type Config struct {
	FeeSchedule FeeSchedule
	MinAmount   decimal.Decimal
	MaxAmount   decimal.Decimal

	Chains     map[string]entities.ChainConfig
	Directions map[entities.Direction]Route

	// TransactionTimeout bounds every suspension of a non-terminal transfer
	TransactionTimeout time.Duration
	// ValidationEstimate is the expected attestation time used in completion estimates
	ValidationEstimate time.Duration

	RetryPolicy       retry.Policy
	MaxRefundAttempts int
	RefundPolicy      entities.RefundPolicy
	AutoRefund        bool
	// AwaitConfirmations starts background watchers on submitted transactions
	AwaitConfirmations bool
}

// Validate checks internal consistency of the configuration
func (c Config) Validate() error {
	if err := c.FeeSchedule.Validate(); err != nil {
		return err
	}
	if !c.MinAmount.IsPositive() {
		return fmt.Errorf("bridge config: min amount must be positive")
	}
	if c.MaxAmount.LessThan(c.MinAmount) {
		return fmt.Errorf("bridge config: max amount %s below min amount %s", c.MaxAmount, c.MinAmount)
	}
	if len(c.Directions) == 0 {
		return fmt.Errorf("bridge config: no directions configured")
	}
	for dir, route := range c.Directions {
		if route.SourceChain == route.DestinationChain {
			return fmt.Errorf("bridge config: direction %s routes a chain to itself", dir)
		}
		for _, id := range []string{route.SourceChain, route.DestinationChain} {
			if _, ok := c.Chains[id]; !ok {
				return fmt.Errorf("bridge config: direction %s references unknown chain %q", dir, id)
			}
		}
	}
	if c.TransactionTimeout <= 0 {
		return fmt.Errorf("bridge config: transaction timeout must be positive")
	}
	if c.MaxRefundAttempts < 1 {
		return fmt.Errorf("bridge config: max refund attempts must be >= 1")
	}
	switch c.RefundPolicy {
	case entities.RefundPolicyFull, entities.RefundPolicyRetainFee:
	default:
		return fmt.Errorf("bridge config: unknown refund policy %q", c.RefundPolicy)
	}
	return c.RetryPolicy.Validate()
}

// refundAmount applies the refund policy to a transfer
func (c Config) refundAmount(t *entities.BridgeTransfer) decimal.Decimal {
	if c.RefundPolicy == entities.RefundPolicyRetainFee {
		return t.NetAmount
	}
	return t.Amount
}
