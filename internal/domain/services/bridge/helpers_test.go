package bridge

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rail-service/bridge_core/internal/domain/entities"
	"github.com/rail-service/bridge_core/internal/infrastructure/repositories"
	"github.com/rail-service/bridge_core/pkg/crypto"
	"github.com/rail-service/bridge_core/pkg/retry"
)

const (
	solToEth entities.Direction = "SOLANA_TO_ETHEREUM"
	ethToSol entities.Direction = "ETHEREUM_TO_SOLANA"
)

// MockChainAdapter is a mock implementation of ChainAdapter
type MockChainAdapter struct {
	mock.Mock
}

func (m *MockChainAdapter) Lock(ctx context.Context, amount decimal.Decimal, destinationHint string) (TxRef, error) {
	args := m.Called(ctx, amount, destinationHint)
	return args.Get(0).(TxRef), args.Error(1)
}

func (m *MockChainAdapter) AwaitConfirmation(ctx context.Context, ref TxRef) (*Confirmation, error) {
	args := m.Called(ctx, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Confirmation), args.Error(1)
}

func (m *MockChainAdapter) MintOrRelease(ctx context.Context, amount decimal.Decimal, destinationAddress string) (TxRef, error) {
	args := m.Called(ctx, amount, destinationAddress)
	return args.Get(0).(TxRef), args.Error(1)
}

func (m *MockChainAdapter) Refund(ctx context.Context, originalRef TxRef, amount decimal.Decimal) (TxRef, error) {
	args := m.Called(ctx, originalRef, amount)
	return args.Get(0).(TxRef), args.Error(1)
}

// adapterError mimics a typed chain error
type adapterError struct {
	msg       string
	retryable bool
	txFailed  bool
}

func (e *adapterError) Error() string     { return e.msg }
func (e *adapterError) IsRetryable() bool { return e.retryable }
func (e *adapterError) IsTxFailed() bool  { return e.txFailed }

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func scenarioSchedule() FeeSchedule {
	return FeeSchedule{
		BaseFee:       decimal.NewFromInt(10),
		PercentageBps: 25,
		MinFee:        decimal.NewFromInt(10),
		MaxFee:        decimal.NewFromInt(10000),
	}
}

func testConfig() Config {
	return Config{
		FeeSchedule: scenarioSchedule(),
		MinAmount:   decimal.NewFromInt(100),
		MaxAmount:   decimal.NewFromInt(1000000),
		Chains: map[string]entities.ChainConfig{
			"solana":   {ID: "solana", Name: "Solana", NativeToken: true, ConfirmationDepth: 32, BlockTime: 400 * time.Millisecond, Enabled: true},
			"ethereum": {ID: "ethereum", Name: "Ethereum", ConfirmationDepth: 12, BlockTime: 12 * time.Second, Enabled: true},
		},
		Directions: map[entities.Direction]Route{
			solToEth: {SourceChain: "solana", DestinationChain: "ethereum"},
			ethToSol: {SourceChain: "ethereum", DestinationChain: "solana"},
		},
		TransactionTimeout: 10 * time.Minute,
		ValidationEstimate: 2 * time.Minute,
		RetryPolicy:        retry.Policy{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2},
		MaxRefundAttempts:  2,
		RefundPolicy:       entities.RefundPolicyFull,
	}
}

type validatorKeys struct {
	ids     []string
	signers map[string]*crypto.Signer
	keys    []ValidatorKey
}

func newValidatorKeys(t *testing.T, n int) *validatorKeys {
	t.Helper()
	vk := &validatorKeys{signers: make(map[string]*crypto.Signer)}
	for i := 0; i < n; i++ {
		id := string(rune('A' + i))
		signer, err := crypto.GenerateSigner()
		require.NoError(t, err)
		vk.ids = append(vk.ids, id)
		vk.signers[id] = signer
		vk.keys = append(vk.keys, ValidatorKey{ID: id, PublicKey: signer.PublicKeyHex()})
	}
	return vk
}

// sign produces validator id's attestation over a verification hash
func (vk *validatorKeys) sign(t *testing.T, id, verificationHash string) string {
	t.Helper()
	msg, err := crypto.DecodeHash(verificationHash)
	require.NoError(t, err)
	return vk.signers[id].Sign(msg)
}

type harness struct {
	orch       *Orchestrator
	store      *repositories.MemoryBridgeRepository
	registry   *ValidatorRegistry
	validators *validatorKeys
	clock      *testClock
}

func newHarness(t *testing.T, cfg Config, threshold int, adapters map[string]ChainAdapter) *harness {
	t.Helper()
	validators := newValidatorKeys(t, 5)
	registry, err := NewValidatorRegistry(threshold, validators.keys)
	require.NoError(t, err)

	store := repositories.NewMemoryBridgeRepository()
	clock := newTestClock()
	orch, err := NewOrchestrator(cfg, store, registry, adapters, zap.NewNop(), WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = orch.Shutdown(time.Second) })

	return &harness{orch: orch, store: store, registry: registry, validators: validators, clock: clock}
}

func (h *harness) initiate(t *testing.T, direction entities.Direction, amount int64) *entities.BridgeTransfer {
	t.Helper()
	transfer, err := h.orch.Initiate(context.Background(), &entities.BridgeRequest{
		Direction:          direction,
		SourceAddress:      "sender-address",
		DestinationAddress: fmt.Sprintf("0xdest%d", amount),
		Amount:             decimal.NewFromInt(amount),
	})
	require.NoError(t, err)
	return transfer
}

func (h *harness) lock(t *testing.T, transfer *entities.BridgeTransfer) *entities.BridgeTransfer {
	t.Helper()
	locked, err := h.orch.ConfirmLock(context.Background(), transfer.BridgeID, "0xlock-"+transfer.BridgeID)
	require.NoError(t, err)
	return locked
}

func (h *harness) attest(t *testing.T, transfer *entities.BridgeTransfer, id string) (SubmitResult, *entities.BridgeTransfer, error) {
	t.Helper()
	return h.orch.OnSignature(context.Background(), transfer.BridgeID, id, h.validators.sign(t, id, transfer.VerificationHash))
}

// assertLegalHistory checks that every recorded step is in the transition table
func assertLegalHistory(t *testing.T, transfer *entities.BridgeTransfer) {
	t.Helper()
	require.NotEmpty(t, transfer.History)
	require.Equal(t, entities.BridgeStatusInitiated, transfer.History[0].To)
	for _, step := range transfer.History[1:] {
		require.Truef(t, CanTransition(step.From, step.To), "illegal step %s -> %s", step.From, step.To)
	}
}
