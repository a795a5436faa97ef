package bridge

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rail-service/bridge_core/internal/domain/entities"
	domainerrors "github.com/rail-service/bridge_core/internal/domain/errors"
)

func lockedTransfer(version, required int) *entities.BridgeTransfer {
	createdAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &entities.BridgeTransfer{
		ID:                  uuid.New(),
		BridgeID:            "br_test",
		VerificationHash:    BuildVerificationHash("alice", "0xbob", decimal.NewFromInt(1000), createdAt),
		Status:              entities.BridgeStatusLocked,
		RequiredSignatures:  required,
		ValidatorSetVersion: version,
		CreatedAt:           createdAt,
	}
}

func TestAggregator_Submit(t *testing.T) {
	vk := newValidatorKeys(t, 5)
	registry, err := NewValidatorRegistry(3, vk.keys)
	require.NoError(t, err)
	agg := NewAggregator(registry, zap.NewNop())
	now := time.Now()

	t.Run("duplicates do not count towards quorum", func(t *testing.T) {
		transfer := lockedTransfer(1, 3)

		steps := []struct {
			validator string
			accepted  bool
			count     int
			quorum    bool
			justNow   bool
		}{
			{"A", true, 1, false, false},
			{"B", true, 2, false, false},
			{"A", false, 2, false, false},
			{"C", true, 3, true, true},
		}
		for _, step := range steps {
			res, err := agg.Submit(transfer, step.validator, vk.sign(t, step.validator, transfer.VerificationHash), now)
			require.NoError(t, err)
			assert.Equal(t, step.accepted, res.Accepted, step.validator)
			assert.Equal(t, step.count, res.SignatureCount, step.validator)
			assert.Equal(t, step.quorum, res.QuorumReached, step.validator)
			assert.Equal(t, step.justNow, res.QuorumJustReached, step.validator)
		}
		require.NotNil(t, transfer.QuorumReachedAt)
		assert.Len(t, transfer.Signatures, 3)
	})

	t.Run("duplicate keeps the first signature", func(t *testing.T) {
		transfer := lockedTransfer(1, 3)
		first := vk.sign(t, "A", transfer.VerificationHash)
		_, err := agg.Submit(transfer, "A", first, now)
		require.NoError(t, err)

		res, err := agg.Submit(transfer, "A", "0xdeadbeef", now)
		require.NoError(t, err)
		assert.False(t, res.Accepted)

		sig, ok := transfer.SignatureFrom("A")
		require.True(t, ok)
		assert.Equal(t, first, sig.Signature)
	})

	t.Run("unknown validator", func(t *testing.T) {
		transfer := lockedTransfer(1, 3)
		outsider := newValidatorKeys(t, 1)
		_, err := agg.Submit(transfer, "Z", outsider.sign(t, "A", transfer.VerificationHash), now)
		require.Error(t, err)
		assert.ErrorIs(t, err, domainerrors.ErrUnknownValidator)
		assert.Empty(t, transfer.Signatures)
	})

	t.Run("signature by another key", func(t *testing.T) {
		transfer := lockedTransfer(1, 3)
		_, err := agg.Submit(transfer, "A", vk.sign(t, "B", transfer.VerificationHash), now)
		require.Error(t, err)
		assert.ErrorIs(t, err, domainerrors.ErrInvalidSignature)
		assert.True(t, domainerrors.IsSignatureRejected(err))
	})

	t.Run("signature over another hash", func(t *testing.T) {
		transfer := lockedTransfer(1, 3)
		other := BuildVerificationHash("mallory", "0xbob", decimal.NewFromInt(1000), transfer.CreatedAt)
		_, err := agg.Submit(transfer, "A", vk.sign(t, "A", other), now)
		assert.ErrorIs(t, err, domainerrors.ErrInvalidSignature)
	})

	t.Run("malformed signature", func(t *testing.T) {
		transfer := lockedTransfer(1, 3)
		_, err := agg.Submit(transfer, "A", "not-hex", now)
		assert.ErrorIs(t, err, domainerrors.ErrInvalidSignature)
	})

	t.Run("not collecting", func(t *testing.T) {
		for _, status := range []entities.BridgeStatus{
			entities.BridgeStatusInitiated,
			entities.BridgeStatusCompleted,
			entities.BridgeStatusFailed,
			entities.BridgeStatusRefunded,
		} {
			transfer := lockedTransfer(1, 3)
			transfer.Status = status
			_, err := agg.Submit(transfer, "A", vk.sign(t, "A", transfer.VerificationHash), now)
			assert.ErrorIs(t, err, domainerrors.ErrTransferNotCollecting, string(status))
		}
	})

	t.Run("late attestation after quorum is kept", func(t *testing.T) {
		transfer := lockedTransfer(1, 3)
		for _, id := range []string{"A", "B", "C"} {
			_, err := agg.Submit(transfer, id, vk.sign(t, id, transfer.VerificationHash), now)
			require.NoError(t, err)
		}
		transfer.Status = entities.BridgeStatusMinting

		res, err := agg.Submit(transfer, "D", vk.sign(t, "D", transfer.VerificationHash), now)
		require.NoError(t, err)
		assert.True(t, res.Accepted)
		assert.True(t, res.QuorumReached)
		assert.False(t, res.QuorumJustReached)
		assert.Equal(t, 4, res.SignatureCount)
	})

	t.Run("minting without quorum is not collecting", func(t *testing.T) {
		transfer := lockedTransfer(1, 3)
		transfer.Status = entities.BridgeStatusMinting
		_, err := agg.Submit(transfer, "A", vk.sign(t, "A", transfer.VerificationHash), now)
		assert.ErrorIs(t, err, domainerrors.ErrTransferNotCollecting)
	})
}

func TestAggregator_PinnedValidatorSet(t *testing.T) {
	vk := newValidatorKeys(t, 5)
	registry, err := NewValidatorRegistry(3, vk.keys[:3])
	require.NoError(t, err)
	agg := NewAggregator(registry, zap.NewNop())

	transfer := lockedTransfer(1, 3)

	// rotate A out after the transfer was locked against version 1
	_, err = registry.Update(2, vk.keys[1:])
	require.NoError(t, err)

	res, err := agg.Submit(transfer, "A", vk.sign(t, "A", transfer.VerificationHash), time.Now())
	require.NoError(t, err)
	assert.True(t, res.Accepted)

	_, err = agg.Submit(transfer, "D", vk.sign(t, "D", transfer.VerificationHash), time.Now())
	assert.ErrorIs(t, err, domainerrors.ErrUnknownValidator)

	transfer.ValidatorSetVersion = 7
	_, err = agg.Submit(transfer, "B", vk.sign(t, "B", transfer.VerificationHash), time.Now())
	assert.ErrorIs(t, err, domainerrors.ErrValidatorSetUnavailable)
	assert.True(t, domainerrors.IsServiceUnavailable(err))
}
