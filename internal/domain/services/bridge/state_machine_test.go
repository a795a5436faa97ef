package bridge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rail-service/bridge_core/internal/domain/entities"
	domainerrors "github.com/rail-service/bridge_core/internal/domain/errors"
)

func TestCanTransition(t *testing.T) {
	legal := map[entities.BridgeStatus][]entities.BridgeStatus{
		entities.BridgeStatusInitiated:  {entities.BridgeStatusLocked, entities.BridgeStatusFailed},
		entities.BridgeStatusLocked:     {entities.BridgeStatusValidating, entities.BridgeStatusFailed, entities.BridgeStatusRefunded},
		entities.BridgeStatusValidating: {entities.BridgeStatusMinting, entities.BridgeStatusReleasing, entities.BridgeStatusFailed},
		entities.BridgeStatusMinting:    {entities.BridgeStatusCompleted, entities.BridgeStatusFailed},
		entities.BridgeStatusReleasing:  {entities.BridgeStatusCompleted, entities.BridgeStatusFailed},
		entities.BridgeStatusFailed:     {entities.BridgeStatusRefunded},
	}

	for _, from := range entities.AllBridgeStatuses {
		for _, to := range entities.AllBridgeStatuses {
			want := false
			for _, allowed := range legal[from] {
				if allowed == to {
					want = true
				}
			}
			assert.Equalf(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(entities.BridgeStatusCompleted))
	assert.True(t, IsTerminal(entities.BridgeStatusRefunded))
	assert.False(t, IsTerminal(entities.BridgeStatusFailed))
	assert.False(t, IsTerminal(entities.BridgeStatus("UNKNOWN")))
}

func TestAllowedTransitions_ReturnsCopy(t *testing.T) {
	next := AllowedTransitions(entities.BridgeStatusInitiated)
	next[0] = entities.BridgeStatusCompleted
	assert.False(t, CanTransition(entities.BridgeStatusInitiated, entities.BridgeStatusCompleted))
}

func TestStateMachine_Apply(t *testing.T) {
	m := NewStateMachine(zap.NewNop())
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("records legal transition", func(t *testing.T) {
		transfer := &entities.BridgeTransfer{Status: entities.BridgeStatusInitiated}
		require.NoError(t, m.Apply(transfer, entities.BridgeStatusLocked, "lock confirmed", at))

		assert.Equal(t, entities.BridgeStatusLocked, transfer.Status)
		assert.Equal(t, at, transfer.StatusUpdatedAt)
		require.Len(t, transfer.History, 1)
		assert.Equal(t, entities.BridgeStatusInitiated, transfer.History[0].From)
		assert.Equal(t, "lock confirmed", transfer.History[0].Reason)
	})

	t.Run("rejects illegal transition without mutating", func(t *testing.T) {
		transfer := &entities.BridgeTransfer{Status: entities.BridgeStatusCompleted}
		err := m.Apply(transfer, entities.BridgeStatusFailed, "late failure", at)

		require.Error(t, err)
		assert.True(t, domainerrors.IsIllegalTransition(err))
		assert.Equal(t, "ILLEGAL_TRANSITION", domainerrors.GetErrorCode(err))
		assert.Equal(t, entities.BridgeStatusCompleted, transfer.Status)
		assert.Empty(t, transfer.History)
	})
}
