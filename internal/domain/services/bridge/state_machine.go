package bridge

import (
	"time"

	"go.uber.org/zap"

	domainerrors "github.com/rail-service/bridge_core/internal/domain/errors"
	"github.com/rail-service/bridge_core/internal/domain/entities"
	"github.com/rail-service/bridge_core/pkg/metrics"
)

var legalTransitions = map[entities.BridgeStatus][]entities.BridgeStatus{
	entities.BridgeStatusInitiated:  {entities.BridgeStatusLocked, entities.BridgeStatusFailed},
	entities.BridgeStatusLocked:     {entities.BridgeStatusValidating, entities.BridgeStatusFailed, entities.BridgeStatusRefunded},
	entities.BridgeStatusValidating: {entities.BridgeStatusMinting, entities.BridgeStatusReleasing, entities.BridgeStatusFailed},
	entities.BridgeStatusMinting:    {entities.BridgeStatusCompleted, entities.BridgeStatusFailed},
	entities.BridgeStatusReleasing:  {entities.BridgeStatusCompleted, entities.BridgeStatusFailed},
	entities.BridgeStatusCompleted:  {},
	entities.BridgeStatusFailed:     {entities.BridgeStatusRefunded},
	entities.BridgeStatusRefunded:   {},
}

// CanTransition reports whether from -> to is in the legality table
func CanTransition(from, to entities.BridgeStatus) bool {
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// AllowedTransitions returns the statuses reachable in one step from s
func AllowedTransitions(s entities.BridgeStatus) []entities.BridgeStatus {
	return append([]entities.BridgeStatus(nil), legalTransitions[s]...)
}

// IsTerminal reports whether s has no outgoing transitions
func IsTerminal(s entities.BridgeStatus) bool {
	next, known := legalTransitions[s]
	return known && len(next) == 0
}

// StateMachine guards status mutations. Rejections are counted and logged so
// that ordering bugs in callers surface on dashboards.
type StateMachine struct {
	logger *zap.Logger
}

// NewStateMachine creates a state machine that reports rejections to logger
func NewStateMachine(logger *zap.Logger) *StateMachine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StateMachine{logger: logger}
}

// Transition validates from -> to and returns an IllegalTransition error when rejected
func (m *StateMachine) Transition(from, to entities.BridgeStatus) error {
	if CanTransition(from, to) {
		return nil
	}

	metrics.BridgeIllegalTransitions.WithLabelValues(string(from), string(to)).Inc()
	m.logger.Error("Illegal bridge status transition rejected",
		zap.String("from", string(from)),
		zap.String("to", string(to)))

	return domainerrors.IllegalTransitionError(string(from), string(to))
}

// Apply validates and records the transition on the transfer
func (m *StateMachine) Apply(transfer *entities.BridgeTransfer, to entities.BridgeStatus, reason string, at time.Time) error {
	from := transfer.Status
	if err := m.Transition(from, to); err != nil {
		return err
	}

	transfer.RecordTransition(to, reason, at)
	metrics.BridgeStatusTransitions.WithLabelValues(string(from), string(to)).Inc()
	return nil
}
