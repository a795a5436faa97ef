// Package bridge implements the cross-chain bridge core: fee computation,
// verification hashing, the transfer state machine, validator quorum and the
// orchestrator that drives a transfer from lock to delivery or refund.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rail-service/bridge_core/internal/domain/entities"
	domainerrors "github.com/rail-service/bridge_core/internal/domain/errors"
	"github.com/rail-service/bridge_core/internal/domain/repositories"
	"github.com/rail-service/bridge_core/pkg/metrics"
	"github.com/rail-service/bridge_core/pkg/retry"
)

var errNoChange = errors.New("no change")

// expirable lists the suspended states swept for timeouts and the reason recorded on expiry
var expirable = []struct {
	status entities.BridgeStatus
	reason entities.FailureReason
}{
	{entities.BridgeStatusInitiated, entities.FailureReasonTimeout},
	{entities.BridgeStatusLocked, entities.FailureReasonQuorumTimeout},
	{entities.BridgeStatusValidating, entities.FailureReasonQuorumTimeout},
	{entities.BridgeStatusMinting, entities.FailureReasonTimeout},
	{entities.BridgeStatusReleasing, entities.FailureReasonTimeout},
}

// Option customises an Orchestrator
type Option func(*Orchestrator)

// WithClock replaces time.Now, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// SweepResult summarises one SweepExpired pass
type SweepResult struct {
	Expired  int
	Refunded int
	Errors   int
}

// Orchestrator drives bridge transfers through their lifecycle. Mutations of
// one transfer are serialised by a per-transfer lock; unrelated transfers
// progress independently.
type Orchestrator struct {
	cfg        Config
	store      repositories.BridgeRepository
	registry   *ValidatorRegistry
	aggregator *Aggregator
	machine    *StateMachine
	adapters   map[string]ChainAdapter
	retrier    *retry.Retrier
	validate   *validator.Validate
	locks      *keyedMutex
	tracer     trace.Tracer
	logger     *zap.Logger
	now        func() time.Time

	watchCtx    context.Context
	stopWatches context.CancelFunc
	watchers    sync.WaitGroup
}

// NewOrchestrator creates an orchestrator. Adapters are keyed by chain id;
// a chain without an adapter is driven entirely by external confirmations.
func NewOrchestrator(
	cfg Config,
	store repositories.BridgeRepository,
	registry *ValidatorRegistry,
	adapters map[string]ChainAdapter,
	logger *zap.Logger,
	opts ...Option,
) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil || registry == nil {
		return nil, fmt.Errorf("bridge orchestrator: store and validator registry are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if adapters == nil {
		adapters = map[string]ChainAdapter{}
	}

	watchCtx, stop := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:         cfg,
		store:       store,
		registry:    registry,
		aggregator:  NewAggregator(registry, logger),
		machine:     NewStateMachine(logger),
		adapters:    adapters,
		retrier:     retry.NewRetrier(cfg.RetryPolicy, logger),
		validate:    validator.New(),
		locks:       newKeyedMutex(),
		tracer:      otel.Tracer("bridge-orchestrator"),
		logger:      logger,
		now:         time.Now,
		watchCtx:    watchCtx,
		stopWatches: stop,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Initiate validates a request, fixes its fee and verification hash and
// records it as INITIATED. When the source chain has an adapter the lock is
// submitted immediately; a lock failure is recorded on the transfer rather
// than returned.
func (o *Orchestrator) Initiate(ctx context.Context, req *entities.BridgeRequest) (*entities.BridgeTransfer, error) {
	ctx, span := o.tracer.Start(ctx, "bridge.Initiate")
	defer span.End()

	if req == nil {
		return nil, domainerrors.ValidationError("request", "request body is required")
	}
	if err := o.validate.Struct(req); err != nil {
		return nil, domainerrors.ValidationError("request", err.Error())
	}

	route, ok := o.cfg.Directions[req.Direction]
	if !ok {
		return nil, domainerrors.UnsupportedDirectionError(string(req.Direction))
	}
	if req.Amount.LessThan(o.cfg.MinAmount) || req.Amount.GreaterThan(o.cfg.MaxAmount) {
		return nil, domainerrors.AmountOutOfRangeError(req.Amount.String(), o.cfg.MinAmount.String(), o.cfg.MaxAmount.String())
	}

	fee, err := ComputeFee(req.Amount, o.cfg.FeeSchedule)
	if err != nil {
		return nil, err
	}

	// stores keep microseconds; the hash must be reproducible from the stored createdAt
	now := o.now().UTC().Truncate(time.Microsecond)
	hash := BuildVerificationHash(req.SourceAddress, req.DestinationAddress, req.Amount, now)

	existing, err := o.store.GetByVerificationHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("lookup verification hash: %w", err)
	}
	if existing != nil {
		return nil, domainerrors.NewDomainError(domainerrors.ErrDuplicateVerificationKey, "DUPLICATE_VERIFICATION_HASH",
			"a transfer with the same verification hash already exists").
			WithDetails(map[string]interface{}{"bridge_id": existing.BridgeID})
	}

	id := uuid.New()
	transfer := &entities.BridgeTransfer{
		ID:                 id,
		BridgeID:           newBridgeID(id),
		VerificationHash:   hash,
		Direction:          req.Direction,
		SourceChain:        route.SourceChain,
		DestinationChain:   route.DestinationChain,
		SourceAddress:      req.SourceAddress,
		DestinationAddress: req.DestinationAddress,
		Amount:             req.Amount,
		BaseFee:            fee.BaseFee,
		PercentageFee:      fee.PercentageFee,
		Fee:                fee.TotalFee,
		NetAmount:          fee.NetAmount,
		Status:             entities.BridgeStatusInitiated,
		StatusUpdatedAt:    now,
		Signatures:         entities.ValidatorSignatures{},
		RefundAmount:       decimal.Zero,
		History: entities.StatusHistory{
			{To: entities.BridgeStatusInitiated, Reason: "intent recorded", At: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	span.SetAttributes(
		attribute.String("bridge_id", transfer.BridgeID),
		attribute.String("direction", string(transfer.Direction)),
	)

	unlock := o.locks.Lock(id.String())
	defer unlock()

	if err := o.save(ctx, transfer); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	metrics.BridgeTransfersInitiated.WithLabelValues(string(transfer.Direction)).Inc()

	o.logger.Info("Bridge initiated",
		zap.String("bridge_id", transfer.BridgeID),
		zap.String("direction", string(transfer.Direction)),
		zap.String("amount", transfer.Amount.String()),
		zap.String("fee", transfer.Fee.String()),
		zap.String("verification_hash", transfer.VerificationHash))

	if err := o.submitLock(ctx, transfer); err != nil {
		return nil, err
	}
	return transfer.Clone(), nil
}

// ConfirmLock records the source lock once it reached confirmation depth.
// It captures the quorum threshold and validator set version the transfer
// will be judged against.
func (o *Orchestrator) ConfirmLock(ctx context.Context, key, sourceTxHash string) (*entities.BridgeTransfer, error) {
	ctx, span := o.tracer.Start(ctx, "bridge.ConfirmLock", trace.WithAttributes(attribute.String("bridge_key", key)))
	defer span.End()

	sourceTxHash = strings.TrimSpace(sourceTxHash)
	if sourceTxHash == "" {
		return nil, domainerrors.ValidationError("source_tx_hash", "source transaction hash is required")
	}

	return o.mutate(ctx, key, func(t *entities.BridgeTransfer) error {
		if t.SourceTxHash != "" {
			if t.SourceTxHash == sourceTxHash {
				return errNoChange
			}
			return domainerrors.ConflictingConfirmationError("source_tx_hash", t.SourceTxHash, sourceTxHash)
		}

		now := o.now()
		switch t.Status {
		case entities.BridgeStatusInitiated:
			set := o.registry.Current()
			if err := o.machine.Apply(t, entities.BridgeStatusLocked, "lock confirmed", now); err != nil {
				return err
			}
			t.SourceTxHash = sourceTxHash
			t.RequiredSignatures = set.Threshold()
			t.ValidatorSetVersion = set.Version()

			o.logger.Info("Bridge lock confirmed",
				zap.String("bridge_id", t.BridgeID),
				zap.String("source_tx_hash", sourceTxHash),
				zap.Int("required_signatures", t.RequiredSignatures),
				zap.Int("validator_set_version", t.ValidatorSetVersion))
			return nil

		case entities.BridgeStatusFailed:
			// funds were locked after the transfer already failed; keep the
			// hash so the refund returns them
			t.SourceTxHash = sourceTxHash
			t.UpdatedAt = now
			o.logger.Warn("Late lock confirmation attached to failed transfer",
				zap.String("bridge_id", t.BridgeID),
				zap.String("source_tx_hash", sourceTxHash))
			return nil

		case entities.BridgeStatusRefunded:
			return o.recordLate(t, entities.LegSource, sourceTxHash, "lock confirmed after a zero-amount refund", now)

		default:
			return o.machine.Transition(t.Status, entities.BridgeStatusLocked)
		}
	})
}

// OnSignature hands an attestation to the aggregator and advances the
// transfer: the first accepted signature moves it to VALIDATING and reaching
// quorum moves it to MINTING or RELEASING and triggers delivery.
func (o *Orchestrator) OnSignature(ctx context.Context, key, validatorID, signature string) (SubmitResult, *entities.BridgeTransfer, error) {
	ctx, span := o.tracer.Start(ctx, "bridge.OnSignature", trace.WithAttributes(
		attribute.String("bridge_key", key),
		attribute.String("validator_id", validatorID),
	))
	defer span.End()

	var (
		result   SubmitResult
		snapshot *entities.BridgeTransfer
	)
	err := o.withLock(ctx, key, func(t *entities.BridgeTransfer) error {
		now := o.now()
		res, err := o.aggregator.Submit(t, validatorID, signature, now)
		result = res
		if errors.Is(err, domainerrors.ErrValidatorSetUnavailable) && t.QuorumReachedAt == nil {
			// quorum can no longer be evaluated for this transfer
			if ferr := o.failLocked(t, entities.FailureReasonValidatorsOffline, err.Error(), now); ferr != nil {
				return ferr
			}
			if serr := o.save(ctx, t); serr != nil {
				return serr
			}
			return err
		}
		if err != nil {
			return err
		}
		if !res.Accepted {
			snapshot = t.Clone()
			return nil
		}

		if t.Status == entities.BridgeStatusLocked {
			if err := o.machine.Apply(t, entities.BridgeStatusValidating, "first attestation received", now); err != nil {
				return err
			}
		}
		if res.QuorumJustReached {
			reason := fmt.Sprintf("quorum reached with %d of %d signatures", res.SignatureCount, t.RequiredSignatures)
			if err := o.machine.Apply(t, o.deliveryStatus(t), reason, now); err != nil {
				return err
			}
			o.logger.Info("Bridge quorum reached",
				zap.String("bridge_id", t.BridgeID),
				zap.Int("signature_count", res.SignatureCount),
				zap.String("status", string(t.Status)))
		}

		if err := o.save(ctx, t); err != nil {
			return err
		}
		if res.QuorumJustReached {
			if err := o.submitDelivery(ctx, t); err != nil {
				return err
			}
		}
		snapshot = t.Clone()
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return result, snapshot, err
}

// ConfirmDestination records final delivery on the destination chain
func (o *Orchestrator) ConfirmDestination(ctx context.Context, key, destinationTxHash string) (*entities.BridgeTransfer, error) {
	ctx, span := o.tracer.Start(ctx, "bridge.ConfirmDestination", trace.WithAttributes(attribute.String("bridge_key", key)))
	defer span.End()

	destinationTxHash = strings.TrimSpace(destinationTxHash)
	if destinationTxHash == "" {
		return nil, domainerrors.ValidationError("destination_tx_hash", "destination transaction hash is required")
	}

	return o.mutate(ctx, key, func(t *entities.BridgeTransfer) error {
		if t.DestinationTxHash != "" {
			if t.DestinationTxHash == destinationTxHash {
				return errNoChange
			}
			return domainerrors.ConflictingConfirmationError("destination_tx_hash", t.DestinationTxHash, destinationTxHash)
		}

		now := o.now()
		switch t.Status {
		case entities.BridgeStatusMinting, entities.BridgeStatusReleasing:
			if err := o.machine.Apply(t, entities.BridgeStatusCompleted, "destination confirmed", now); err != nil {
				return err
			}
			t.DestinationTxHash = destinationTxHash
			completedAt := now
			t.CompletedAt = &completedAt
			metrics.BridgeTransferDuration.WithLabelValues(string(t.Direction), string(t.Status)).
				Observe(now.Sub(t.CreatedAt).Seconds())

			o.logger.Info("Bridge completed",
				zap.String("bridge_id", t.BridgeID),
				zap.String("destination_tx_hash", destinationTxHash))
			return nil

		case entities.BridgeStatusFailed, entities.BridgeStatusRefunded:
			// value was delivered after the transfer failed; refunding now would pay twice
			return o.recordLate(t, entities.LegDestination, destinationTxHash, "destination delivered after failure", now)

		default:
			return o.machine.Transition(t.Status, entities.BridgeStatusCompleted)
		}
	})
}

// Fail moves a non-terminal transfer to FAILED. Failing an already failed
// transfer is a no-op.
func (o *Orchestrator) Fail(ctx context.Context, key string, reason entities.FailureReason, message string) (*entities.BridgeTransfer, error) {
	ctx, span := o.tracer.Start(ctx, "bridge.Fail", trace.WithAttributes(attribute.String("bridge_key", key)))
	defer span.End()

	if reason == "" {
		reason = entities.FailureReasonManual
	}
	if !reason.IsValid() {
		return nil, domainerrors.ValidationError("reason", "unknown failure reason "+string(reason))
	}
	return o.mutate(ctx, key, func(t *entities.BridgeTransfer) error {
		if t.Status == entities.BridgeStatusFailed {
			return errNoChange
		}
		return o.failLocked(t, reason, message, o.now())
	})
}

// Refund returns locked funds of a FAILED transfer to the sender. Transfers
// that failed before anything was locked are closed with a zero refund.
func (o *Orchestrator) Refund(ctx context.Context, key string) (*entities.BridgeTransfer, error) {
	ctx, span := o.tracer.Start(ctx, "bridge.Refund", trace.WithAttributes(attribute.String("bridge_key", key)))
	defer span.End()

	var snapshot *entities.BridgeTransfer
	err := o.withLock(ctx, key, func(t *entities.BridgeTransfer) error {
		if t.Status != entities.BridgeStatusFailed {
			return domainerrors.RefundNotAllowedError(string(t.Status), "refund is only allowed from FAILED")
		}
		if t.RequiresManualReview {
			return domainerrors.RefundNotAllowedError(string(t.Status), "transfer is flagged for manual review")
		}

		if t.DestinationTxRef != "" && t.DestinationTxHash == "" {
			if err := o.resolveDelivery(ctx, t); err != nil {
				return err
			}
		}

		if t.SourceTxHash == "" && t.SourceTxRef != "" {
			if err := o.resolveLock(ctx, t); err != nil {
				return err
			}
		}

		if t.SourceTxHash == "" {
			t.RefundAmount = decimal.Zero
			if err := o.machine.Apply(t, entities.BridgeStatusRefunded, "nothing was locked", o.now()); err != nil {
				return err
			}
			if err := o.save(ctx, t); err != nil {
				return err
			}
			o.observeTerminal(t)
			snapshot = t.Clone()
			return nil
		}

		adapter, ok := o.adapters[t.SourceChain]
		if !ok {
			return domainerrors.ServiceUnavailableError("chain adapter "+t.SourceChain, nil)
		}

		amount := o.cfg.refundAmount(t)
		if t.RefundTxRef == "" {
			original := TxRef(t.SourceTxRef)
			if original == "" {
				original = TxRef(t.SourceTxHash)
			}
			ref, err := o.callAdapter(ctx, t.SourceChain, "refund", func() (TxRef, error) {
				return adapter.Refund(ctx, original, amount)
			})
			if err != nil {
				return o.recordRefundFailure(ctx, t, err)
			}
			t.RefundTxRef = string(ref)
			t.RefundAmount = amount
			t.UpdatedAt = o.now()
			if err := o.save(ctx, t); err != nil {
				return err
			}
		}

		// a refund already submitted is only awaited again, never resubmitted
		conf, err := o.awaitConfirmation(ctx, t.SourceChain, TxRef(t.RefundTxRef))
		if err != nil {
			return o.recordRefundFailure(ctx, t, err)
		}

		t.RefundTxHash = conf.TxHash
		if err := o.machine.Apply(t, entities.BridgeStatusRefunded, "refunded "+t.RefundAmount.String(), o.now()); err != nil {
			return err
		}
		if err := o.save(ctx, t); err != nil {
			return err
		}
		o.observeTerminal(t)

		o.logger.Info("Bridge refunded",
			zap.String("bridge_id", t.BridgeID),
			zap.String("refund_amount", t.RefundAmount.String()),
			zap.String("refund_tx_hash", t.RefundTxHash))
		snapshot = t.Clone()
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return snapshot, nil
}

// SweepExpired fails transfers whose current suspension outlived the
// transaction timeout and, with auto refund enabled, refunds failed ones.
func (o *Orchestrator) SweepExpired(ctx context.Context, now time.Time) (SweepResult, error) {
	ctx, span := o.tracer.Start(ctx, "bridge.SweepExpired")
	defer span.End()

	var result SweepResult
	for _, e := range expirable {
		transfers, err := o.store.ListByStatus(ctx, e.status)
		if err != nil {
			return result, fmt.Errorf("list %s transfers: %w", e.status, err)
		}
		for _, t := range transfers {
			if !o.expired(t, now) {
				continue
			}
			expired, err := o.expire(ctx, t.ID, e.status, e.reason, now)
			if err != nil {
				result.Errors++
				o.logger.Error("Failed to expire bridge transfer", zap.String("bridge_id", t.BridgeID), zap.Error(err))
				continue
			}
			if expired {
				result.Expired++
			}
		}
	}

	if o.cfg.AutoRefund {
		failed, err := o.store.ListByStatus(ctx, entities.BridgeStatusFailed)
		if err != nil {
			return result, fmt.Errorf("list failed transfers: %w", err)
		}
		for _, t := range failed {
			if t.RequiresManualReview {
				continue
			}
			if _, err := o.Refund(ctx, t.ID.String()); err != nil {
				result.Errors++
				o.logger.Warn("Automatic refund failed",
					zap.String("bridge_id", t.BridgeID),
					zap.Int("refund_attempts", t.RefundAttempts+1),
					zap.Error(err))
				continue
			}
			result.Refunded++
		}
	}

	span.SetAttributes(
		attribute.Int("expired", result.Expired),
		attribute.Int("refunded", result.Refunded),
	)
	return result, nil
}

// Shutdown stops confirmation watchers and waits for them to exit
func (o *Orchestrator) Shutdown(timeout time.Duration) error {
	o.stopWatches()

	done := make(chan struct{})
	go func() {
		o.watchers.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.logger.Info("Bridge confirmation watchers stopped")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("bridge watchers did not stop within %s", timeout)
	}
}

func (o *Orchestrator) expire(ctx context.Context, id uuid.UUID, status entities.BridgeStatus, reason entities.FailureReason, now time.Time) (bool, error) {
	expired := false
	_, err := o.mutate(ctx, id.String(), func(t *entities.BridgeTransfer) error {
		// the transfer may have advanced since it was listed
		if t.Status != status || !o.expired(t, now) {
			return errNoChange
		}
		cause := domainerrors.ErrTimeout
		if reason == entities.FailureReasonQuorumTimeout {
			cause = domainerrors.ErrQuorumTimeout
		}
		message := fmt.Sprintf("%s: no progress in %s for %s", cause, status, o.cfg.TransactionTimeout)
		if err := o.failLocked(t, reason, message, now); err != nil {
			return err
		}
		expired = true
		return nil
	})
	return expired, err
}

func (o *Orchestrator) expired(t *entities.BridgeTransfer, now time.Time) bool {
	return now.Sub(suspensionStart(t)) > o.cfg.TransactionTimeout
}

// suspensionStart is when the transfer began waiting in its current phase.
// Attestation collection spans LOCKED and VALIDATING, so it is measured from
// the lock.
func suspensionStart(t *entities.BridgeTransfer) time.Time {
	if t.Status == entities.BridgeStatusValidating {
		for i := len(t.History) - 1; i >= 0; i-- {
			if t.History[i].To == entities.BridgeStatusLocked {
				return t.History[i].At
			}
		}
	}
	return t.StatusUpdatedAt
}

func (o *Orchestrator) failLocked(t *entities.BridgeTransfer, reason entities.FailureReason, message string, now time.Time) error {
	if err := o.machine.Apply(t, entities.BridgeStatusFailed, string(reason), now); err != nil {
		return err
	}
	t.FailureReason = reason
	t.ErrorMessage = message

	o.logger.Warn("Bridge transfer failed",
		zap.String("bridge_id", t.BridgeID),
		zap.String("reason", string(reason)),
		zap.String("error", message))
	return nil
}

func (o *Orchestrator) recordRefundFailure(ctx context.Context, t *entities.BridgeTransfer, cause error) error {
	t.RefundAttempts++
	t.UpdatedAt = o.now()
	if t.RefundAttempts >= o.cfg.MaxRefundAttempts {
		o.flagManualReview(t, fmt.Sprintf("refund failed %d times", t.RefundAttempts))
	}
	if err := o.save(ctx, t); err != nil {
		return err
	}
	return fmt.Errorf("refund %s: %w", t.BridgeID, cause)
}

// resolveLock settles a lock that was submitted but never confirmed. If the
// adapter cannot tell whether funds moved the transfer goes to manual review.
func (o *Orchestrator) resolveLock(ctx context.Context, t *entities.BridgeTransfer) error {
	conf, err := o.awaitConfirmation(ctx, t.SourceChain, TxRef(t.SourceTxRef))
	if err != nil {
		o.flagManualReview(t, "lock submission could not be resolved")
		if serr := o.save(ctx, t); serr != nil {
			return serr
		}
		return domainerrors.RefundNotAllowedError(string(t.Status), "lock submission could not be resolved")
	}
	t.SourceTxHash = conf.TxHash
	t.UpdatedAt = o.now()
	return nil
}

// resolveDelivery settles a mint or release that was submitted but never
// confirmed. Only a delivery the chain reports as failed lets the refund go
// ahead; one that landed or cannot be resolved goes to manual review.
func (o *Orchestrator) resolveDelivery(ctx context.Context, t *entities.BridgeTransfer) error {
	conf, err := o.awaitConfirmation(ctx, t.DestinationChain, TxRef(t.DestinationTxRef))
	switch {
	case err == nil:
		if lerr := o.recordLate(t, entities.LegDestination, conf.TxHash, "delivery landed before refund", o.now()); lerr != nil && !errors.Is(lerr, errNoChange) {
			return lerr
		}
	case IsTxFailed(err):
		o.logger.Info("Delivery failed on chain, refund may proceed",
			zap.String("bridge_id", t.BridgeID),
			zap.String("destination_tx_ref", t.DestinationTxRef),
			zap.Error(err))
		return nil
	default:
		o.flagManualReview(t, "delivery submission could not be resolved")
	}

	if serr := o.save(ctx, t); serr != nil {
		return serr
	}
	return domainerrors.RefundNotAllowedError(string(t.Status), "destination delivery was not ruled out")
}

// recordLate keeps a transaction observed after its phase ended in the
// reconciliation trail and holds the transfer for manual review. Provenance
// fields are left untouched.
func (o *Orchestrator) recordLate(t *entities.BridgeTransfer, leg, txHash, reason string, now time.Time) error {
	if prior, ok := t.LateConfirmation(leg); ok {
		if prior.TxHash == txHash {
			return errNoChange
		}
		return domainerrors.ConflictingConfirmationError(leg+"_tx_hash", prior.TxHash, txHash)
	}
	t.LateConfirmations = append(t.LateConfirmations, entities.LateConfirmation{Leg: leg, TxHash: txHash, At: now})
	t.UpdatedAt = now
	o.flagManualReview(t, reason)
	return nil
}

func (o *Orchestrator) flagManualReview(t *entities.BridgeTransfer, reason string) {
	if t.RequiresManualReview {
		return
	}
	t.RequiresManualReview = true
	metrics.BridgeManualReview.Inc()
	o.logger.Error("Bridge transfer requires manual review",
		zap.String("bridge_id", t.BridgeID),
		zap.String("status", string(t.Status)),
		zap.String("reason", reason))
}

func (o *Orchestrator) observeTerminal(t *entities.BridgeTransfer) {
	metrics.BridgeTransferDuration.WithLabelValues(string(t.Direction), string(t.Status)).
		Observe(t.StatusUpdatedAt.Sub(t.CreatedAt).Seconds())
}

// deliveryStatus picks RELEASING when the destination is the token's home
// chain holding native reserves, MINTING otherwise.
func (o *Orchestrator) deliveryStatus(t *entities.BridgeTransfer) entities.BridgeStatus {
	if chain, ok := o.cfg.Chains[t.DestinationChain]; ok && chain.NativeToken {
		return entities.BridgeStatusReleasing
	}
	return entities.BridgeStatusMinting
}

func (o *Orchestrator) submitLock(ctx context.Context, t *entities.BridgeTransfer) error {
	adapter, ok := o.adapters[t.SourceChain]
	if !ok {
		return nil
	}

	ref, err := o.callAdapter(ctx, t.SourceChain, "lock", func() (TxRef, error) {
		return adapter.Lock(ctx, t.Amount, t.VerificationHash)
	})
	if err != nil {
		if ferr := o.failLocked(t, entities.FailureReasonAdapterError, "lock: "+err.Error(), o.now()); ferr != nil {
			return ferr
		}
		return o.save(ctx, t)
	}

	t.SourceTxRef = string(ref)
	t.UpdatedAt = o.now()
	if err := o.save(ctx, t); err != nil {
		return err
	}
	if o.cfg.AwaitConfirmations {
		o.watch(t.BridgeID, t.SourceChain, ref, o.ConfirmLock)
	}
	return nil
}

func (o *Orchestrator) submitDelivery(ctx context.Context, t *entities.BridgeTransfer) error {
	adapter, ok := o.adapters[t.DestinationChain]
	if !ok {
		return nil
	}

	op := "mint"
	if t.Status == entities.BridgeStatusReleasing {
		op = "release"
	}
	ref, err := o.callAdapter(ctx, t.DestinationChain, op, func() (TxRef, error) {
		return adapter.MintOrRelease(ctx, t.NetAmount, t.DestinationAddress)
	})
	if err != nil {
		if ferr := o.failLocked(t, entities.FailureReasonAdapterError, op+": "+err.Error(), o.now()); ferr != nil {
			return ferr
		}
		return o.save(ctx, t)
	}

	t.DestinationTxRef = string(ref)
	t.UpdatedAt = o.now()
	if err := o.save(ctx, t); err != nil {
		return err
	}
	if o.cfg.AwaitConfirmations {
		o.watch(t.BridgeID, t.DestinationChain, ref, o.ConfirmDestination)
	}
	return nil
}

type confirmFunc func(ctx context.Context, key, txHash string) (*entities.BridgeTransfer, error)

// watch waits for a submitted transaction in the background and reports the
// outcome through confirm, or fails the transfer.
func (o *Orchestrator) watch(bridgeID, chain string, ref TxRef, confirm confirmFunc) {
	o.watchers.Add(1)
	go func() {
		defer o.watchers.Done()

		ctx, cancel := context.WithTimeout(o.watchCtx, o.cfg.TransactionTimeout)
		defer cancel()

		conf, err := o.awaitConfirmation(ctx, chain, ref)
		if o.watchCtx.Err() != nil {
			return
		}
		if err != nil {
			reason := entities.FailureReasonAdapterError
			if errors.Is(err, context.DeadlineExceeded) {
				reason = entities.FailureReasonTimeout
			}
			if _, ferr := o.Fail(o.watchCtx, bridgeID, reason, fmt.Sprintf("await %s: %v", ref, err)); ferr != nil {
				o.logger.Error("Failed to record watcher failure", zap.String("bridge_id", bridgeID), zap.Error(ferr))
			}
			return
		}
		if _, err := confirm(o.watchCtx, bridgeID, conf.TxHash); err != nil {
			o.logger.Error("Failed to apply confirmation",
				zap.String("bridge_id", bridgeID),
				zap.String("tx_hash", conf.TxHash),
				zap.Error(err))
		}
	}()
}

func (o *Orchestrator) awaitConfirmation(ctx context.Context, chain string, ref TxRef) (*Confirmation, error) {
	adapter, ok := o.adapters[chain]
	if !ok {
		return nil, domainerrors.ServiceUnavailableError("chain adapter "+chain, nil)
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.TransactionTimeout)
	defer cancel()

	res, err := o.retrier.DoWithResult(ctx, func() (interface{}, error) {
		return adapter.AwaitConfirmation(ctx, ref)
	})
	if err != nil {
		metrics.BridgeAdapterErrors.WithLabelValues(chain, "await_confirmation").Inc()
		return nil, err
	}
	conf, _ := res.(*Confirmation)
	if conf == nil || !conf.Confirmed || conf.TxHash == "" {
		return nil, fmt.Errorf("transaction %s on %s was not confirmed", ref, chain)
	}
	return conf, nil
}

func (o *Orchestrator) callAdapter(ctx context.Context, chain, operation string, call func() (TxRef, error)) (TxRef, error) {
	res, err := o.retrier.DoWithResult(ctx, func() (interface{}, error) {
		ref, err := call()
		return ref, err
	})
	if err != nil {
		metrics.BridgeAdapterErrors.WithLabelValues(chain, operation).Inc()
		o.logger.Error("Chain adapter call failed",
			zap.String("chain", chain),
			zap.String("operation", operation),
			zap.Error(err))
		return "", err
	}
	return res.(TxRef), nil
}

// withLock resolves key (transfer id or bridge id), takes the transfer's
// lock and hands a freshly loaded copy to fn. fn persists its own changes.
func (o *Orchestrator) withLock(ctx context.Context, key string, fn func(t *entities.BridgeTransfer) error) error {
	id, err := o.resolveID(ctx, key)
	if err != nil {
		return err
	}

	unlock := o.locks.Lock(id.String())
	defer unlock()

	t, err := o.store.Load(ctx, id)
	if err != nil {
		return fmt.Errorf("load bridge transfer: %w", err)
	}
	if t == nil {
		return domainerrors.TransferNotFoundError(key)
	}
	return fn(t)
}

// mutate is withLock followed by a save, unless fn reports errNoChange
func (o *Orchestrator) mutate(ctx context.Context, key string, fn func(t *entities.BridgeTransfer) error) (*entities.BridgeTransfer, error) {
	var snapshot *entities.BridgeTransfer
	err := o.withLock(ctx, key, func(t *entities.BridgeTransfer) error {
		if err := fn(t); err != nil {
			if errors.Is(err, errNoChange) {
				snapshot = t.Clone()
				return nil
			}
			return err
		}
		if err := o.save(ctx, t); err != nil {
			return err
		}
		snapshot = t.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

func (o *Orchestrator) resolveID(ctx context.Context, key string) (uuid.UUID, error) {
	if id, err := uuid.Parse(key); err == nil {
		return id, nil
	}
	t, err := o.store.LoadByBridgeID(ctx, key)
	if err != nil {
		return uuid.Nil, fmt.Errorf("load bridge transfer: %w", err)
	}
	if t == nil {
		return uuid.Nil, domainerrors.TransferNotFoundError(key)
	}
	return t.ID, nil
}

func (o *Orchestrator) save(ctx context.Context, t *entities.BridgeTransfer) error {
	if err := o.store.Save(ctx, t); err != nil {
		return fmt.Errorf("save bridge transfer: %w", err)
	}
	return nil
}

func newBridgeID(id uuid.UUID) string {
	return "br_" + strings.ReplaceAll(id.String(), "-", "")
}
