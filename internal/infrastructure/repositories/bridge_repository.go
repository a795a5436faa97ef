package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/rail-service/bridge_core/internal/domain/entities"
)

const bridgeTransferColumns = `
	id, bridge_id, verification_hash, direction, source_chain, destination_chain,
	source_address, destination_address, amount, base_fee, percentage_fee, fee, net_amount,
	status, status_updated_at,
	COALESCE(failure_reason, '') AS failure_reason,
	COALESCE(error_message, '') AS error_message,
	COALESCE(source_tx_ref, '') AS source_tx_ref,
	COALESCE(source_tx_hash, '') AS source_tx_hash,
	COALESCE(destination_tx_ref, '') AS destination_tx_ref,
	COALESCE(destination_tx_hash, '') AS destination_tx_hash,
	required_signatures, validator_set_version, signatures, quorum_reached_at,
	refund_amount,
	COALESCE(refund_tx_ref, '') AS refund_tx_ref,
	COALESCE(refund_tx_hash, '') AS refund_tx_hash,
	refund_attempts, requires_manual_review, history, late_confirmations,
	created_at, updated_at, completed_at`

// BridgeRepository persists bridge transfers in Postgres
type BridgeRepository struct {
	db *sqlx.DB
}

// NewBridgeRepository creates a new bridge repository
func NewBridgeRepository(db *sqlx.DB) *BridgeRepository {
	return &BridgeRepository{db: db}
}

// Save upserts the full record. Provenance columns only ever go from NULL to
// a value, which the unique indexes on the tx hashes rely on.
func (r *BridgeRepository) Save(ctx context.Context, t *entities.BridgeTransfer) error {
	query := `
		INSERT INTO bridge_transfers (
			id, bridge_id, verification_hash, direction, source_chain, destination_chain,
			source_address, destination_address, amount, base_fee, percentage_fee, fee, net_amount,
			status, status_updated_at, failure_reason, error_message,
			source_tx_ref, source_tx_hash, destination_tx_ref, destination_tx_hash,
			required_signatures, validator_set_version, signatures, quorum_reached_at,
			refund_amount, refund_tx_ref, refund_tx_hash, refund_attempts, requires_manual_review,
			history, created_at, updated_at, completed_at, late_confirmations
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
			$18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, $33, $34, $35
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			status_updated_at = EXCLUDED.status_updated_at,
			failure_reason = EXCLUDED.failure_reason,
			error_message = EXCLUDED.error_message,
			source_tx_ref = EXCLUDED.source_tx_ref,
			source_tx_hash = EXCLUDED.source_tx_hash,
			destination_tx_ref = EXCLUDED.destination_tx_ref,
			destination_tx_hash = EXCLUDED.destination_tx_hash,
			required_signatures = EXCLUDED.required_signatures,
			validator_set_version = EXCLUDED.validator_set_version,
			signatures = EXCLUDED.signatures,
			quorum_reached_at = EXCLUDED.quorum_reached_at,
			refund_amount = EXCLUDED.refund_amount,
			refund_tx_ref = EXCLUDED.refund_tx_ref,
			refund_tx_hash = EXCLUDED.refund_tx_hash,
			refund_attempts = EXCLUDED.refund_attempts,
			requires_manual_review = EXCLUDED.requires_manual_review,
			history = EXCLUDED.history,
			late_confirmations = EXCLUDED.late_confirmations,
			updated_at = EXCLUDED.updated_at,
			completed_at = EXCLUDED.completed_at`

	_, err := r.db.ExecContext(ctx, query,
		t.ID, t.BridgeID, t.VerificationHash, t.Direction, t.SourceChain, t.DestinationChain,
		t.SourceAddress, t.DestinationAddress, t.Amount, t.BaseFee, t.PercentageFee, t.Fee, t.NetAmount,
		t.Status, t.StatusUpdatedAt, nullString(string(t.FailureReason)), nullString(t.ErrorMessage),
		nullString(t.SourceTxRef), nullString(t.SourceTxHash), nullString(t.DestinationTxRef), nullString(t.DestinationTxHash),
		t.RequiredSignatures, t.ValidatorSetVersion, t.Signatures, t.QuorumReachedAt,
		t.RefundAmount, nullString(t.RefundTxRef), nullString(t.RefundTxHash), t.RefundAttempts, t.RequiresManualReview,
		t.History, t.CreatedAt, t.UpdatedAt, t.CompletedAt, t.LateConfirmations,
	)
	if err != nil {
		return fmt.Errorf("upsert bridge transfer %s: %w", t.BridgeID, err)
	}
	return nil
}

func (r *BridgeRepository) Load(ctx context.Context, id uuid.UUID) (*entities.BridgeTransfer, error) {
	return r.getOne(ctx, `SELECT `+bridgeTransferColumns+` FROM bridge_transfers WHERE id = $1`, id)
}

func (r *BridgeRepository) LoadByBridgeID(ctx context.Context, bridgeID string) (*entities.BridgeTransfer, error) {
	return r.getOne(ctx, `SELECT `+bridgeTransferColumns+` FROM bridge_transfers WHERE bridge_id = $1`, bridgeID)
}

func (r *BridgeRepository) GetByVerificationHash(ctx context.Context, hash string) (*entities.BridgeTransfer, error) {
	return r.getOne(ctx, `SELECT `+bridgeTransferColumns+` FROM bridge_transfers WHERE verification_hash = $1`, hash)
}

func (r *BridgeRepository) ListByStatus(ctx context.Context, status entities.BridgeStatus) ([]*entities.BridgeTransfer, error) {
	var transfers []*entities.BridgeTransfer
	query := `SELECT ` + bridgeTransferColumns + ` FROM bridge_transfers WHERE status = $1 ORDER BY created_at ASC`
	if err := r.db.SelectContext(ctx, &transfers, query, status); err != nil {
		return nil, fmt.Errorf("list bridge transfers by status %s: %w", status, err)
	}
	return transfers, nil
}

func (r *BridgeRepository) getOne(ctx context.Context, query string, arg interface{}) (*entities.BridgeTransfer, error) {
	var t entities.BridgeTransfer
	if err := r.db.GetContext(ctx, &t, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
