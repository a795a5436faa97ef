package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rail-service/bridge_core/internal/domain/entities"
	"github.com/rail-service/bridge_core/internal/domain/services/bridge"
)

// BridgeService is the orchestrator surface exposed over HTTP
type BridgeService interface {
	InitiateBridge(ctx context.Context, req *entities.BridgeRequest) (*entities.InitiateBridgeResponse, error)
	GetBridgeStatus(ctx context.Context, bridgeID string) (*entities.BridgeStatusResponse, error)
	SubmitValidatorSignature(ctx context.Context, bridgeID, validatorID, signature string) (*entities.SignatureSubmissionResponse, error)
	GetSupportedChains() []entities.ChainConfig
	GetBridgeHealth(ctx context.Context) *entities.BridgeHealth
	ConfirmLock(ctx context.Context, key, sourceTxHash string) (*entities.BridgeTransfer, error)
	ConfirmDestination(ctx context.Context, key, destinationTxHash string) (*entities.BridgeTransfer, error)
	Fail(ctx context.Context, key string, reason entities.FailureReason, message string) (*entities.BridgeTransfer, error)
	Refund(ctx context.Context, key string) (*entities.BridgeTransfer, error)
}

// BridgeHandlers serves the bridge API
type BridgeHandlers struct {
	service BridgeService
	logger  *zap.Logger
}

// NewBridgeHandlers creates bridge handlers
func NewBridgeHandlers(service BridgeService, logger *zap.Logger) *BridgeHandlers {
	return &BridgeHandlers{service: service, logger: logger}
}

// Initiate handles POST /api/v1/bridge
// @Summary Initiate a bridge transfer
// @Description Validates the request, fixes fee and verification hash and records the transfer as INITIATED
// @Tags bridge
// @Accept json
// @Produce json
// @Param Idempotency-Key header string false "Client supplied idempotency key"
// @Param request body entities.BridgeRequest true "Bridge request"
// @Success 201 {object} entities.InitiateBridgeResponse
// @Failure 400 {object} entities.ErrorResponse
// @Failure 409 {object} entities.ErrorResponse
// @Failure 500 {object} entities.ErrorResponse
// @Router /bridge [post]
func (h *BridgeHandlers) Initiate(c *gin.Context) {
	var req entities.BridgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		SendBadRequest(c, ErrCodeInvalidRequest, MsgInvalidRequest, map[string]interface{}{"error": err.Error()})
		return
	}

	resp, err := h.service.InitiateBridge(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, "initiate", err)
		return
	}
	SendCreated(c, resp)
}

// GetStatus handles GET /api/v1/bridge/:bridgeId
// @Summary Get bridge transfer status
// @Description Returns the transfer snapshot with its progress flags
// @Tags bridge
// @Produce json
// @Param bridgeId path string true "Bridge ID or transfer ID"
// @Success 200 {object} entities.BridgeStatusResponse
// @Failure 404 {object} entities.ErrorResponse
// @Failure 500 {object} entities.ErrorResponse
// @Router /bridge/{bridgeId} [get]
func (h *BridgeHandlers) GetStatus(c *gin.Context) {
	resp, err := h.service.GetBridgeStatus(c.Request.Context(), c.Param("bridgeId"))
	if err != nil {
		h.fail(c, "get_status", err)
		return
	}
	SendSuccess(c, resp)
}

// SubmitSignature handles POST /api/v1/bridge/:bridgeId/signatures
// @Summary Submit a validator attestation
// @Description Verifies a validator signature over the verification hash and counts it towards quorum
// @Tags bridge
// @Accept json
// @Produce json
// @Param bridgeId path string true "Bridge ID or transfer ID"
// @Param request body entities.SignatureRequest true "Validator signature"
// @Success 200 {object} entities.SignatureSubmissionResponse
// @Failure 400 {object} entities.ErrorResponse
// @Failure 404 {object} entities.ErrorResponse
// @Failure 409 {object} entities.ErrorResponse
// @Failure 422 {object} entities.ErrorResponse
// @Failure 503 {object} entities.ErrorResponse
// @Router /bridge/{bridgeId}/signatures [post]
func (h *BridgeHandlers) SubmitSignature(c *gin.Context) {
	var req entities.SignatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		SendBadRequest(c, ErrCodeInvalidRequest, MsgInvalidRequest, map[string]interface{}{"error": err.Error()})
		return
	}

	resp, err := h.service.SubmitValidatorSignature(c.Request.Context(), c.Param("bridgeId"), req.ValidatorID, req.Signature)
	if err != nil {
		h.fail(c, "submit_signature", err)
		return
	}
	SendSuccess(c, resp)
}

// ConfirmLock handles POST /api/v1/bridge/:bridgeId/lock-confirmations
// @Summary Confirm the source chain lock
// @Tags bridge
// @Accept json
// @Produce json
// @Param bridgeId path string true "Bridge ID or transfer ID"
// @Param request body entities.ConfirmationRequest true "Source transaction hash"
// @Success 200 {object} entities.BridgeStatusResponse
// @Failure 400 {object} entities.ErrorResponse
// @Failure 404 {object} entities.ErrorResponse
// @Failure 409 {object} entities.ErrorResponse
// @Router /bridge/{bridgeId}/lock-confirmations [post]
func (h *BridgeHandlers) ConfirmLock(c *gin.Context) {
	var req entities.ConfirmationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		SendBadRequest(c, ErrCodeInvalidRequest, MsgInvalidRequest, map[string]interface{}{"error": err.Error()})
		return
	}

	transfer, err := h.service.ConfirmLock(c.Request.Context(), c.Param("bridgeId"), req.TxHash)
	if err != nil {
		h.fail(c, "confirm_lock", err)
		return
	}
	SendSuccess(c, statusResponse(transfer))
}

// ConfirmDestination handles POST /api/v1/bridge/:bridgeId/destination-confirmations
// @Summary Confirm delivery on the destination chain
// @Tags bridge
// @Accept json
// @Produce json
// @Param bridgeId path string true "Bridge ID or transfer ID"
// @Param request body entities.ConfirmationRequest true "Destination transaction hash"
// @Success 200 {object} entities.BridgeStatusResponse
// @Failure 400 {object} entities.ErrorResponse
// @Failure 404 {object} entities.ErrorResponse
// @Failure 409 {object} entities.ErrorResponse
// @Router /bridge/{bridgeId}/destination-confirmations [post]
func (h *BridgeHandlers) ConfirmDestination(c *gin.Context) {
	var req entities.ConfirmationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		SendBadRequest(c, ErrCodeInvalidRequest, MsgInvalidRequest, map[string]interface{}{"error": err.Error()})
		return
	}

	transfer, err := h.service.ConfirmDestination(c.Request.Context(), c.Param("bridgeId"), req.TxHash)
	if err != nil {
		h.fail(c, "confirm_destination", err)
		return
	}
	SendSuccess(c, statusResponse(transfer))
}

// Fail handles POST /api/v1/bridge/:bridgeId/fail
// @Summary Fail a bridge transfer
// @Description Moves a non-terminal transfer to FAILED. The reason defaults to MANUAL.
// @Tags bridge
// @Accept json
// @Produce json
// @Param bridgeId path string true "Bridge ID or transfer ID"
// @Param request body entities.FailRequest false "Failure reason and message"
// @Success 200 {object} entities.BridgeStatusResponse
// @Failure 400 {object} entities.ErrorResponse
// @Failure 404 {object} entities.ErrorResponse
// @Failure 409 {object} entities.ErrorResponse
// @Router /bridge/{bridgeId}/fail [post]
func (h *BridgeHandlers) Fail(c *gin.Context) {
	var req entities.FailRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			SendBadRequest(c, ErrCodeInvalidRequest, MsgInvalidRequest, map[string]interface{}{"error": err.Error()})
			return
		}
	}
	if req.Reason != "" && !req.Reason.IsValid() {
		SendBadRequest(c, ErrCodeInvalidRequest, "unknown failure reason", map[string]interface{}{"reason": req.Reason})
		return
	}

	transfer, err := h.service.Fail(c.Request.Context(), c.Param("bridgeId"), req.Reason, req.Message)
	if err != nil {
		h.fail(c, "fail", err)
		return
	}
	SendSuccess(c, statusResponse(transfer))
}

// Refund handles POST /api/v1/bridge/:bridgeId/refund
// @Summary Refund a failed bridge transfer
// @Description Returns locked funds of a FAILED transfer to the sender
// @Tags bridge
// @Produce json
// @Param bridgeId path string true "Bridge ID or transfer ID"
// @Success 200 {object} entities.BridgeStatusResponse
// @Failure 404 {object} entities.ErrorResponse
// @Failure 409 {object} entities.ErrorResponse
// @Failure 503 {object} entities.ErrorResponse
// @Router /bridge/{bridgeId}/refund [post]
func (h *BridgeHandlers) Refund(c *gin.Context) {
	transfer, err := h.service.Refund(c.Request.Context(), c.Param("bridgeId"))
	if err != nil {
		h.fail(c, "refund", err)
		return
	}
	SendSuccess(c, statusResponse(transfer))
}

// GetSupportedChains handles GET /api/v1/bridge/chains
// @Summary List supported chains
// @Tags bridge
// @Produce json
// @Success 200 {object} map[string][]entities.ChainConfig
// @Router /bridge/chains [get]
func (h *BridgeHandlers) GetSupportedChains(c *gin.Context) {
	SendSuccess(c, gin.H{"chains": h.service.GetSupportedChains()})
}

// GetHealth handles GET /api/v1/bridge/health
// @Summary Bridge connectivity health
// @Tags bridge
// @Produce json
// @Success 200 {object} entities.BridgeHealth
// @Failure 503 {object} entities.BridgeHealth
// @Router /bridge/health [get]
func (h *BridgeHandlers) GetHealth(c *gin.Context) {
	health := h.service.GetBridgeHealth(c.Request.Context())

	statusCode := http.StatusOK
	if health.Status == bridge.HealthStatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, health)
}

func (h *BridgeHandlers) fail(c *gin.Context, op string, err error) {
	status := statusFor(err)
	fields := []zap.Field{
		zap.String("operation", op),
		zap.String("bridge_id", c.Param("bridgeId")),
		zap.Int("status_code", status),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("Bridge request failed", fields...)
	} else {
		h.logger.Debug("Bridge request rejected", fields...)
	}
	SendError(c, err)
}

func statusResponse(t *entities.BridgeTransfer) *entities.BridgeStatusResponse {
	return &entities.BridgeStatusResponse{BridgeTransfer: t, Progress: t.Progress()}
}
