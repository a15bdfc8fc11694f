// Withdrawal Handlers - caller enqueue/status and operator review endpoints
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/toncenter/examples/internal/models"
	"github.com/toncenter/examples/internal/services"
	"github.com/toncenter/examples/internal/types"
)

// TaskTrigger runs a scheduler task on demand
type TaskTrigger interface {
	Trigger(ctx context.Context, name string) (bool, error)
}

// WithdrawalHandler exposes the withdrawal engine over HTTP
type WithdrawalHandler struct {
	service   *services.WithdrawalService
	scheduler TaskTrigger
}

// NewWithdrawalHandler creates a new WithdrawalHandler instance
func NewWithdrawalHandler(service *services.WithdrawalService, scheduler TaskTrigger) *WithdrawalHandler {
	return &WithdrawalHandler{service: service, scheduler: scheduler}
}

// EnqueueHandler POST /api/withdrawals
func (h *WithdrawalHandler) EnqueueHandler(c *gin.Context) {
	var req types.EnqueueWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body", err.Error())
		return
	}

	id, err := h.service.Enqueue(c.Request.Context(), req.Destination, req.Amount, models.AssetKind(req.Asset), req.JettonName)
	if err != nil {
		respondWithServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"id":      id,
		"status":  models.RequestStatusPending,
	})
}

// StatusHandler GET /api/withdrawals/:id
func (h *WithdrawalHandler) StatusHandler(c *gin.Context) {
	view, err := h.service.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, statusResponse(view))
}

func statusResponse(view *services.RequestView) types.WithdrawalStatusResponse {
	r := view.Request
	return types.WithdrawalStatusResponse{
		ID:          r.ID,
		Destination: r.Destination,
		Amount:      r.Amount,
		Asset:       string(r.AssetKind),
		JettonName:  r.JettonName,
		Status:      string(view.Status),
		BatchID:     r.BatchID,
	}
}

// ReviewQueueHandler GET /api/admin/review
func (h *WithdrawalHandler) ReviewQueueHandler(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 || limit > 1000 {
		respondWithError(c, http.StatusBadRequest, "INVALID_LIMIT", "limit must be between 1 and 1000", nil)
		return
	}

	queue, err := h.service.ListForReview(c.Request.Context(), limit)
	if err != nil {
		respondWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"batches":     queue.Batches,
		"failed_legs": queue.FailedLegs,
	})
}

// ReleaseBatchHandler POST /api/admin/batches/:id/release
func (h *WithdrawalHandler) ReleaseBatchHandler(c *gin.Context) {
	h.batchAction(c, "release", h.service.ReleaseBatch)
}

// AcknowledgeBatchHandler POST /api/admin/batches/:id/ack
func (h *WithdrawalHandler) AcknowledgeBatchHandler(c *gin.Context) {
	h.batchAction(c, "ack", h.service.AcknowledgeBatch)
}

func (h *WithdrawalHandler) batchAction(c *gin.Context, action string, do func(ctx context.Context, batchID uint64) error) {
	batchID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || batchID == 0 {
		respondWithError(c, http.StatusBadRequest, "INVALID_BATCH_ID", "batch id must be a positive integer", nil)
		return
	}

	var req types.ReleaseRequest
	_ = c.ShouldBindJSON(&req)

	if err := do(c.Request.Context(), batchID); err != nil {
		respondWithServiceError(c, err)
		return
	}

	logrus.WithFields(logrus.Fields{
		"batch_id": batchID,
		"action":   action,
		"operator": c.GetString("admin_username"),
		"note":     req.Note,
	}).Info("🔧 Operator batch action")
	c.JSON(http.StatusOK, gin.H{"success": true, "batch_id": batchID, "action": action})
}

// ReleaseRequestHandler POST /api/admin/requests/:id/release
func (h *WithdrawalHandler) ReleaseRequestHandler(c *gin.Context) {
	var req types.ReleaseRequest
	_ = c.ShouldBindJSON(&req)

	id := c.Param("id")
	if err := h.service.ReleaseRequest(c.Request.Context(), id); err != nil {
		respondWithServiceError(c, err)
		return
	}

	logrus.WithFields(logrus.Fields{
		"request_id": id,
		"operator":   c.GetString("admin_username"),
		"note":       req.Note,
	}).Info("🔧 Operator request release")
	c.JSON(http.StatusOK, gin.H{"success": true, "request_id": id})
}

// TriggerTaskHandler POST /api/admin/tasks/:name/trigger
func (h *WithdrawalHandler) TriggerTaskHandler(c *gin.Context) {
	name := c.Param("name")
	ran, err := h.scheduler.Trigger(c.Request.Context(), name)
	if errors.Is(err, services.ErrUnknownTask) {
		respondWithError(c, http.StatusNotFound, "UNKNOWN_TASK", err.Error(), nil)
		return
	}
	if err != nil {
		respondWithError(c, http.StatusBadGateway, "TASK_FAILED", err.Error(), nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "task": name, "ran": ran})
}
