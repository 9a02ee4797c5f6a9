package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Mayorlee0/verify-protocol-mvp/internal/dto"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/events"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/services"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "Idempotent-Replayed"

	createBatchScope = "POST /mfg/batches"
	maxBatchBody     = 64 << 10
)

// ManufacturerHandler batch lifecycle and plaintext handoff for manufacturers
type ManufacturerHandler struct {
	manufacturer *services.ManufacturerService
	idempotency  *services.IdempotencyService
	hub          *events.Hub
	logger       *logrus.Logger
}

// NewManufacturerHandler creates a ManufacturerHandler. hub may be nil when the feed is disabled.
func NewManufacturerHandler(
	manufacturer *services.ManufacturerService,
	idempotency *services.IdempotencyService,
	hub *events.Hub,
	logger *logrus.Logger,
) *ManufacturerHandler {
	return &ManufacturerHandler{
		manufacturer: manufacturer,
		idempotency:  idempotency,
		hub:          hub,
		logger:       logger,
	}
}

// CreateBatch POST /mfg/batches
// With an Idempotency-Key header a retried request replays the first response.
func (h *ManufacturerHandler) CreateBatch(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBatchBody))
	if err != nil {
		badRequest(c, "unreadable body")
		return
	}

	ctx := c.Request.Context()
	key := c.GetHeader(HeaderIdempotencyKey)
	fingerprint := services.Fingerprint(raw)
	if key != "" {
		stored, err := h.idempotency.Reserve(ctx, createBatchScope, key, fingerprint)
		if err != nil {
			writeError(c, h.logger, err)
			return
		}
		if stored != nil {
			c.Header(HeaderReplayed, "true")
			c.Data(stored.Status, "application/json; charset=utf-8", stored.Body)
			return
		}
	}

	body, err := h.createBatch(c, raw)
	if err != nil {
		if key != "" {
			if releaseErr := h.idempotency.Release(context.WithoutCancel(ctx), createBatchScope, key); releaseErr != nil {
				h.logger.WithFields(logrus.Fields{
					"idempotency_key": key,
					"error":           releaseErr.Error(),
				}).Warn("Idempotency key not released")
			}
		}
		if errors.Is(err, errBadBatchRequest) {
			badRequest(c, "manufacturer_id, sku_code, batch_label and quantity are required")
			return
		}
		writeError(c, h.logger, err)
		return
	}

	if key != "" {
		stored := services.StoredResponse{Status: http.StatusCreated, Body: body}
		if err := h.idempotency.Complete(context.WithoutCancel(ctx), createBatchScope, key, stored); err != nil {
			h.logger.WithFields(logrus.Fields{
				"idempotency_key": key,
				"error":           err.Error(),
			}).Warn("Idempotency record not completed")
		}
	}
	c.Data(http.StatusCreated, "application/json; charset=utf-8", body)
}

var errBadBatchRequest = errors.New("invalid batch request")

// createBatch binds the request, creates the batch with its pack and renders the response body.
func (h *ManufacturerHandler) createBatch(c *gin.Context, raw []byte) ([]byte, error) {
	c.Request.Body = io.NopCloser(bytes.NewReader(raw))
	var req dto.CreateBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return nil, errBadBatchRequest
	}

	batch, pack, err := h.manufacturer.CreateBatchAndPack(c.Request.Context(), services.CreateBatchInput{
		ManufacturerID:  req.ManufacturerID,
		SKUCode:         req.SKUCode,
		SKUName:         req.SKUName,
		BatchLabel:      req.BatchLabel,
		ExpiryDate:      req.ExpiryDate,
		Quantity:        req.Quantity,
		RewardUSDTarget: req.RewardUSDTarget,
	})
	if err != nil {
		return nil, err
	}

	return json.Marshal(dto.CreateBatchResponse{
		BatchPublicID: batch.BatchPublicID,
		Status:        string(batch.Status),
		PackID:        pack.PackID,
		PackStatus:    string(pack.Status),
		Quantity:      pack.Quantity,
	})
}

// GetPack GET /mfg/packs/:pack_id
func (h *ManufacturerHandler) GetPack(c *gin.Context) {
	details, err := h.manufacturer.GetPack(c.Request.Context(), c.Param("pack_id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	pack, batch := details.Pack, details.Batch

	resp := dto.PackResponse{
		PackID:            pack.PackID,
		BatchPublicID:     batch.BatchPublicID,
		Status:            string(pack.Status),
		Quantity:          pack.Quantity,
		ExpiresAt:         pack.DownloadExpiresAt,
		PrintConfirmedAt:  pack.PrintConfirmedAt,
		PlaintextPurgedAt: pack.PlaintextPurgedAt,
	}
	if batch.SKU != nil {
		resp.SKUCode = batch.SKU.SKUCode
	}
	if !pack.Purged() {
		resp.DownloadURL = fmt.Sprintf("/mfg/packs/%s/download", pack.PackID)
	}
	c.JSON(http.StatusOK, resp)
}

// DownloadPack GET /mfg/packs/:pack_id/download
func (h *ManufacturerHandler) DownloadPack(c *gin.Context) {
	packID := c.Param("pack_id")
	csvData, err := h.manufacturer.BuildPackCSV(c.Request.Context(), packID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="pack_%s.csv"`, packID))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "text/csv", csvData)
}

// ConfirmPrinted POST /mfg/packs/:pack_id/confirm-printed
func (h *ManufacturerHandler) ConfirmPrinted(c *gin.Context) {
	pack, err := h.manufacturer.ConfirmPrinted(c.Request.Context(), c.Param("pack_id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, dto.ConfirmPrintedResponse{
		Status:          string(pack.Status),
		PackID:          pack.PackID,
		PlaintextPurged: pack.Purged(),
		PurgedAt:        pack.PlaintextPurgedAt,
	})
}

// ActivateBatch POST /mfg/batches/:batch_public_id/activate
func (h *ManufacturerHandler) ActivateBatch(c *gin.Context) {
	batch, err := h.manufacturer.ActivateBatch(c.Request.Context(), c.Param("batch_public_id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, dto.ActivateBatchResponse{
		BatchPublicID: batch.BatchPublicID,
		Status:        string(batch.Status),
		TxRef:         batch.ActivatedTxRef,
		ActivatedAt:   batch.ActivatedAt,
	})
}

// Feed GET /mfg/feed, websocket stream of domain events
func (h *ManufacturerHandler) Feed(c *gin.Context) {
	if h.hub == nil {
		c.JSON(http.StatusServiceUnavailable, dto.NewError("FEED_DISABLED", "live feed is not enabled"))
		return
	}
	h.hub.ServeWS(c.Writer, c.Request)
}
