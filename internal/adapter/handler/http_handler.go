package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
	"github.com/rl1809/inventory-ledger/internal/core/service"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type ServiceInfo struct {
	Name    string
	Version string
}

type HTTPHandler struct {
	ledger     *service.LedgerService
	validation *service.ValidationService
	outbox     *service.OutboxDispatcher
	store      Pinger
	info       ServiceInfo
	logger     *zap.Logger
}

type ReceiveRequest struct {
	ItemID      string `json:"item_id"`
	SKU         string `json:"sku"`
	Location    string `json:"location"`
	Quantity    int    `json:"quantity"`
	ReferenceID string `json:"reference_id"`
	Notes       string `json:"notes"`
}

// MovementRequest is the body of reserve, release and issue.
type MovementRequest struct {
	ItemID      string `json:"item_id"`
	Quantity    int    `json:"quantity"`
	ReferenceID string `json:"reference_id"`
}

type AdjustRequest struct {
	ItemID        string `json:"item_id"`
	QuantityDelta int    `json:"quantity_delta"`
	Notes         string `json:"notes"`
	ReferenceID   string `json:"reference_id"`
}

type CheckStockRequest struct {
	RequesterRef string `json:"requester_ref"`
	ItemID       string `json:"item_id"`
	SKU          string `json:"sku"`
	Quantity     int    `json:"quantity"`
}

type ThresholdRequest struct {
	Threshold *int `json:"threshold"`
}

type LocationRequest struct {
	Location string `json:"location"`
}

type BalanceResponse struct {
	ItemID    string `json:"item_id"`
	SKU       string `json:"sku"`
	OnHand    int    `json:"on_hand"`
	Reserved  int    `json:"reserved"`
	Available int    `json:"available"`
	Replayed  bool   `json:"replayed"`
}

type CheckStockResponse struct {
	ItemID      string    `json:"item_id"`
	SKU         string    `json:"sku"`
	Requested   int       `json:"requested"`
	Available   int       `json:"available"`
	Sufficient  bool      `json:"sufficient"`
	EventID     string    `json:"event_id"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

type ItemResponse struct {
	ItemID            string    `json:"item_id"`
	SKU               string    `json:"sku"`
	Location          string    `json:"location"`
	OnHand            int       `json:"on_hand"`
	Reserved          int       `json:"reserved"`
	Available         int       `json:"available"`
	LowStockThreshold *int      `json:"low_stock_threshold"`
	Version           int       `json:"version"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type TransactionResponse struct {
	TransactionID string    `json:"transaction_id"`
	Kind          string    `json:"kind"`
	Quantity      int       `json:"quantity"`
	Delta         int       `json:"delta"`
	ReferenceID   string    `json:"reference_id,omitempty"`
	Notes         string    `json:"notes,omitempty"`
	OnHandAfter   int       `json:"on_hand_after"`
	ReservedAfter int       `json:"reserved_after"`
	CreatedAt     time.Time `json:"created_at"`
}

type AlertResponse struct {
	AlertID         string    `json:"alert_id"`
	ItemID          string    `json:"item_id"`
	Threshold       int       `json:"threshold"`
	CurrentQuantity int       `json:"current_quantity"`
	CreatedAt       time.Time `json:"created_at"`
}

type HealthResponse struct {
	Status        string     `json:"status"`
	Service       string     `json:"service"`
	Version       string     `json:"version"`
	OutboxPending int        `json:"outbox_pending"`
	OldestPending *time.Time `json:"oldest_pending,omitempty"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func NewHTTPHandler(
	ledger *service.LedgerService,
	validation *service.ValidationService,
	outbox *service.OutboxDispatcher,
	store Pinger,
	info ServiceInfo,
	logger *zap.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		ledger:     ledger,
		validation: validation,
		outbox:     outbox,
		store:      store,
		info:       info,
		logger:     logger,
	}
}

// Router builds the gin engine with all inventory routes mounted.
func (h *HTTPHandler) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), h.requestLogger())

	router.GET("/health", h.HealthCheck)

	inventory := router.Group("/api/v1/inventory")
	{
		inventory.POST("/receive", h.Receive)
		inventory.POST("/reserve", h.Reserve)
		inventory.POST("/release", h.Release)
		inventory.POST("/issue", h.Issue)
		inventory.POST("/adjust", h.Adjust)
		inventory.POST("/check-stock", h.CheckStock)

		inventory.GET("/alerts", h.ListAlerts)
		inventory.GET("/transactions/:id", h.ListTransactions)
		inventory.POST("/outbox/:event_id/requeue", h.RequeueEvent)

		inventory.GET("", h.ListItems)
		inventory.GET("/:id", h.GetItem)
		inventory.PUT("/:id/threshold", h.SetThreshold)
		inventory.PUT("/:id/location", h.SetLocation)
		inventory.DELETE("/:id", h.ArchiveItem)
	}

	return router
}

func (h *HTTPHandler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		h.logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func (h *HTTPHandler) Receive(c *gin.Context) {
	var req ReceiveRequest
	if !bind(c, &req) {
		return
	}

	balance, err := h.ledger.Receive(c.Request.Context(), service.ReceiveInput{
		ItemID:      req.ItemID,
		SKU:         req.SKU,
		Location:    req.Location,
		Quantity:    req.Quantity,
		ReferenceID: req.ReferenceID,
		Notes:       req.Notes,
	})
	h.respondBalance(c, balance, err)
}

func (h *HTTPHandler) Reserve(c *gin.Context) {
	var req MovementRequest
	if !bind(c, &req) {
		return
	}

	balance, err := h.ledger.Reserve(c.Request.Context(), req.ItemID, req.Quantity, req.ReferenceID)
	h.respondBalance(c, balance, err)
}

func (h *HTTPHandler) Release(c *gin.Context) {
	var req MovementRequest
	if !bind(c, &req) {
		return
	}

	balance, err := h.ledger.Release(c.Request.Context(), req.ItemID, req.Quantity, req.ReferenceID)
	h.respondBalance(c, balance, err)
}

func (h *HTTPHandler) Issue(c *gin.Context) {
	var req MovementRequest
	if !bind(c, &req) {
		return
	}

	balance, err := h.ledger.Issue(c.Request.Context(), req.ItemID, req.Quantity, req.ReferenceID)
	h.respondBalance(c, balance, err)
}

func (h *HTTPHandler) Adjust(c *gin.Context) {
	var req AdjustRequest
	if !bind(c, &req) {
		return
	}

	balance, err := h.ledger.Adjust(c.Request.Context(), req.ItemID, req.QuantityDelta, req.Notes, req.ReferenceID)
	h.respondBalance(c, balance, err)
}

func (h *HTTPHandler) CheckStock(c *gin.Context) {
	var req CheckStockRequest
	if !bind(c, &req) {
		return
	}

	result, err := h.validation.Validate(c.Request.Context(), service.ValidationRequest{
		RequesterRef: req.RequesterRef,
		ItemID:       req.ItemID,
		SKU:          req.SKU,
		Quantity:     req.Quantity,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, CheckStockResponse{
		ItemID:      result.ItemID,
		SKU:         result.SKU,
		Requested:   result.Requested,
		Available:   result.Available,
		Sufficient:  result.Sufficient,
		EventID:     result.EventID,
		EvaluatedAt: result.EvaluatedAt,
	})
}

func (h *HTTPHandler) GetItem(c *gin.Context) {
	item, err := h.ledger.GetItem(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, itemResponse(*item))
}

func (h *HTTPHandler) SetThreshold(c *gin.Context) {
	var req ThresholdRequest
	if !bind(c, &req) {
		return
	}

	item, err := h.ledger.SetThreshold(c.Request.Context(), c.Param("id"), req.Threshold)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, itemResponse(item))
}

func (h *HTTPHandler) SetLocation(c *gin.Context) {
	var req LocationRequest
	if !bind(c, &req) {
		return
	}

	item, err := h.ledger.SetLocation(c.Request.Context(), c.Param("id"), req.Location)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, itemResponse(item))
}

func (h *HTTPHandler) ListItems(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))

	items, err := h.ledger.ListItems(c.Request.Context(), limit, offset)
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := make([]ItemResponse, 0, len(items))
	for _, item := range items {
		resp = append(resp, itemResponse(item))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *HTTPHandler) ArchiveItem(c *gin.Context) {
	if err := h.ledger.Archive(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *HTTPHandler) ListTransactions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))

	txns, err := h.ledger.ListTransactions(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := make([]TransactionResponse, 0, len(txns))
	for _, txn := range txns {
		resp = append(resp, TransactionResponse{
			TransactionID: txn.ID,
			Kind:          string(txn.Kind),
			Quantity:      txn.Quantity,
			Delta:         txn.Delta,
			ReferenceID:   txn.ReferenceID,
			Notes:         txn.Notes,
			OnHandAfter:   txn.OnHandAfter,
			ReservedAfter: txn.ReservedAfter,
			CreatedAt:     txn.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, resp)
}

func (h *HTTPHandler) ListAlerts(c *gin.Context) {
	alerts, err := h.ledger.ListOpenAlerts(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := make([]AlertResponse, 0, len(alerts))
	for _, alert := range alerts {
		resp = append(resp, AlertResponse{
			AlertID:         alert.ID,
			ItemID:          alert.ItemID,
			Threshold:       alert.Threshold,
			CurrentQuantity: alert.CurrentQuantity,
			CreatedAt:       alert.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, resp)
}

func (h *HTTPHandler) RequeueEvent(c *gin.Context) {
	if err := h.outbox.Requeue(c.Request.Context(), c.Param("event_id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	resp := HealthResponse{
		Status:  "ok",
		Service: h.info.Name,
		Version: h.info.Version,
	}

	if err := h.store.Ping(c.Request.Context()); err != nil {
		h.logger.Warn("health check: store unreachable", zap.Error(err))
		resp.Status = "unavailable"
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}

	stats, err := h.outbox.Stats(c.Request.Context())
	if err != nil {
		h.logger.Warn("health check: outbox stats failed", zap.Error(err))
		resp.Status = "degraded"
	} else {
		resp.OutboxPending = stats.Pending
		resp.OldestPending = stats.OldestPending
	}

	c.JSON(http.StatusOK, resp)
}

func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Success: false,
			Error:   "validation_error",
			Message: "invalid request body",
		})
		return false
	}
	return true
}

func (h *HTTPHandler) respondBalance(c *gin.Context, balance domain.Balance, err error) {
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, BalanceResponse{
		ItemID:    balance.ItemID,
		SKU:       balance.SKU,
		OnHand:    balance.OnHand,
		Reserved:  balance.Reserved,
		Available: balance.Available,
		Replayed:  balance.Replayed,
	})
}

func itemResponse(item domain.InventoryItem) ItemResponse {
	return ItemResponse{
		ItemID:            item.ID,
		SKU:               item.SKU,
		Location:          item.Location,
		OnHand:            item.OnHand,
		Reserved:          item.Reserved,
		Available:         item.Available(),
		LowStockThreshold: item.LowStockThreshold,
		Version:           item.Version,
		CreatedAt:         item.CreatedAt,
		UpdatedAt:         item.UpdatedAt,
	}
}

// StatusFor maps a domain error onto an HTTP status and a stable error code.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrItemNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrEventNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusConflict, "insufficient_stock"
	case errors.Is(err, domain.ErrNotReserved):
		return http.StatusConflict, "not_reserved"
	case errors.Is(err, domain.ErrInvalidAdjustment):
		return http.StatusConflict, "invalid_adjustment"
	case errors.Is(err, domain.ErrTransientStorage),
		errors.Is(err, domain.ErrOptimisticLock),
		errors.Is(err, domain.ErrDuplicateKey),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "transient_storage"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (h *HTTPHandler) writeError(c *gin.Context, err error) {
	status, code := StatusFor(err)

	message := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("unhandled request error", zap.String("path", c.FullPath()), zap.Error(err))
		message = "internal error"
	}

	c.JSON(status, ErrorResponse{
		Success: false,
		Error:   code,
		Message: message,
	})
}
