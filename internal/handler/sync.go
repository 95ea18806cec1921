package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"nhooyr.io/websocket"

	"listingops/internal/models"
	"listingops/internal/repository"
	"listingops/internal/service"
)

type SyncHandler struct {
	Service *service.SyncService
}

func (h *SyncHandler) Register(r *gin.Engine) {
	r.POST("/api/sync", h.triggerScoped(""))
	r.POST("/api/reviews/sync", h.triggerScoped(string(models.EntityReview)))
	r.POST("/api/photos/sync", h.triggerScoped(string(models.EntityPhoto)))
	r.POST("/api/posts/sync", h.triggerScoped(string(models.EntityPost)))
	r.GET("/api/sync-batches", h.listBatches)
	r.GET("/api/sync-batches/:id", h.getBatch)
	r.GET("/api/sync-batches/:id/ws", h.streamBatch)
}

type triggerSyncRequest struct {
	// StorefrontID accepts a numeric id, "all", or a list of ids; the legacy
	// console sends all three shapes.
	StorefrontID json.RawMessage `json:"storefront_id"`
	Scope        string          `json:"scope"`
	SinceDate    string          `json:"since_date"`
}

// @Summary Trigger a sync batch
// @Tags sync
// @Accept json
// @Param request body triggerSyncRequest true "target storefronts and scope"
// @Success 202 {object} map[string]any
// @Router /api/sync [post]
func (h *SyncHandler) triggerScoped(fixedScope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req triggerSyncRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			Error(c, http.StatusBadRequest, "invalid body", nil)
			return
		}
		scope := fixedScope
		if scope == "" {
			scope = req.Scope
		}

		ids, ok := parseStorefrontTarget(req.StorefrontID)
		if !ok {
			Error(c, http.StatusBadRequest, `storefront_id must be an id, a list of ids, or "all"`, nil)
			return
		}

		var since *time.Time
		if req.SinceDate != "" {
			parsed, ok := parseDate(req.SinceDate)
			if !ok {
				Error(c, http.StatusBadRequest, "since_date must be YYYY-MM-DD", nil)
				return
			}
			since = &parsed
		}

		batch, err := h.Service.Start(c.Request.Context(), scope, ids, since)
		if err != nil {
			switch {
			case errors.Is(err, service.ErrInvalidScope):
				Error(c, http.StatusBadRequest, err.Error(), nil)
			case errors.Is(err, service.ErrNoStorefronts), errors.Is(err, repository.ErrNotFound):
				Error(c, http.StatusNotFound, err.Error(), nil)
			default:
				Error(c, http.StatusBadGateway, err.Error(), nil)
			}
			return
		}
		Accepted(c, gin.H{"sync_batch_id": batch.ID})
	}
}

// parseStorefrontTarget maps the flexible storefront_id field to a concrete
// id list. Empty result with ok=true means every storefront.
func parseStorefrontTarget(raw json.RawMessage) ([]uint64, bool) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, true
	}

	var all string
	if err := json.Unmarshal(raw, &all); err == nil {
		if strings.EqualFold(all, "all") {
			return nil, true
		}
		id, err := strconv.ParseUint(all, 10, 64)
		if err != nil || id == 0 {
			return nil, false
		}
		return []uint64{id}, true
	}

	var one uint64
	if err := json.Unmarshal(raw, &one); err == nil {
		if one == 0 {
			return nil, false
		}
		return []uint64{one}, true
	}

	var many []uint64
	if err := json.Unmarshal(raw, &many); err == nil && len(many) > 0 {
		for _, id := range many {
			if id == 0 {
				return nil, false
			}
		}
		return many, true
	}
	return nil, false
}

// @Summary Get batch progress
// @Tags sync
// @Param id path int true "batch id"
// @Success 200 {object} service.BatchProgress
// @Router /api/sync-batches/{id} [get]
func (h *SyncHandler) getBatch(c *gin.Context) {
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid batch id", nil)
		return
	}
	view, err := h.Service.GetProgress(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			Error(c, http.StatusNotFound, "batch not found", nil)
			return
		}
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	c.JSON(http.StatusOK, view)
}

// @Summary List sync batches
// @Tags sync
// @Param status query string false "pending|running|finished|failed"
// @Success 200 {object} map[string]any
// @Router /api/sync-batches [get]
func (h *SyncHandler) listBatches(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	params := repository.ListBatchesParams{Limit: limit, Offset: offset}
	if raw := strQueryPtr(c, "status"); raw != nil {
		status := models.BatchStatus(*raw)
		params.Status = &status
	}

	batches, err := h.Service.Repo.ListBatches(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, batches, paginationMeta(limit, offset, len(batches)))
}

// streamBatch pushes progress snapshots over a websocket until the batch
// reaches a terminal status. The console uses it instead of tight polling.
func (h *SyncHandler) streamBatch(c *gin.Context) {
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid batch id", nil)
		return
	}
	if _, err := h.Service.GetProgress(c.Request.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			Error(c, http.StatusNotFound, "batch not found", nil)
			return
		}
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream aborted")

	ctx := c.Request.Context()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		view, err := h.Service.GetProgress(ctx, id)
		if err != nil {
			conn.Close(websocket.StatusInternalError, "progress read failed")
			return
		}
		payload, err := json.Marshal(view)
		if err != nil {
			conn.Close(websocket.StatusInternalError, "encode failed")
			return
		}
		if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
			return
		}
		if models.BatchStatus(view.Status).Terminal() {
			conn.Close(websocket.StatusNormalClosure, "batch "+view.Status)
			return
		}

		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "client gone")
			return
		case <-ticker.C:
		}
	}
}
