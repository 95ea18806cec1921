package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"listingops/internal/models"
	"listingops/internal/repository"
	"listingops/internal/service"
)

type RankHandler struct {
	Jobs *service.RankJobService
	Logs *service.RankLogService
}

func (h *RankHandler) Register(r *gin.Engine) {
	r.POST("/api/rank-log", h.recordLog)
	r.GET("/api/rank-log", h.getLog)
	r.POST("/api/rank-fetch", h.enqueue)
	r.POST("/api/rank-fetch/claim", h.claim)
	r.POST("/api/rank-fetch/finish", h.finish)
	r.GET("/api/rank-fetch/jobs", h.listJobs)
}

type recordRankLogRequest struct {
	StorefrontID uint64 `json:"storefront_id" binding:"required"`
	KeywordID    uint64 `json:"keyword_id" binding:"required"`
	// Rank nil means the storefront was not found in the checked range.
	Rank      *int   `json:"rank"`
	CheckedAt string `json:"checked_at" binding:"required"`
}

// The worker-facing endpoints answer with a flat {success, message} body;
// that is the contract the external rank worker was built against.
// @Summary Record a rank measurement
// @Tags rank
// @Accept json
// @Param request body recordRankLogRequest true "measurement"
// @Success 200 {object} map[string]any
// @Router /api/rank-log [post]
func (h *RankHandler) recordLog(c *gin.Context) {
	var req recordRankLogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid body"})
		return
	}
	checkedAt, ok := parseDate(req.CheckedAt)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "checked_at must be YYYY-MM-DD"})
		return
	}

	_, err := h.Logs.Record(c.Request.Context(), req.StorefrontID, req.KeywordID, checkedAt, req.Rank)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrKeywordMismatch):
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		case errors.Is(err, repository.ErrNotFound):
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "keyword not found"})
		default:
			c.JSON(http.StatusBadGateway, gin.H{"success": false, "message": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "recorded"})
}

// @Summary Get a rank measurement
// @Tags rank
// @Param keyword_id query int true "keyword id"
// @Param checked_at query string true "date (YYYY-MM-DD)"
// @Success 200 {object} map[string]any
// @Router /api/rank-log [get]
func (h *RankHandler) getLog(c *gin.Context) {
	keywordID := uint64QueryPtr(c, "keyword_id")
	checkedAt := dateQueryPtr(c, "checked_at")
	if keywordID == nil || checkedAt == nil {
		Error(c, http.StatusBadRequest, "keyword_id and checked_at are required", nil)
		return
	}
	entry, err := h.Logs.Get(c.Request.Context(), *keywordID, *checkedAt)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if entry == nil {
		Error(c, http.StatusNotFound, "no measurement for that keyword and date", nil)
		return
	}
	Ok(c, entry, nil)
}

type enqueueRankJobRequest struct {
	StorefrontID  uint64  `json:"storefront_id" binding:"required"`
	KeywordID     uint64  `json:"keyword_id" binding:"required"`
	TargetDate    string  `json:"target_date"`
	RequestedByID *uint64 `json:"requested_by_id"`
}

// @Summary Enqueue a rank fetch job
// @Tags rank
// @Accept json
// @Param request body enqueueRankJobRequest true "job key"
// @Success 200 {object} map[string]any
// @Router /api/rank-fetch [post]
func (h *RankHandler) enqueue(c *gin.Context) {
	var req enqueueRankJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	targetDate := time.Now().UTC().Truncate(24 * time.Hour)
	if req.TargetDate != "" {
		parsed, ok := parseDate(req.TargetDate)
		if !ok {
			Error(c, http.StatusBadRequest, "target_date must be YYYY-MM-DD", nil)
			return
		}
		targetDate = parsed
	}

	result, err := h.Jobs.Enqueue(c.Request.Context(), req.StorefrontID, req.KeywordID, targetDate, models.ActorUser, req.RequestedByID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrKeywordMismatch):
			Error(c, http.StatusBadRequest, err.Error(), nil)
		case errors.Is(err, repository.ErrNotFound):
			Error(c, http.StatusNotFound, err.Error(), nil)
		default:
			Error(c, http.StatusBadGateway, err.Error(), nil)
		}
		return
	}
	Ok(c, gin.H{
		"job_id":         result.Job.ID,
		"status":         result.Job.Status,
		"already_exists": result.AlreadyExists,
	}, nil)
}

// @Summary Claim the next queued rank job
// @Tags rank
// @Success 200 {object} map[string]any
// @Router /api/rank-fetch/claim [post]
func (h *RankHandler) claim(c *gin.Context) {
	job, err := h.Jobs.ClaimNext(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if job == nil {
		c.Status(http.StatusNoContent)
		return
	}
	keyword, err := h.Jobs.Repo.GetKeywordByID(c.Request.Context(), job.KeywordID)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, gin.H{
		"job": gin.H{
			"job_id":        job.ID,
			"storefront_id": job.StorefrontID,
			"keyword_id":    job.KeywordID,
			"keyword":       keyword.Text,
			"target_date":   time.Time(job.TargetDate).Format(dateLayout),
		},
	}, nil)
}

type finishRankJobRequest struct {
	JobID        uint64  `json:"job_id" binding:"required"`
	Status       string  `json:"status" binding:"required"`
	ErrorMessage *string `json:"error_message"`
}

// @Summary Report a rank job outcome
// @Tags rank
// @Accept json
// @Param request body finishRankJobRequest true "terminal outcome"
// @Success 200 {object} map[string]any
// @Router /api/rank-fetch/finish [post]
func (h *RankHandler) finish(c *gin.Context) {
	var req finishRankJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid body"})
		return
	}

	_, err := h.Jobs.Complete(c.Request.Context(), req.JobID, models.JobStatus(req.Status), req.ErrorMessage)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidOutcome), errors.Is(err, service.ErrInvalidTransition):
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		case errors.Is(err, repository.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "job not found"})
		default:
			c.JSON(http.StatusBadGateway, gin.H{"success": false, "message": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "recorded"})
}

// @Summary List rank fetch jobs
// @Tags rank
// @Param status query string false "queued|running|success|failed"
// @Param storefront_id query int false "storefront filter"
// @Param target_date query string false "date (YYYY-MM-DD)"
// @Success 200 {object} map[string]any
// @Router /api/rank-fetch/jobs [get]
func (h *RankHandler) listJobs(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	params := repository.ListRankJobsParams{
		Limit:        limit,
		Offset:       offset,
		StorefrontID: uint64QueryPtr(c, "storefront_id"),
		TargetDate:   dateQueryPtr(c, "target_date"),
	}
	if raw := strQueryPtr(c, "status"); raw != nil {
		status := models.JobStatus(*raw)
		params.Status = &status
	}

	jobs, err := h.Jobs.List(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, jobs, paginationMeta(limit, offset, len(jobs)))
}
