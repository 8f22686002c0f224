package dlq

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/JulesNsenda/ezsign-sub003/pkg/apperror"
)

// Handler handles HTTP requests for the dead letter operator API
type Handler struct {
	svc *Service
}

// NewHandler creates a new dead letter handler
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// EntriesResponse wraps a list of entries
type EntriesResponse struct {
	Data []*Entry `json:"data"`
}

// EntryResponse wraps a single entry
type EntryResponse struct {
	Data *Entry `json:"data"`
}

// List handles GET /api/dlq
func (h *Handler) List(c echo.Context) error {
	filter := ListFilter{
		Queue:   c.QueryParam("queue"),
		JobType: c.QueryParam("type"),
		Status:  Status(c.QueryParam("status")),
	}
	if err := echo.QueryParamsBinder(c).
		Int("limit", &filter.Limit).
		Int("offset", &filter.Offset).
		BindError(); err != nil {
		return apperror.NewBadRequest("invalid pagination parameters")
	}

	entries, err := h.svc.List(c.Request().Context(), filter)
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []*Entry{}
	}

	return c.JSON(http.StatusOK, EntriesResponse{Data: entries})
}

// Get handles GET /api/dlq/:id
func (h *Handler) Get(c echo.Context) error {
	entry, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, EntryResponse{Data: entry})
}

// Stats handles GET /api/dlq/stats
func (h *Handler) Stats(c echo.Context) error {
	stats, err := h.svc.Stats(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

// Queues handles GET /api/dlq/queues
func (h *Handler) Queues(c echo.Context) error {
	queues, err := h.svc.Queues(c.Request().Context())
	if err != nil {
		return err
	}
	if queues == nil {
		queues = []string{}
	}
	return c.JSON(http.StatusOK, map[string][]string{"data": queues})
}

// RetryResponse reports the job created by a retry
type RetryResponse struct {
	EntryID string `json:"entryId"`
	JobID   string `json:"jobId"`
}

// Retry handles POST /api/dlq/:id/retry
func (h *Handler) Retry(c echo.Context) error {
	id := c.Param("id")

	job, err := h.svc.Retry(c.Request().Context(), id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, RetryResponse{EntryID: id, JobID: job.ID})
}

// Discard handles POST /api/dlq/:id/discard
func (h *Handler) Discard(c echo.Context) error {
	if err := h.svc.Discard(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// BatchRequest names the entries a batch operation targets
type BatchRequest struct {
	IDs []string `json:"ids"`
}

// RetryBatch handles POST /api/dlq/retry-batch
func (h *Handler) RetryBatch(c echo.Context) error {
	var req BatchRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}
	if len(req.IDs) == 0 {
		return apperror.NewBadRequest("ids is required")
	}

	result := h.svc.RetryBatch(c.Request().Context(), req.IDs)
	return c.JSON(http.StatusOK, result)
}

// DiscardBatch handles POST /api/dlq/discard-batch
func (h *Handler) DiscardBatch(c echo.Context) error {
	var req BatchRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}
	if len(req.IDs) == 0 {
		return apperror.NewBadRequest("ids is required")
	}

	result := h.svc.DiscardBatch(c.Request().Context(), req.IDs)
	return c.JSON(http.StatusOK, result)
}

// CleanupRequest sets the retention window for a manual cleanup
type CleanupRequest struct {
	OlderThanDays int `json:"olderThanDays"`
}

// CleanupResponse reports how many resolved entries were purged
type CleanupResponse struct {
	Removed int64 `json:"removed"`
}

// Cleanup handles POST /api/dlq/cleanup
func (h *Handler) Cleanup(c echo.Context) error {
	req := CleanupRequest{OlderThanDays: 30}
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}
	if req.OlderThanDays <= 0 {
		return apperror.NewBadRequest("olderThanDays must be positive")
	}

	removed, err := h.svc.Cleanup(c.Request().Context(), time.Duration(req.OlderThanDays)*24*time.Hour)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, CleanupResponse{Removed: removed})
}
