package documents

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/JulesNsenda/ezsign-sub003/pkg/apperror"
)

// Handler handles HTTP requests for documents
type Handler struct {
	scheduler *Scheduler
	store     Store
}

// NewHandler creates a new documents handler
func NewHandler(scheduler *Scheduler, store Store) *Handler {
	return &Handler{scheduler: scheduler, store: store}
}

// DocumentResponse wraps a single document
type DocumentResponse struct {
	Data *Document `json:"data"`
}

// Get handles GET /api/documents/:id
func (h *Handler) Get(c echo.Context) error {
	doc, err := h.store.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	if doc == nil {
		return apperror.ErrDocumentNotFound
	}
	return c.JSON(http.StatusOK, DocumentResponse{Data: doc})
}

// ScheduleRequest carries the send time for a scheduled send
type ScheduleRequest struct {
	SendAt time.Time `json:"sendAt"`
}

// Schedule handles POST /api/documents/:id/schedule
func (h *Handler) Schedule(c echo.Context) error {
	var req ScheduleRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}
	if req.SendAt.IsZero() {
		return apperror.NewBadRequest("sendAt is required")
	}

	doc, err := h.scheduler.Schedule(c.Request().Context(), c.Param("id"), req.SendAt)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, DocumentResponse{Data: doc})
}

// CancelSchedule handles DELETE /api/documents/:id/schedule
func (h *Handler) CancelSchedule(c echo.Context) error {
	if err := h.scheduler.Cancel(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
