package jobs

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/JulesNsenda/ezsign-sub003/pkg/apperror"
)

// Handler handles HTTP requests for job status
type Handler struct {
	store    *Store
	registry *Registry
	pools    []*Pool
}

// NewHandler creates a new jobs handler
func NewHandler(store *Store, registry *Registry, pools []*Pool) *Handler {
	return &Handler{store: store, registry: registry, pools: pools}
}

// JobResponse wraps a single job
type JobResponse struct {
	Data *Job `json:"data"`
}

// Get handles GET /api/jobs/:id
func (h *Handler) Get(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return apperror.NewBadRequest("job id is required")
	}

	job, err := h.store.GetJob(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if job == nil {
		return apperror.ErrJobNotFound
	}

	return c.JSON(http.StatusOK, JobResponse{Data: job})
}

// MetricsResponse reports per-queue counts and per-pool throughput
type MetricsResponse struct {
	Queues map[string]*Stats      `json:"queues"`
	Pools  map[string]PoolMetrics `json:"pools"`
}

// Metrics handles GET /api/jobs/metrics
func (h *Handler) Metrics(c echo.Context) error {
	stats, err := h.store.StatsByQueue(c.Request().Context())
	if err != nil {
		return err
	}

	// Queues with no rows yet still show up zeroed
	for _, name := range h.registry.Names() {
		if _, ok := stats[name]; !ok {
			stats[name] = &Stats{}
		}
	}

	pools := make(map[string]PoolMetrics, len(h.pools))
	for _, p := range h.pools {
		pools[p.queue.Name()] = p.Metrics()
	}

	return c.JSON(http.StatusOK, MetricsResponse{Queues: stats, Pools: pools})
}
