package webhooks

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/JulesNsenda/ezsign-sub003/pkg/apperror"
)

// Handler handles HTTP requests for webhook subscriptions
type Handler struct {
	svc *Service
}

// NewHandler creates a new webhooks handler
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// SubscriptionResponse wraps a single subscription
type SubscriptionResponse struct {
	Data *Subscription `json:"data"`
}

// SubscriptionsResponse wraps a list of subscriptions
type SubscriptionsResponse struct {
	Data []*Subscription `json:"data"`
}

// DeliveriesResponse wraps a subscription's delivery history
type DeliveriesResponse struct {
	Data []*DeliveryEvent `json:"data"`
}

// Create handles POST /api/webhooks
func (h *Handler) Create(c echo.Context) error {
	var in CreateSubscriptionInput
	if err := c.Bind(&in); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	sub, err := h.svc.CreateSubscription(c.Request().Context(), in)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, SubscriptionResponse{Data: sub})
}

// List handles GET /api/webhooks
func (h *Handler) List(c echo.Context) error {
	subs, err := h.svc.ListSubscriptions(c.Request().Context())
	if err != nil {
		return err
	}
	if subs == nil {
		subs = []*Subscription{}
	}
	return c.JSON(http.StatusOK, SubscriptionsResponse{Data: subs})
}

// Get handles GET /api/webhooks/:id
func (h *Handler) Get(c echo.Context) error {
	sub, err := h.svc.GetSubscription(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, SubscriptionResponse{Data: sub})
}

// Update handles PATCH /api/webhooks/:id
func (h *Handler) Update(c echo.Context) error {
	var in UpdateSubscriptionInput
	if err := c.Bind(&in); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	sub, err := h.svc.UpdateSubscription(c.Request().Context(), c.Param("id"), in)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, SubscriptionResponse{Data: sub})
}

// Delete handles DELETE /api/webhooks/:id
func (h *Handler) Delete(c echo.Context) error {
	if err := h.svc.DeleteSubscription(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// Deliveries handles GET /api/webhooks/:id/deliveries
func (h *Handler) Deliveries(c echo.Context) error {
	var limit, offset int
	if err := echo.QueryParamsBinder(c).
		Int("limit", &limit).
		Int("offset", &offset).
		BindError(); err != nil {
		return apperror.NewBadRequest("invalid pagination parameters")
	}

	events, err := h.svc.ListDeliveries(c.Request().Context(), c.Param("id"), limit, offset)
	if err != nil {
		return err
	}
	if events == nil {
		events = []*DeliveryEvent{}
	}
	return c.JSON(http.StatusOK, DeliveriesResponse{Data: events})
}
