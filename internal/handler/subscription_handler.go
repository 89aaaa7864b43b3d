package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/seatwatch/internal/dto"
	"github.com/noah-isme/seatwatch/internal/models"
	appErrors "github.com/noah-isme/seatwatch/pkg/errors"
	"github.com/noah-isme/seatwatch/pkg/response"
)

type subscriptionService interface {
	Create(ctx context.Context, req dto.CreateSubscriptionRequest) (*models.Subscription, error)
	Update(ctx context.Context, ref models.SubscriptionRef, req dto.UpdateSubscriptionRequest) (*models.Subscription, error)
	Get(ctx context.Context, ref models.SubscriptionRef) (*models.Subscription, error)
	Verify(ctx context.Context, req dto.VerifyContactRequest) (*models.Subscription, error)
	ResendVerification(ctx context.Context, ref models.SubscriptionRef) error
	Runs(ctx context.Context, ref models.SubscriptionRef, limit int) ([]models.Run, error)
}

// SubscriptionHandler exposes operator access to subscriptions.
type SubscriptionHandler struct {
	service subscriptionService
}

// NewSubscriptionHandler builds a new handler.
func NewSubscriptionHandler(service subscriptionService) *SubscriptionHandler {
	return &SubscriptionHandler{service: service}
}

// Create godoc
// @Summary Create a seat alert
// @Tags Subscriptions
// @Accept json
// @Produce json
// @Param payload body dto.CreateSubscriptionRequest true "Subscription payload"
// @Success 201 {object} response.Envelope
// @Router /ops/subscriptions [post]
func (h *SubscriptionHandler) Create(c *gin.Context) {
	var req dto.CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid subscription payload"))
		return
	}
	sub, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, sub)
}

// Get godoc
// @Summary Get a seat alert by id or access key
// @Tags Subscriptions
// @Produce json
// @Param ref path string true "Subscription id or access key"
// @Success 200 {object} response.Envelope
// @Router /ops/subscriptions/{ref} [get]
func (h *SubscriptionHandler) Get(c *gin.Context) {
	sub, err := h.service.Get(c.Request.Context(), refFromParam(c.Param("ref")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sub)
}

// Update godoc
// @Summary Update a seat alert
// @Tags Subscriptions
// @Accept json
// @Produce json
// @Param ref path string true "Subscription id or access key"
// @Param payload body dto.UpdateSubscriptionRequest true "Fields to change"
// @Success 200 {object} response.Envelope
// @Router /ops/subscriptions/{ref} [patch]
func (h *SubscriptionHandler) Update(c *gin.Context) {
	var req dto.UpdateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid subscription payload"))
		return
	}
	sub, err := h.service.Update(c.Request.Context(), refFromParam(c.Param("ref")), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sub)
}

// Verify godoc
// @Summary Confirm a contact with its access key
// @Tags Subscriptions
// @Accept json
// @Produce json
// @Param payload body dto.VerifyContactRequest true "Verification reply"
// @Success 200 {object} response.Envelope
// @Router /ops/verifications [post]
func (h *SubscriptionHandler) Verify(c *gin.Context) {
	var req dto.VerifyContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid verification payload"))
		return
	}
	sub, err := h.service.Verify(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sub)
}

// ResendVerification godoc
// @Summary Send the verification message again
// @Tags Subscriptions
// @Param ref path string true "Subscription id or access key"
// @Success 202 {object} response.Envelope
// @Router /ops/subscriptions/{ref}/verification [post]
func (h *SubscriptionHandler) ResendVerification(c *gin.Context) {
	if err := h.service.ResendVerification(c.Request.Context(), refFromParam(c.Param("ref"))); err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, gin.H{"queued": true})
}

// Runs godoc
// @Summary List recent runs of a seat alert
// @Tags Subscriptions
// @Produce json
// @Param ref path string true "Subscription id or access key"
// @Param limit query int false "Maximum runs (default 20, max 200)"
// @Success 200 {object} response.Envelope
// @Router /ops/subscriptions/{ref}/runs [get]
func (h *SubscriptionHandler) Runs(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	runs, err := h.service.Runs(c.Request.Context(), refFromParam(c.Param("ref")), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, runs, map[string]interface{}{"count": len(runs)})
}
