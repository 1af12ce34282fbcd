package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"shuttle-fleet-backend/internal/fleet"
	"shuttle-fleet-backend/internal/model"
	"shuttle-fleet-backend/internal/mw"
	"shuttle-fleet-backend/internal/store"
)

// ListTrips handles GET /api/trips with optional vehicle, student, status
// and limit filters.
func (h *Handler) ListTrips(c *gin.Context) {
	filter := store.TripFilter{
		VehicleID: c.Query("vehicle"),
		StudentID: c.Query("student"),
		Status:    model.TripStatus(c.Query("status")),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		filter.Limit = n
	}

	trips, err := h.store.ListTrips(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, trips)
}

type createTripRequest struct {
	VehicleID     string `json:"vehicleId" binding:"required"`
	StartLocation string `json:"startLocation" binding:"required"`
	EndLocation   string `json:"endLocation" binding:"required"`
}

// CreateTrip handles POST /api/trips. The trip is booked for the calling
// student on a known vehicle and starts pending.
func (h *Handler) CreateTrip(c *gin.Context) {
	var req createTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, _ := mw.CurrentIdentity(c)

	vehicle, err := h.engine.Store().Get(req.VehicleID)
	if err != nil {
		writeError(c, err)
		return
	}

	trip := &model.Trip{
		VehicleID:     req.VehicleID,
		DriverID:      vehicle.DriverID,
		StudentID:     id.UserID,
		StartLocation: req.StartLocation,
		EndLocation:   req.EndLocation,
	}
	if err := h.store.CreateTrip(c.Request.Context(), trip); err != nil {
		writeError(c, err)
		return
	}
	h.responseCache.Flush()
	c.JSON(http.StatusCreated, trip)
}

type updateTripStatusRequest struct {
	Status model.TripStatus `json:"status" binding:"required"`
}

// UpdateTripStatus handles PUT /api/trips/:id/status. Starting a trip
// attaches it to the vehicle, which must be online. Completing or
// cancelling it detaches it again; the vehicle's status is unchanged.
func (h *Handler) UpdateTripStatus(c *gin.Context) {
	var req updateTripStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.Status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}

	ctx := c.Request.Context()
	trip, err := h.store.GetTrip(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if !h.authorizeVehicle(c, trip.VehicleID) {
		return
	}
	if !trip.Status.CanMoveTo(req.Status) {
		writeError(c, store.ErrTripTransition)
		return
	}

	if req.Status == model.TripInProgress {
		if _, err := h.engine.Apply(ctx, trip.VehicleID, fleet.LatestVersion, fleet.AttachTrip{TripID: trip.ID}); err != nil {
			writeError(c, err)
			return
		}
	}

	updated, err := h.store.UpdateTripStatus(ctx, trip.ID, req.Status)
	if err != nil {
		if req.Status == model.TripInProgress {
			h.detachTrip(ctx, trip)
		}
		writeError(c, err)
		return
	}
	if req.Status.Terminal() {
		h.detachTrip(ctx, trip)
	}

	h.responseCache.Flush()
	c.JSON(http.StatusOK, updated)
}

// detachTrip clears the trip from its vehicle if it is still attached.
func (h *Handler) detachTrip(ctx context.Context, trip model.Trip) {
	state, err := h.engine.Store().Get(trip.VehicleID)
	if err != nil || state.ActiveTripID != trip.ID {
		return
	}
	_, err = h.engine.Apply(ctx, trip.VehicleID, state.Version, fleet.DetachTrip{TripID: trip.ID})
	if err != nil && !errors.Is(err, fleet.ErrInvalidTransition) {
		log.Warn().Err(err).Str("trip", trip.ID).Str("vehicle", trip.VehicleID).Msg("failed to detach trip")
	}
}

type tripFeedbackRequest struct {
	Rating   int    `json:"rating" binding:"required,min=1,max=5"`
	Feedback string `json:"feedback" binding:"max=1024"`
}

// AddTripFeedback handles POST /api/trips/:id/feedback. Only the student
// who took a completed trip may rate it.
func (h *Handler) AddTripFeedback(c *gin.Context) {
	var req tripFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	trip, err := h.store.GetTrip(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if id, _ := mw.CurrentIdentity(c); id.UserID != trip.StudentID {
		c.JSON(http.StatusForbidden, gin.H{"error": "not your trip"})
		return
	}
	if trip.Status != model.TripCompleted {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "only completed trips can be rated"})
		return
	}

	updated, err := h.store.AddTripFeedback(ctx, trip.ID, req.Rating, req.Feedback)
	if err != nil {
		writeError(c, err)
		return
	}
	h.responseCache.Flush()
	c.JSON(http.StatusOK, updated)
}
