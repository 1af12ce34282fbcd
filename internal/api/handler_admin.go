package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"shuttle-fleet-backend/internal/fleet"
	"shuttle-fleet-backend/internal/model"
)

type provisionRequest struct {
	ID       string  `json:"id" binding:"required"`
	Number   string  `json:"number"`
	Capacity int     `json:"capacity" binding:"gte=0"`
	DriverID *string `json:"driverId"`
}

// ProvisionVehicle handles POST /api/admin/vehicles. The record is
// persisted before the vehicle goes live so a restart restores it.
func (h *Handler) ProvisionVehicle(c *gin.Context) {
	var req provisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Capacity == 0 {
		req.Capacity = h.defaultCapacity
	}
	if req.DriverID != nil && *req.DriverID == "" {
		req.DriverID = nil
	}

	if h.store != nil {
		record := &model.Vehicle{
			ID:           req.ID,
			Number:       req.Number,
			Capacity:     req.Capacity,
			DriverID:     req.DriverID,
			Status:       string(fleet.StatusOffline),
			BatteryLevel: 100,
		}
		if _, err := h.store.CreateVehicle(c.Request.Context(), record); err != nil {
			writeError(c, err)
			return
		}
	}

	state, created, err := h.engine.Provision(fleet.VehicleState{
		ID:           req.ID,
		Number:       req.Number,
		Capacity:     req.Capacity,
		DriverID:     req.DriverID,
		BatteryLevel: 100,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	if !created {
		c.JSON(http.StatusOK, state)
		return
	}
	c.JSON(http.StatusCreated, state)
}

type assignDriverRequest struct {
	DriverID        *string `json:"driverId"`
	ExpectedVersion *uint64 `json:"expectedVersion" binding:"required"`
}

// AssignDriver handles PUT /api/admin/vehicles/:id/driver. A null driver
// unassigns the vehicle and takes it offline.
func (h *Handler) AssignDriver(c *gin.Context) {
	var req assignDriverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	state, err := h.engine.AssignDriver(c.Request.Context(), c.Param("id"), *req.ExpectedVersion, req.DriverID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}
