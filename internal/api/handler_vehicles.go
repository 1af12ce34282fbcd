package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"shuttle-fleet-backend/internal/fleet"
	"shuttle-fleet-backend/internal/reconcile"
)

// GetVehicles returns a snapshot of the whole fleet with its version
// vector.
func (h *Handler) GetVehicles(c *gin.Context) {
	c.JSON(http.StatusOK, reconcile.Take(h.engine.Store()))
}

// GetVehicle returns one vehicle's current state.
func (h *Handler) GetVehicle(c *gin.Context) {
	state, err := h.engine.Store().Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

type setStatusRequest struct {
	Status          fleet.Status `json:"status" binding:"required"`
	ExpectedVersion *uint64      `json:"expectedVersion" binding:"required"`
}

// SetStatus handles PUT /api/vehicles/:id/status.
func (h *Handler) SetStatus(c *gin.Context) {
	var req setStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.apply(c, *req.ExpectedVersion, fleet.SetStatus{Status: req.Status})
}

type adjustPassengersRequest struct {
	Delta           *int    `json:"delta" binding:"required"`
	ExpectedVersion *uint64 `json:"expectedVersion" binding:"required"`
}

// AdjustPassengers handles POST /api/vehicles/:id/passengers.
func (h *Handler) AdjustPassengers(c *gin.Context) {
	var req adjustPassengersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.apply(c, *req.ExpectedVersion, fleet.AdjustPassengers{Delta: *req.Delta})
}

type reportLocationRequest struct {
	Lat             *float64 `json:"lat"`
	Lng             *float64 `json:"lng"`
	Address         string   `json:"address"`
	ExpectedVersion *uint64  `json:"expectedVersion" binding:"required"`
}

// ReportLocation handles PUT /api/vehicles/:id/location.
func (h *Handler) ReportLocation(c *gin.Context) {
	var req reportLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	loc := fleet.Location{Lat: req.Lat, Lng: req.Lng, Address: req.Address}
	h.apply(c, *req.ExpectedVersion, fleet.ReportLocation{Location: loc})
}

type reportBatteryRequest struct {
	BatteryLevel    *float64 `json:"batteryLevel" binding:"required"`
	ExpectedVersion *uint64  `json:"expectedVersion" binding:"required"`
}

// ReportBattery handles PUT /api/vehicles/:id/battery.
func (h *Handler) ReportBattery(c *gin.Context) {
	var req reportBatteryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.apply(c, *req.ExpectedVersion, fleet.ReportBattery{Level: *req.BatteryLevel})
}

func (h *Handler) apply(c *gin.Context, expected uint64, intent fleet.Intent) {
	vehicleID := c.Param("id")
	if !h.authorizeVehicle(c, vehicleID) {
		return
	}
	state, err := h.engine.Apply(c.Request.Context(), vehicleID, expected, intent)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}
