package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"shuttle-fleet-backend/internal/broadcast"
	"shuttle-fleet-backend/internal/fleet"
	"shuttle-fleet-backend/internal/mw"
	"shuttle-fleet-backend/internal/store"
)

// Dependencies are the services the handlers operate on.
type Dependencies struct {
	Engine  *fleet.Engine
	Bus     *broadcast.Bus
	Store   store.Store
	WebPush *webpush.Options

	// Heartbeat is the interval between keep-alive comments on the event
	// stream.
	Heartbeat time.Duration
	// DefaultCapacity applies to vehicles provisioned without one.
	DefaultCapacity int
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	engine          *fleet.Engine
	bus             *broadcast.Bus
	store           store.Store
	webpush         *webpush.Options
	heartbeat       time.Duration
	defaultCapacity int
	responseCache   *cache.Cache
}

// NewHandler creates a new API handler.
func NewHandler(deps Dependencies) *Handler {
	h := &Handler{
		engine:          deps.Engine,
		bus:             deps.Bus,
		store:           deps.Store,
		webpush:         deps.WebPush,
		heartbeat:       deps.Heartbeat,
		defaultCapacity: deps.DefaultCapacity,
		responseCache:   cache.New(5*time.Second, time.Minute),
	}
	if h.heartbeat <= 0 {
		h.heartbeat = 15 * time.Second
	}
	if h.defaultCapacity <= 0 {
		h.defaultCapacity = 4
	}
	return h
}

// writeError maps domain errors onto HTTP responses.
func writeError(c *gin.Context, err error) {
	var conflict *fleet.ConflictError
	switch {
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "current": conflict.Current})
	case errors.Is(err, fleet.ErrNotFound), errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, fleet.ErrCapacityExceeded),
		errors.Is(err, fleet.ErrInvalidTransition),
		errors.Is(err, store.ErrTripTransition):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, fleet.ErrBusy):
		c.Header("Retry-After", strconv.Itoa(1))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// authorizeVehicle checks that the caller may mutate vehicleID. Admins may
// change any vehicle, drivers only the one assigned to them. The check
// reads the current state; a mutation that passes it still has to match
// the expected version, so a driver swap in between surfaces as a
// conflict rather than a foreign write.
func (h *Handler) authorizeVehicle(c *gin.Context, vehicleID string) bool {
	id, ok := mw.CurrentIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return false
	}
	state, err := h.engine.Store().Get(vehicleID)
	if err != nil {
		writeError(c, err)
		return false
	}
	switch id.Role {
	case mw.RoleAdmin:
		return true
	case mw.RoleDriver:
		if state.DriverID != nil && *state.DriverID == id.UserID {
			return true
		}
	}
	c.JSON(http.StatusForbidden, gin.H{"error": "not assigned to this vehicle"})
	return false
}
