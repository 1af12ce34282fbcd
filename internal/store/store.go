package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"shuttle-fleet-backend/internal/fleet"
	"shuttle-fleet-backend/internal/model"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrTripTransition is returned for a trip status change that the trip
// lifecycle does not allow.
var ErrTripTransition = errors.New("trip status change not allowed")

// Store defines the interface for all database operations.
type Store interface {
	DB() *gorm.DB

	LoadVehicles(ctx context.Context) ([]model.Vehicle, error)
	CreateVehicle(ctx context.Context, v *model.Vehicle) (created bool, err error)
	SaveVehicleStates(ctx context.Context, states []fleet.VehicleState) error

	ListTrips(ctx context.Context, filter TripFilter) ([]model.Trip, error)
	GetTrip(ctx context.Context, id string) (model.Trip, error)
	CreateTrip(ctx context.Context, trip *model.Trip) error
	UpdateTripStatus(ctx context.Context, id string, status model.TripStatus) (model.Trip, error)
	AddTripFeedback(ctx context.Context, id string, rating int, feedback string) (model.Trip, error)

	PutSubscription(ctx context.Context, sub *model.PushSubscription, vehicleIDs []string) error
	SubscribedVehicles(ctx context.Context, endpoint string) ([]string, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB { return s.db }

// LoadVehicles returns every persisted vehicle ordered by id.
func (s *gormStore) LoadVehicles(ctx context.Context) ([]model.Vehicle, error) {
	var vehicles []model.Vehicle
	if err := s.db.WithContext(ctx).Order("id").Find(&vehicles).Error; err != nil {
		return nil, fmt.Errorf("failed to load vehicles: %w", err)
	}
	return vehicles, nil
}

// CreateVehicle inserts v unless a vehicle with the same id exists.
func (s *gormStore) CreateVehicle(ctx context.Context, v *model.Vehicle) (bool, error) {
	if v.Status == "" {
		v.Status = string(fleet.StatusOffline)
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(v)
	if res.Error != nil {
		return false, fmt.Errorf("failed to create vehicle %s: %w", v.ID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// SaveVehicleStates upserts the given states. A row is only overwritten by
// a strictly newer version, so replays and out-of-order flushes never
// move a vehicle backwards.
func (s *gormStore) SaveVehicleStates(ctx context.Context, states []fleet.VehicleState) error {
	if len(states) == 0 {
		return nil
	}
	rows := make([]model.Vehicle, 0, len(states))
	for _, st := range states {
		rows = append(rows, VehicleFromState(st))
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"capacity", "driver_id", "status", "current_passengers", "lat", "lng",
			"address", "battery_level", "active_trip_id", "version", "last_updated", "updated_at",
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: `"vehicles"."version" < excluded.version`},
		}},
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("failed to save %d vehicle states: %w", len(rows), err)
	}
	log.Debug().Int("vehicles", len(rows)).Msg("vehicle states saved")
	return nil
}
