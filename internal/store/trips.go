package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"shuttle-fleet-backend/internal/model"
)

// TripFilter narrows ListTrips. Empty fields match everything.
type TripFilter struct {
	VehicleID string
	StudentID string
	Status    model.TripStatus
	Limit     int
}

func (s *gormStore) ListTrips(ctx context.Context, filter TripFilter) ([]model.Trip, error) {
	q := s.db.WithContext(ctx).Model(&model.Trip{})
	if filter.VehicleID != "" {
		q = q.Where("vehicle_id = ?", filter.VehicleID)
	}
	if filter.StudentID != "" {
		q = q.Where("student_id = ?", filter.StudentID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var trips []model.Trip
	if err := q.Order("created_at DESC").Find(&trips).Error; err != nil {
		return nil, fmt.Errorf("failed to list trips: %w", err)
	}
	return trips, nil
}

func (s *gormStore) GetTrip(ctx context.Context, id string) (model.Trip, error) {
	var trip model.Trip
	if err := s.db.WithContext(ctx).First(&trip, "id = ?", id).Error; err != nil {
		return model.Trip{}, fmt.Errorf("trip %s: %w", id, err)
	}
	return trip, nil
}

// CreateTrip stores a new pending trip. The id is generated when empty.
func (s *gormStore) CreateTrip(ctx context.Context, trip *model.Trip) error {
	if trip.ID == "" {
		trip.ID = uuid.NewString()
	}
	if trip.Status == "" {
		trip.Status = model.TripPending
	}
	if trip.StartTime.IsZero() {
		trip.StartTime = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(trip).Error; err != nil {
		return fmt.Errorf("failed to create trip: %w", err)
	}
	return nil
}

// UpdateTripStatus moves a trip along its lifecycle. Terminal statuses
// record the end time.
func (s *gormStore) UpdateTripStatus(ctx context.Context, id string, status model.TripStatus) (model.Trip, error) {
	var trip model.Trip
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&trip, "id = ?", id).Error; err != nil {
			return fmt.Errorf("trip %s: %w", id, err)
		}
		if !trip.Status.CanMoveTo(status) {
			return fmt.Errorf("%w: %s -> %s", ErrTripTransition, trip.Status, status)
		}

		updates := map[string]interface{}{"status": status}
		if status.Terminal() {
			end := time.Now().UTC()
			updates["end_time"] = end
			trip.EndTime = &end
		}
		if err := tx.Model(&trip).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to update trip %s: %w", id, err)
		}
		trip.Status = status
		return nil
	})
	if err != nil {
		return model.Trip{}, err
	}
	return trip, nil
}

// AddTripFeedback records a rating between 1 and 5 and a comment.
func (s *gormStore) AddTripFeedback(ctx context.Context, id string, rating int, feedback string) (model.Trip, error) {
	var trip model.Trip
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&trip, "id = ?", id).Error; err != nil {
			return fmt.Errorf("trip %s: %w", id, err)
		}
		if err := tx.Model(&trip).Updates(map[string]interface{}{
			"rating":   rating,
			"feedback": feedback,
		}).Error; err != nil {
			return fmt.Errorf("failed to add feedback to trip %s: %w", id, err)
		}
		trip.Rating = &rating
		trip.Feedback = feedback
		return nil
	})
	if err != nil {
		return model.Trip{}, err
	}
	return trip, nil
}
