package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"shuttle-fleet-backend/internal/model"
)

// PutSubscription creates or replaces a push subscription and the set of
// vehicles it follows. Unknown vehicle ids are ignored.
func (s *gormStore) PutSubscription(ctx context.Context, sub *model.PushSubscription, vehicleIDs []string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "endpoint"}},
			DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth", "user_id"}),
		}).Omit(clause.Associations).Create(sub).Error; err != nil {
			return err
		}

		var vehicles []model.Vehicle
		if len(vehicleIDs) > 0 {
			if err := tx.Find(&vehicles, "id IN ?", vehicleIDs).Error; err != nil {
				return err
			}
		}

		return tx.Model(sub).Association("Vehicles").Replace(&vehicles)
	})
}

// SubscribedVehicles returns the vehicle ids followed by endpoint.
func (s *gormStore) SubscribedVehicles(ctx context.Context, endpoint string) ([]string, error) {
	var sub model.PushSubscription
	if err := s.db.WithContext(ctx).Preload("Vehicles").First(&sub, "endpoint = ?", endpoint).Error; err != nil {
		return nil, fmt.Errorf("subscription: %w", err)
	}
	ids := make([]string, len(sub.Vehicles))
	for i, v := range sub.Vehicles {
		ids[i] = v.ID
	}
	return ids, nil
}

// DeleteSubscription removes a subscription and its vehicle mappings.
func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM subscription_vehicle_mapping WHERE push_subscription_endpoint = ?", endpoint).Error; err != nil {
			return err
		}
		return tx.Delete(&model.PushSubscription{}, "endpoint = ?", endpoint).Error
	})
}
