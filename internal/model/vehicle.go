package model

import "time"

// Vehicle is the persisted record of a shuttle. The live state is owned by
// the in-memory fleet store; this row is its write-back mirror.
type Vehicle struct {
	ID                string  `gorm:"primaryKey;size:64"`
	Number            string  `gorm:"size:64"`
	Capacity          int     `gorm:"not null"`
	DriverID          *string `gorm:"size:64;index"`
	Status            string  `gorm:"size:16;not null;default:offline"`
	CurrentPassengers int     `gorm:"not null"`
	Lat               *float64
	Lng               *float64
	Address           string  `gorm:"size:256"`
	BatteryLevel      float64 `gorm:"not null"`
	ActiveTripID      *string `gorm:"size:64"`
	Version           uint64  `gorm:"not null"`
	LastUpdated       time.Time
	CreatedAt         time.Time `gorm:"not null"`
	UpdatedAt         time.Time `gorm:"not null"`
}
