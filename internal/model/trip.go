package model

import "time"

// TripStatus is the lifecycle state of a trip.
type TripStatus string

const (
	TripPending    TripStatus = "pending"
	TripInProgress TripStatus = "in-progress"
	TripCompleted  TripStatus = "completed"
	TripCancelled  TripStatus = "cancelled"
)

// Valid reports whether s is a known trip status.
func (s TripStatus) Valid() bool {
	switch s {
	case TripPending, TripInProgress, TripCompleted, TripCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further status change is allowed.
func (s TripStatus) Terminal() bool {
	return s == TripCompleted || s == TripCancelled
}

// CanMoveTo reports whether a trip in status s may move to next.
func (s TripStatus) CanMoveTo(next TripStatus) bool {
	switch s {
	case TripPending:
		return next == TripInProgress || next == TripCancelled
	case TripInProgress:
		return next == TripCompleted || next == TripCancelled
	}
	return false
}

// Trip is a ride booked by a student on a vehicle.
type Trip struct {
	ID            string     `gorm:"primaryKey;size:64" json:"id"`
	VehicleID     string     `gorm:"size:64;index;not null" json:"vehicleId"`
	DriverID      *string    `gorm:"size:64" json:"driverId,omitempty"`
	StudentID     string     `gorm:"size:64;index;not null" json:"studentId"`
	StartLocation string     `gorm:"size:256;not null" json:"startLocation"`
	EndLocation   string     `gorm:"size:256;not null" json:"endLocation"`
	StartTime     time.Time  `gorm:"not null" json:"startTime"`
	EndTime       *time.Time `json:"endTime,omitempty"`
	Status        TripStatus `gorm:"size:16;not null;index" json:"status"`
	Rating        *int       `json:"rating,omitempty"`
	Feedback      string     `gorm:"size:1024" json:"feedback,omitempty"`
	CreatedAt     time.Time  `gorm:"not null" json:"createdAt"`
	UpdatedAt     time.Time  `gorm:"not null" json:"updatedAt"`
}
