package store

import (
	"shuttle-fleet-backend/internal/fleet"
	"shuttle-fleet-backend/internal/model"
)

// VehicleFromState maps a live vehicle state onto its persisted record.
func VehicleFromState(st fleet.VehicleState) model.Vehicle {
	v := model.Vehicle{
		ID:                st.ID,
		Number:            st.Number,
		Capacity:          st.Capacity,
		DriverID:          st.DriverID,
		Status:            string(st.Status),
		CurrentPassengers: st.CurrentPassengers,
		Lat:               st.Location.Lat,
		Lng:               st.Location.Lng,
		Address:           st.Location.Address,
		BatteryLevel:      st.BatteryLevel,
		Version:           st.Version,
		LastUpdated:       st.LastUpdated,
	}
	if st.ActiveTripID != "" {
		id := st.ActiveTripID
		v.ActiveTripID = &id
	}
	return v
}

// SeedFromVehicle builds the provisioning seed for a persisted vehicle.
// Status, passengers and trip are not restored: a vehicle coming back
// from persistence starts offline and empty. If the row was not already
// in that shape the version is bumped so the reset is written back.
func SeedFromVehicle(v model.Vehicle) fleet.VehicleState {
	seed := fleet.VehicleState{
		ID:           v.ID,
		Number:       v.Number,
		Capacity:     v.Capacity,
		DriverID:     v.DriverID,
		Location:     fleet.Location{Lat: v.Lat, Lng: v.Lng, Address: v.Address},
		BatteryLevel: v.BatteryLevel,
		Version:      v.Version,
		LastUpdated:  v.LastUpdated,
	}
	if v.Status != string(fleet.StatusOffline) || v.CurrentPassengers != 0 || v.ActiveTripID != nil {
		seed.Version++
	}
	return seed
}
