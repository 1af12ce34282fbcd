package provisioner

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"shuttle-fleet-backend/internal/fleet"
	"shuttle-fleet-backend/internal/model"
	"shuttle-fleet-backend/internal/store"
)

// VehicleLoader lists persisted vehicle records.
type VehicleLoader interface {
	LoadVehicles(ctx context.Context) ([]model.Vehicle, error)
}

// Provisioner registers persisted vehicles with the live fleet: once at
// start so a restarted process resumes with every known vehicle, then on
// an interval to pick up vehicles added by other instances.
type Provisioner struct {
	loader   VehicleLoader
	engine   *fleet.Engine
	interval time.Duration
}

// New creates a provisioner. An interval of zero disables the periodic
// refresh; SyncOnce still works.
func New(loader VehicleLoader, engine *fleet.Engine, interval time.Duration) *Provisioner {
	return &Provisioner{loader: loader, engine: engine, interval: interval}
}

// Run syncs immediately and then on every interval until ctx is done.
func (p *Provisioner) Run(ctx context.Context) error {
	log.Info().Dur("interval", p.interval).Msg("starting provisioner")
	if _, err := p.SyncOnce(ctx); err != nil {
		log.Error().Err(err).Msg("initial vehicle provisioning failed")
	}
	if p.interval <= 0 {
		return nil
	}

	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("provisioner shutting down")
			return nil
		case <-timer.C:
			if _, err := p.SyncOnce(ctx); err != nil {
				log.Error().Err(err).Msg("vehicle provisioning failed")
			}
			timer.Reset(p.interval)
		}
	}
}

// SyncOnce provisions every persisted vehicle the fleet does not know yet
// and returns how many were added. Invalid rows are skipped.
func (p *Provisioner) SyncOnce(ctx context.Context) (int, error) {
	vehicles, err := p.loader.LoadVehicles(ctx)
	if err != nil {
		return 0, err
	}

	added := 0
	for _, v := range vehicles {
		_, created, err := p.engine.Provision(store.SeedFromVehicle(v))
		if err != nil {
			log.Warn().Err(err).Str("vehicle", v.ID).Msg("skipping persisted vehicle")
			continue
		}
		if created {
			added++
		}
	}
	if added > 0 {
		log.Info().Int("added", added).Int("known", p.engine.Store().Len()).Msg("provisioned persisted vehicles")
	}
	return added, nil
}
