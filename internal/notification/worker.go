package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog/log"

	"shuttle-fleet-backend/internal/fleet"
	"shuttle-fleet-backend/internal/metrics"
	"shuttle-fleet-backend/internal/model"
	"shuttle-fleet-backend/internal/store"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// Job asks the pool to tell a vehicle's followers that seats are free.
type Job struct {
	VehicleID      string
	SeatsAvailable int
}

// Payload is the JSON body delivered to the browser.
type Payload struct {
	Title          string `json:"title"`
	Body           string `json:"body"`
	VehicleID      string `json:"vehicleId"`
	SeatsAvailable int    `json:"seatsAvailable"`
}

// WorkerPool manages a pool of workers for sending notifications.
type WorkerPool struct {
	size    int
	jobs    chan Job
	store   store.Store
	webpush *webpush.Options
	sender  NotificationSender
}

var _ fleet.Publisher = (*WorkerPool)(nil)

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, s store.Store, webpushOptions *webpush.Options) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{
		size:    size,
		jobs:    make(chan Job, size*16),
		store:   s,
		webpush: webpushOptions,
		sender:  &WebPushSender{}, // Use the real sender by default
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.Debug().Int("worker", id).Msg("notification worker started")
	for {
		select {
		case job := <-wp.jobs:
			wp.sendNotificationsForVehicle(ctx, job)
		case <-ctx.Done():
			log.Debug().Int("worker", id).Msg("notification worker shutting down")
			return
		}
	}
}

// Dispatch queues a job. It never blocks: when the queue is full the job
// is dropped and counted.
func (wp *WorkerPool) Dispatch(job Job) bool {
	select {
	case wp.jobs <- job:
		return true
	default:
		metrics.NotificationsSent.WithLabelValues("dropped").Inc()
		log.Warn().Str("vehicle", job.VehicleID).Msg("notification queue full, dropping job")
		return false
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan Job {
	return wp.jobs
}

// Publish implements fleet.Publisher. A job is dispatched whenever a
// vehicle enters waiting, which is when seats become bookable.
func (wp *WorkerPool) Publish(event fleet.TransitionEvent) {
	if event.State.Status != fleet.StatusWaiting || !changed(event, fleet.FieldStatus) {
		return
	}
	wp.Dispatch(Job{VehicleID: event.VehicleID, SeatsAvailable: event.State.SeatsAvailable()})
}

func changed(event fleet.TransitionEvent, field string) bool {
	for _, f := range event.Changed {
		if f == field {
			return true
		}
	}
	return false
}

func (wp *WorkerPool) sendNotificationsForVehicle(ctx context.Context, job Job) {
	db := wp.store.DB().WithContext(ctx)

	var subscriptions []model.PushSubscription
	err := db.
		Joins("JOIN subscription_vehicle_mapping svm ON svm.push_subscription_endpoint = push_subscriptions.endpoint").
		Where("svm.vehicle_id = ?", job.VehicleID).
		Find(&subscriptions).Error
	if err != nil {
		log.Error().Err(err).Str("vehicle", job.VehicleID).Msg("failed to fetch subscriptions")
		return
	}

	if len(subscriptions) == 0 {
		return
	}

	label := job.VehicleID
	var vehicle model.Vehicle
	if err := db.Select("number").First(&vehicle, "id = ?", job.VehicleID).Error; err != nil {
		log.Debug().Err(err).Str("vehicle", job.VehicleID).Msg("vehicle lookup failed, using id as label")
	} else if vehicle.Number != "" {
		label = vehicle.Number
	}

	payload, err := json.Marshal(Payload{
		Title:          "Seats available",
		Body:           fmt.Sprintf("Shuttle %s has %d seat(s) available", label, job.SeatsAvailable),
		VehicleID:      job.VehicleID,
		SeatsAvailable: job.SeatsAvailable,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to encode notification")
		return
	}

	log.Info().Str("vehicle", job.VehicleID).Int("subscriptions", len(subscriptions)).Msg("sending seat notifications")
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, payload)
	}
}

func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		metrics.NotificationsSent.WithLabelValues("error").Inc()
		log.Warn().Err(err).Str("endpoint", sub.Endpoint).Msg("failed to send notification")
		return
	}
	defer resp.Body.Close()

	// Handle expired subscriptions
	if resp.StatusCode == http.StatusGone {
		metrics.NotificationsSent.WithLabelValues("expired").Inc()
		log.Info().Str("endpoint", sub.Endpoint).Msg("subscription expired, deleting")
		if err := wp.store.DeleteSubscription(ctx, sub.Endpoint); err != nil {
			log.Error().Err(err).Str("endpoint", sub.Endpoint).Msg("failed to delete expired subscription")
		}
		return
	}
	metrics.NotificationsSent.WithLabelValues("ok").Inc()
}
