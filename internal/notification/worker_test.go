package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"shuttle-fleet-backend/internal/fleet"
	"shuttle-fleet-backend/internal/model"
	"shuttle-fleet-backend/internal/store"
)

// mockSender is a mock implementation of the NotificationSender interface.
type mockSender struct {
	SendFunc func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// Send calls the mock SendFunc.
func (m *mockSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return m.SendFunc(payload, sub, options)
}

// A helper function to create a mock database connection.
func newTestDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

const subscriptionQuery = `SELECT .* FROM "push_subscriptions".*JOIN .*subscription_vehicle_mapping.*WHERE .*svm\.vehicle_id = \$1`
const vehicleQuery = `SELECT "number" FROM "vehicles" WHERE id = \$1 ORDER BY "vehicles"."id" LIMIT \$[0-9]+`

func TestWorkerPool_Dispatch(t *testing.T) {
	db, _ := newTestDB(t)
	wp := NewWorkerPool(1, store.NewGormStore(db), &webpush.Options{})

	assert.True(t, wp.Dispatch(Job{VehicleID: "V1", SeatsAvailable: 2}))

	select {
	case job := <-wp.Jobs():
		assert.Equal(t, "V1", job.VehicleID)
		assert.Equal(t, 2, job.SeatsAvailable)
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for job to be dispatched")
	}
}

func TestWorkerPool_DispatchNeverBlocks(t *testing.T) {
	db, _ := newTestDB(t)
	wp := NewWorkerPool(1, store.NewGormStore(db), &webpush.Options{})

	// no workers are running, so the queue fills up
	for i := 0; i < cap(wp.Jobs()); i++ {
		require.True(t, wp.Dispatch(Job{VehicleID: "V1"}))
	}
	assert.False(t, wp.Dispatch(Job{VehicleID: "V1"}))
}

func TestWorkerPool_PublishOnlyWhenEnteringWaiting(t *testing.T) {
	db, _ := newTestDB(t)
	wp := NewWorkerPool(1, store.NewGormStore(db), &webpush.Options{})
	driver := "D1"
	engine := fleet.NewEngine(fleet.NewStateStore(), wp)
	ctx := context.Background()

	_, _, err := engine.Provision(fleet.VehicleState{ID: "V1", Capacity: 2, DriverID: &driver, BatteryLevel: 90})
	require.NoError(t, err)
	assert.Len(t, wp.Jobs(), 0, "provisioning does not notify")

	_, err = engine.SetStatus(ctx, "V1", fleet.LatestVersion, fleet.StatusWaiting)
	require.NoError(t, err)
	job := <-wp.Jobs()
	assert.Equal(t, Job{VehicleID: "V1", SeatsAvailable: 2}, job)

	// boarding while waiting keeps the status, no notification
	_, err = engine.AdjustPassengers(ctx, "V1", fleet.LatestVersion, +1)
	require.NoError(t, err)
	assert.Len(t, wp.Jobs(), 0)

	// full, then a seat frees up
	_, err = engine.AdjustPassengers(ctx, "V1", fleet.LatestVersion, +1)
	require.NoError(t, err)
	assert.Len(t, wp.Jobs(), 0)
	_, err = engine.AdjustPassengers(ctx, "V1", fleet.LatestVersion, -1)
	require.NoError(t, err)
	job = <-wp.Jobs()
	assert.Equal(t, Job{VehicleID: "V1", SeatsAvailable: 1}, job)

	_, err = engine.ReportBattery(ctx, "V1", fleet.LatestVersion, 50)
	require.NoError(t, err)
	assert.Len(t, wp.Jobs(), 0)
}

func TestWorkerPool_WorkerLogic(t *testing.T) {
	gormDB, mock := newTestDB(t)
	wp := NewWorkerPool(1, store.NewGormStore(gormDB), &webpush.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wp.Start(ctx)

	t.Run("sends notification for one subscription", func(t *testing.T) {
		var wg sync.WaitGroup
		wg.Add(1)

		subscription := model.PushSubscription{
			Endpoint: "https://example.com/push",
			P256DH:   "test_p256dh",
			Auth:     "test_auth",
		}

		wp.sender = &mockSender{
			SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
				defer wg.Done()
				assert.Equal(t, "https://example.com/push", sub.Endpoint)
				var p Payload
				assert.NoError(t, json.Unmarshal(payload, &p))
				assert.Equal(t, "Shuttle S-12 has 3 seat(s) available", p.Body)
				assert.Equal(t, "V1", p.VehicleID)
				return &http.Response{
					StatusCode: http.StatusCreated,
					Body:       io.NopCloser(bytes.NewBufferString("")),
				}, nil
			},
		}

		mock.ExpectQuery(subscriptionQuery).
			WithArgs("V1").
			WillReturnRows(sqlmock.NewRows([]string{"endpoint", "p256dh", "auth", "created_at"}).
				AddRow(subscription.Endpoint, subscription.P256DH, subscription.Auth, time.Now()))

		mock.ExpectQuery(vehicleQuery).
			WithArgs("V1", 1).
			WillReturnRows(sqlmock.NewRows([]string{"number"}).AddRow("S-12"))

		wp.Dispatch(Job{VehicleID: "V1", SeatsAvailable: 3})
		wg.Wait()
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("deletes expired subscription", func(t *testing.T) {
		subscription := model.PushSubscription{
			Endpoint: "https://example.com/expired",
			P256DH:   "test_p256dh_expired",
			Auth:     "test_auth_expired",
		}

		wp.sender = &mockSender{
			SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
				return &http.Response{
					StatusCode: http.StatusGone,
					Body:       io.NopCloser(bytes.NewBufferString("")),
				}, nil
			},
		}

		mock.ExpectQuery(subscriptionQuery).
			WithArgs("V2").
			WillReturnRows(sqlmock.NewRows([]string{"endpoint", "p256dh", "auth", "created_at"}).
				AddRow(subscription.Endpoint, subscription.P256DH, subscription.Auth, time.Now()))

		mock.ExpectQuery(vehicleQuery).
			WithArgs("V2", 1).
			WillReturnRows(sqlmock.NewRows([]string{"number"}).AddRow("S-2"))

		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM subscription_vehicle_mapping WHERE push_subscription_endpoint = \$1`).
			WithArgs(subscription.Endpoint).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`DELETE FROM "push_subscriptions" WHERE endpoint = \$1`).
			WithArgs(subscription.Endpoint).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		wp.Dispatch(Job{VehicleID: "V2", SeatsAvailable: 1})

		assert.Eventually(t, func() bool {
			return mock.ExpectationsWereMet() == nil
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("falls back to vehicle id when lookup fails", func(t *testing.T) {
		var wg sync.WaitGroup
		wg.Add(1)

		subscription := model.PushSubscription{
			Endpoint: "https://example.com/fallback",
			P256DH:   "test_p256dh_fallback",
			Auth:     "test_auth_fallback",
		}

		wp.sender = &mockSender{
			SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
				defer wg.Done()
				assert.Equal(t, "https://example.com/fallback", sub.Endpoint)
				var p Payload
				assert.NoError(t, json.Unmarshal(payload, &p))
				assert.Equal(t, "Shuttle V3 has 4 seat(s) available", p.Body)
				return &http.Response{
					StatusCode: http.StatusCreated,
					Body:       io.NopCloser(bytes.NewBufferString("")),
				}, nil
			},
		}

		mock.ExpectQuery(subscriptionQuery).
			WithArgs("V3").
			WillReturnRows(sqlmock.NewRows([]string{"endpoint", "p256dh", "auth", "created_at"}).
				AddRow(subscription.Endpoint, subscription.P256DH, subscription.Auth, time.Now()))

		mock.ExpectQuery(vehicleQuery).
			WithArgs("V3", 1).
			WillReturnError(fmt.Errorf("vehicle not found"))

		wp.Dispatch(Job{VehicleID: "V3", SeatsAvailable: 4})
		wg.Wait()
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
