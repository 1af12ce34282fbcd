package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"shuttle-fleet-backend/config"
	"shuttle-fleet-backend/internal/broadcast"
	"shuttle-fleet-backend/internal/db"
	"shuttle-fleet-backend/internal/fleet"
	"shuttle-fleet-backend/internal/mw"
	"shuttle-fleet-backend/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	router *gin.Engine
	engine *fleet.Engine
	bus    *broadcast.Bus
	store  store.Store
	gormDB *gorm.DB
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithBuffer(t, 64)
}

// newTestEnvWithBuffer sizes every stream subscription's queue.
func newTestEnvWithBuffer(t *testing.T, buffer int) *testEnv {
	t.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.Migrate(gormDB))

	bus := broadcast.NewBus(broadcast.NewRegistry(buffer))
	t.Cleanup(bus.Close)
	engine := fleet.NewEngine(fleet.NewStateStore(fleet.WithAcquireTimeout(50*time.Millisecond)), bus)
	s := store.NewGormStore(gormDB)

	router := NewRouter(Dependencies{
		Engine:          engine,
		Bus:             bus,
		Store:           s,
		WebPush:         &webpush.Options{VAPIDPublicKey: "test-public-key", VAPIDPrivateKey: "test-private-key"},
		Heartbeat:       20 * time.Millisecond,
		DefaultCapacity: 4,
	}, config.ServerConfig{RateLimitPerSec: 1000, RateLimitBurst: 1000, CacheTTLSeconds: 5})

	return &testEnv{router: router, engine: engine, bus: bus, store: s, gormDB: gormDB}
}

type caller struct {
	id   string
	role mw.Role
}

var (
	admin     = caller{id: "A1", role: mw.RoleAdmin}
	driverD1  = caller{id: "D1", role: mw.RoleDriver}
	driverD2  = caller{id: "D2", role: mw.RoleDriver}
	studentS1 = caller{id: "S1", role: mw.RoleStudent}
	studentS2 = caller{id: "S2", role: mw.RoleStudent}
	anonymous = caller{}
)

func (e *testEnv) do(t *testing.T, who caller, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if who.id != "" {
		req.Header.Set(mw.HeaderUserID, who.id)
		req.Header.Set(mw.HeaderRole, string(who.role))
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) provision(t *testing.T, id string, capacity int, driver string) fleet.VehicleState {
	t.Helper()
	body := gin.H{"id": id, "capacity": capacity}
	if driver != "" {
		body["driverId"] = driver
	}
	w := e.do(t, admin, http.MethodPost, "/api/admin/vehicles", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[fleet.VehicleState](t, w)
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}
