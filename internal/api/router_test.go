package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"smartqueue-backend/config"
	"smartqueue-backend/internal/clock"
	"smartqueue-backend/internal/dispatch"
	"smartqueue-backend/internal/eventlog"
	"smartqueue-backend/internal/model"
	"smartqueue-backend/internal/mw"
	"smartqueue-backend/internal/notify"
	"smartqueue-backend/internal/registry"
	"smartqueue-backend/internal/reservation"
)

const testAPIKey = "test-api-key"

type testServer struct {
	router *gin.Engine
	clk    *clock.Fixed
	hub    *notify.Hub
	db     *gorm.DB
}

func newTestServer(t *testing.T, defaultCapacity int) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&model.Place{}, &model.VisitEvent{}, &model.Reservation{}, &model.PushSubscription{},
	))

	cfg := &config.Config{}
	cfg.Auth.APIKey = testAPIKey
	cfg.Occupancy.DefaultCapacity = defaultCapacity
	// Keep throttling out of the way for handler tests.
	cfg.Server.RateLimitPerSec = 10000
	cfg.Server.RateLimitBurst = 10000
	cfg.ApplyDefaults()

	clk := clock.NewFixed(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	reg := registry.New(db, cfg.Occupancy.DefaultCapacity)
	events := eventlog.New(db)
	resv := reservation.New(db, reg, clk, cfg.Occupancy.ReservationTTL, cfg.Occupancy.SweepInterval)
	hub := notify.NewHub(cfg.Occupancy.SubscriberBufferMessages)
	dispatcher := dispatch.New(reg, events, resv, hub, nil, clk)

	router := NewRouter(cfg, dispatcher, resv, reg, events, hub, db, nil)
	return &testServer{router: router, clk: clk, hub: hub, db: db}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, authed bool) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set(mw.APIKeyHeader, testAPIKey)
	}

	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func (ts *testServer) postEvent(t *testing.T, placeID, kind string) map[string]any {
	t.Helper()

	w := ts.do(t, http.MethodPost, "/api/event", gin.H{"place_id": placeID, "event": kind}, true)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHealthRequiresNoCredential(t *testing.T) {
	ts := newTestServer(t, 10)

	w := ts.do(t, http.MethodGet, "/healthz", nil, false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "smartqueue-backend")
}

func TestMissingOrWrongAPIKey(t *testing.T) {
	ts := newTestServer(t, 10)

	w := ts.do(t, http.MethodPost, "/api/event", gin.H{"place_id": "hall_1", "event": "enter"}, false)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/event", strings.NewReader(`{"place_id":"hall_1","event":"enter"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(mw.APIKeyHeader, "wrong-key")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// The rejected request performed no side effects.
	var n int64
	require.NoError(t, ts.db.Model(&model.Place{}).Count(&n).Error)
	assert.EqualValues(t, 0, n)
}

func TestPostEvent(t *testing.T) {
	ts := newTestServer(t, 10)

	resp := ts.postEvent(t, "hall_1", "enter")
	assert.Equal(t, "OK", resp["status"])
	assert.EqualValues(t, 1, resp["current_count"])
	assert.Equal(t, "NORMAL", resp["state"])

	resp = ts.postEvent(t, "hall_1", "exit")
	assert.Equal(t, "OK", resp["status"])
	assert.EqualValues(t, 0, resp["current_count"])
}

func TestPostEventRejectsUnknownKind(t *testing.T) {
	ts := newTestServer(t, 10)

	w := ts.do(t, http.MethodPost, "/api/event", gin.H{"place_id": "hall_1", "event": "hover"}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/api/event", gin.H{"event": "enter"}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFullPlaceRedirectAndConfirm(t *testing.T) {
	ts := newTestServer(t, 2)

	// Make hall_2 exist so it can be offered as an alternative.
	w := ts.do(t, http.MethodGet, "/api/places/hall_2", nil, true)
	require.Equal(t, http.StatusOK, w.Code)

	ts.postEvent(t, "hall_1", "enter")
	ts.postEvent(t, "hall_1", "enter")

	resp := ts.postEvent(t, "hall_1", "enter")
	assert.Equal(t, "FULL", resp["status"])
	assert.Equal(t, "hall_2", resp["redirect_to"])
	token, _ := resp["token"].(string)
	require.NotEmpty(t, token)

	// Confirming at the wrong gate is rejected without mutation.
	w = ts.do(t, http.MethodPost, "/api/confirm", gin.H{"token": token, "place_id": "hall_1"}, true)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "WRONG_PLACE")

	w = ts.do(t, http.MethodPost, "/api/confirm", gin.H{"token": token, "place_id": "hall_2"}, true)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "CONFIRMED")

	w = ts.do(t, http.MethodPost, "/api/confirm", gin.H{"token": token, "place_id": "hall_2"}, true)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "ALREADY_CONFIRMED")
}

func TestConfirmUnknownAndExpiredTokens(t *testing.T) {
	ts := newTestServer(t, 2)

	w := ts.do(t, http.MethodPost, "/api/confirm", gin.H{"token": "bogus", "place_id": "hall_2"}, true)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID")

	ts.do(t, http.MethodGet, "/api/places/hall_2", nil, true)
	ts.postEvent(t, "hall_1", "enter")
	ts.postEvent(t, "hall_1", "enter")
	resp := ts.postEvent(t, "hall_1", "enter")
	token, _ := resp["token"].(string)
	require.NotEmpty(t, token)

	ts.clk.Advance(3 * time.Minute)

	w = ts.do(t, http.MethodPost, "/api/confirm", gin.H{"token": token, "place_id": "hall_2"}, true)
	assert.Equal(t, http.StatusGone, w.Code)
	assert.Contains(t, w.Body.String(), "EXPIRED")
}

func TestGetReservations(t *testing.T) {
	ts := newTestServer(t, 1)

	ts.do(t, http.MethodGet, "/api/places/hall_2", nil, true)
	ts.postEvent(t, "hall_1", "enter")
	resp := ts.postEvent(t, "hall_1", "enter")
	require.Equal(t, "FULL", resp["status"])
	require.NotEmpty(t, resp["token"])

	w := ts.do(t, http.MethodGet, "/api/reservations", nil, true)
	require.Equal(t, http.StatusOK, w.Code)

	var list []ReservationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "hall_1", list[0].FromPlace)
	assert.Equal(t, "hall_2", list[0].ToPlace)
	assert.False(t, list[0].Confirmed)

	// Expired entries never show up; the list sweeps first.
	ts.clk.Advance(3 * time.Minute)
	w = ts.do(t, http.MethodGet, "/api/reservations", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Empty(t, list)
}

func TestGetPlaceEvents(t *testing.T) {
	ts := newTestServer(t, 10)

	for i := 0; i < 3; i++ {
		ts.postEvent(t, "hall_1", "enter")
	}

	w := ts.do(t, http.MethodGet, "/api/places/hall_1/events?page=1&page_size=2", nil, true)
	require.Equal(t, http.StatusOK, w.Code)

	var events []visitEventResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &events))
	require.Len(t, events, 2)
	assert.EqualValues(t, 3, events[0].ResultingCount)

	w = ts.do(t, http.MethodGet, "/api/places/hall_1/events?page=abc", nil, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStreamSendsSnapshot(t *testing.T) {
	ts := newTestServer(t, 10)
	ts.postEvent(t, "hall_1", "enter")

	// The request context expires shortly after the snapshot is
	// written, which ends the stream.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/stream/hall_1", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	body := w.Body.String()
	assert.Contains(t, body, "event:snapshot")
	assert.Contains(t, body, `"current_count":1`)

	// The handler cleaned up its hub registration on disconnect.
	assert.Equal(t, 0, ts.hub.SubscriberCount("hall_1"))
}

func TestSubscriptionLifecycle(t *testing.T) {
	ts := newTestServer(t, 10)

	ts.do(t, http.MethodGet, "/api/places/hall_1", nil, true)

	w := ts.do(t, http.MethodPut, "/api/subscriptions", gin.H{
		"endpoint":          "https://example.com/push/abc",
		"p256dh":            "key",
		"auth":              "secret",
		"subscribed_places": []string{"hall_1"},
	}, true)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = ts.do(t, http.MethodGet, "/api/subscriptions?endpoint=https://example.com/push/abc", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "hall_1")

	w = ts.do(t, http.MethodDelete, "/api/subscriptions", gin.H{"endpoint": "https://example.com/push/abc"}, true)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = ts.do(t, http.MethodGet, "/api/subscriptions?endpoint=https://example.com/push/abc", nil, true)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestVAPIDKeyUnconfigured(t *testing.T) {
	ts := newTestServer(t, 10)

	w := ts.do(t, http.MethodGet, "/api/vapid_public_key", nil, true)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
