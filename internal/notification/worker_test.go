package notification

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"smartqueue-backend/internal/model"
)

// mockSender is a mock implementation of the Sender interface.
type mockSender struct {
	SendFunc func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

func (m *mockSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return m.SendFunc(payload, sub, options)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&model.Place{}, &model.PushSubscription{}))
	return db
}

func seedSubscription(t *testing.T, db *gorm.DB, endpoint, placeID string) {
	t.Helper()

	place := model.Place{PlaceID: placeID, Capacity: 10}
	require.NoError(t, db.FirstOrCreate(&place, model.Place{PlaceID: placeID}).Error)

	sub := model.PushSubscription{
		Endpoint: endpoint,
		P256DH:   "test_p256dh",
		Auth:     "test_auth",
		Places:   []*model.Place{&place},
	}
	require.NoError(t, db.Create(&sub).Error)
}

func TestWorkerPoolDispatchNeverBlocks(t *testing.T) {
	wp := NewWorkerPool(1, newTestDB(t), &webpush.Options{})

	wp.Dispatch("hall_1")
	select {
	case job := <-wp.Jobs():
		assert.Equal(t, "hall_1", job)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for job to be dispatched")
	}

	// With no worker draining, extra jobs are dropped, not queued
	// behind the caller.
	wp.Dispatch("hall_2")
	wp.Dispatch("hall_3")
}

func TestWorkerSendsSlotFreedPush(t *testing.T) {
	db := newTestDB(t)
	wp := NewWorkerPool(1, db, &webpush.Options{})
	seedSubscription(t, db, "https://example.com/push", "hall_1")

	var wg sync.WaitGroup
	wg.Add(1)
	wp.sender = &mockSender{
		SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
			assert.Equal(t, "https://example.com/push", sub.Endpoint)
			assert.Equal(t, "A slot just opened up at hall_1", string(payload))
			wg.Done()
			return &http.Response{
				StatusCode: http.StatusCreated,
				Body:       io.NopCloser(bytes.NewBufferString("")),
			}, nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wp.Start(ctx)

	wp.Dispatch("hall_1")
	wg.Wait()
}

func TestWorkerSkipsUnrelatedPlaces(t *testing.T) {
	db := newTestDB(t)
	wp := NewWorkerPool(1, db, &webpush.Options{})
	seedSubscription(t, db, "https://example.com/push", "hall_1")

	wp.sender = &mockSender{
		SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
			t.Error("no notification expected for a place without subscribers")
			return nil, nil
		},
	}

	// Process synchronously; no subscribers watch hall_2.
	wp.sendNotificationsForPlace(context.Background(), "hall_2")
}

func TestExpiredSubscriptionIsDeleted(t *testing.T) {
	db := newTestDB(t)
	wp := NewWorkerPool(1, db, &webpush.Options{})
	seedSubscription(t, db, "https://example.com/expired", "hall_1")

	wp.sender = &mockSender{
		SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusGone,
				Body:       io.NopCloser(bytes.NewBufferString("")),
			}, nil
		},
	}

	wp.sendNotificationsForPlace(context.Background(), "hall_1")

	var n int64
	require.NoError(t, db.Model(&model.PushSubscription{}).Count(&n).Error)
	assert.EqualValues(t, 0, n)
}
