package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"dotori-monitor-backend/internal/breaker"
	"dotori-monitor-backend/internal/model"
	"dotori-monitor-backend/internal/store"
)

// mockAlimtalk is a mock implementation of the AlimtalkSender interface.
type mockAlimtalk struct {
	mu       sync.Mutex
	sent     []Message
	SendFunc func(ctx context.Context, msg Message) error
}

func (m *mockAlimtalk) Send(ctx context.Context, msg Message) error {
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()
	if m.SendFunc != nil {
		return m.SendFunc(ctx, msg)
	}
	return nil
}

// mockPush is a mock implementation of the PushSender interface.
type mockPush struct {
	SendFunc func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

func (m *mockPush) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return m.SendFunc(payload, sub, options)
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.PushSubscription{}))
	return store.NewGormStore(db)
}

func newTestDispatcher(alimtalk AlimtalkSender, push PushSender, s store.Store, chunkSize int) *Dispatcher {
	registry := breaker.NewRegistry(breaker.Options{
		FailureThreshold: 100, // Keep the breaker out of partial-failure tests.
		ResetTimeout:     time.Minute,
	})
	return NewDispatcher(alimtalk, push, &webpush.Options{}, s, registry, chunkSize)
}

func kakaoMessages(n int) []Message {
	msgs := make([]Message, n)
	for i := range msgs {
		msgs[i] = Message{
			Channel:    model.ChannelKakao,
			UserID:     int64(i + 1),
			Phone:      "010-0000-" + strconv.Itoa(1000+i),
			TemplateID: "vacancy",
			Variables:  map[string]string{"facilityName": "테스트 어린이집"},
		}
	}
	return msgs
}

func TestDispatch_PartialFailureWithinChunk(t *testing.T) {
	// 3 of 10 sends fail; the other 7 must survive and be counted.
	failing := map[string]bool{
		"010-0000-1002": true,
		"010-0000-1005": true,
		"010-0000-1008": true,
	}
	sender := &mockAlimtalk{
		SendFunc: func(ctx context.Context, msg Message) error {
			if failing[msg.Phone] {
				return fmt.Errorf("provider rejected %s", msg.Phone)
			}
			return nil
		},
	}
	d := newTestDispatcher(sender, &mockPush{}, nil, 10)

	result := d.Dispatch(context.Background(), kakaoMessages(10))

	assert.Equal(t, 7, result.AlimtalksSent)
	assert.Equal(t, 3, result.Failed)
	assert.Len(t, sender.sent, 10, "every send must be attempted despite failures")
}

func TestDispatch_ChunksSequentially(t *testing.T) {
	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0
	sender := &mockAlimtalk{
		SendFunc: func(ctx context.Context, msg Message) error {
			mu.Lock()
			inFlight++
			if inFlight > maxInFlight {
				maxInFlight = inFlight
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			inFlight--
			mu.Unlock()
			return nil
		},
	}
	d := newTestDispatcher(sender, &mockPush{}, nil, 10)

	result := d.Dispatch(context.Background(), kakaoMessages(25))

	assert.Equal(t, 25, result.AlimtalksSent)
	assert.Equal(t, 0, result.Failed)
	assert.LessOrEqual(t, maxInFlight, 10, "parallelism is bounded by the chunk size")
}

func TestDispatch_EmptyBatch(t *testing.T) {
	d := newTestDispatcher(&mockAlimtalk{}, &mockPush{}, nil, 10)
	result := d.Dispatch(context.Background(), nil)
	assert.Zero(t, result.AlimtalksSent)
	assert.Zero(t, result.Failed)
}

func TestDispatch_ExpiredPushSubscriptionDeleted(t *testing.T) {
	s := newTestStore(t)
	sub := model.PushSubscription{
		Endpoint: "https://push.example.com/expired",
		UserID:   7,
		P256DH:   "key",
		Auth:     "auth",
	}
	require.NoError(t, s.SavePushSubscription(context.Background(), &sub))

	push := &mockPush{
		SendFunc: func(payload []byte, wpSub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
			assert.Equal(t, sub.Endpoint, wpSub.Endpoint)
			return &http.Response{
				StatusCode: http.StatusGone,
				Body:       io.NopCloser(bytes.NewBufferString("")),
			}, nil
		},
	}
	d := newTestDispatcher(&mockAlimtalk{}, push, s, 10)

	result := d.Dispatch(context.Background(), []Message{{
		Channel:      model.ChannelPush,
		UserID:       7,
		Subscription: &sub,
		Payload:      []byte(`{"title":"빈자리 알림"}`),
	}})

	// A gone endpoint is a failed delivery, not a sent one; the stale
	// subscription is pruned.
	assert.Zero(t, result.PushesSent)
	assert.Equal(t, 1, result.Failed)
	subs, err := s.PushSubscriptionsByUsers(context.Background(), []int64{7})
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestDispatch_RejectedPushNotCountedAsSent(t *testing.T) {
	sub := model.PushSubscription{
		Endpoint: "https://push.example.com/rejected",
		UserID:   7,
		P256DH:   "key",
		Auth:     "auth",
	}
	push := &mockPush{
		SendFunc: func(payload []byte, wpSub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusTooManyRequests,
				Body:       io.NopCloser(bytes.NewBufferString("")),
			}, nil
		},
	}
	d := newTestDispatcher(&mockAlimtalk{}, push, nil, 10)

	result := d.Dispatch(context.Background(), []Message{{
		Channel:      model.ChannelPush,
		UserID:       7,
		Subscription: &sub,
		Payload:      []byte(`{}`),
	}})

	assert.Zero(t, result.PushesSent)
	assert.Equal(t, 1, result.Failed)
}
