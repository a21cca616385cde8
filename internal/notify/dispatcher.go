package notify

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/SherClockHolmes/webpush-go"

	"dotori-monitor-backend/internal/breaker"
	"dotori-monitor-backend/internal/model"
	"dotori-monitor-backend/internal/store"
)

const defaultChunkSize = 10

// Dispatcher sends queued notifications in bounded batches: parallel
// within a chunk, sequential across chunks. One failed send never aborts
// the rest of its chunk; each outcome is captured independently and only
// real successes count. Delivery is best-effort: a lost message does not
// roll back the alert's lastTriggeredAt.
type Dispatcher struct {
	alimtalk    AlimtalkSender
	push        PushSender
	pushOptions *webpush.Options
	store       store.Store
	chunkSize   int

	alimtalkBreaker *breaker.Breaker
	pushBreaker     *breaker.Breaker
}

// NewDispatcher wires a dispatcher with per-provider circuit breakers from
// the shared registry.
func NewDispatcher(alimtalk AlimtalkSender, push PushSender, pushOptions *webpush.Options, s store.Store, registry *breaker.Registry, chunkSize int) *Dispatcher {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	return &Dispatcher{
		alimtalk:        alimtalk,
		push:            push,
		pushOptions:     pushOptions,
		store:           s,
		chunkSize:       chunkSize,
		alimtalkBreaker: registry.Get("alimtalk-api"),
		pushBreaker:     registry.Get("webpush"),
	}
}

// Dispatch sends every message and reports per-channel success counts.
func (d *Dispatcher) Dispatch(ctx context.Context, msgs []Message) Result {
	var result Result

	for start := 0; start < len(msgs); start += d.chunkSize {
		end := start + d.chunkSize
		if end > len(msgs) {
			end = len(msgs)
		}
		chunk := msgs[start:end]

		outcomes := make([]error, len(chunk))
		var wg sync.WaitGroup
		for i := range chunk {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				outcomes[i] = d.sendOne(ctx, chunk[i])
			}(i)
		}
		wg.Wait()

		for i, err := range outcomes {
			if err != nil {
				result.Failed++
				log.Printf("notification send failed (channel=%s user=%d): %v",
					chunk[i].Channel, chunk[i].UserID, err)
				continue
			}
			switch chunk[i].Channel {
			case model.ChannelKakao:
				result.AlimtalksSent++
			case model.ChannelPush:
				result.PushesSent++
			}
		}
	}
	return result
}

func (d *Dispatcher) sendOne(ctx context.Context, msg Message) error {
	switch msg.Channel {
	case model.ChannelPush:
		return d.pushBreaker.Execute(func() error {
			return d.sendPush(ctx, msg)
		})
	default:
		return d.alimtalkBreaker.Execute(func() error {
			return d.alimtalk.Send(ctx, msg)
		})
	}
}

// sendPush delivers one web push message and prunes the subscription when
// the push service reports it gone (HTTP 410).
func (d *Dispatcher) sendPush(ctx context.Context, msg Message) error {
	sub := &webpush.Subscription{
		Endpoint: msg.Subscription.Endpoint,
		Keys: webpush.Keys{
			P256dh: msg.Subscription.P256DH,
			Auth:   msg.Subscription.Auth,
		},
	}

	resp, err := d.push.Send(msg.Payload, sub, d.pushOptions)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		log.Printf("push subscription %s expired, deleting", msg.Subscription.Endpoint)
		if err := d.store.DeletePushSubscription(ctx, msg.Subscription.Endpoint); err != nil {
			log.Printf("failed to delete expired subscription %s: %v", msg.Subscription.Endpoint, err)
		}
		return fmt.Errorf("push endpoint gone: %s", msg.Subscription.Endpoint)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("push service returned status %d", resp.StatusCode)
	}
	return nil
}
