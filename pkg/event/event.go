package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
)

// Channel carrying generation request events.
const GenerateSongChannel = "generate-song-event"

// GenerationRequested is published after a song row commits. Delivery is
// at-least-once; the consumer must tolerate duplicates.
type GenerationRequested struct {
	SongID string `json:"songId"`
	UserID string `json:"userId"`
}

// Publisher emits generation request events.
type Publisher interface {
	Publish(ctx context.Context, evt GenerationRequested) error
}

// RedisBroker publishes and subscribes to generation request events over
// Redis pub/sub.
type RedisBroker struct {
	client *redis.Client
	debug  bool
}

func NewRedisBroker(addr, password string, db int, debug bool) *RedisBroker {
	return &RedisBroker{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		debug: debug,
	}
}

func (b *RedisBroker) Start(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("event: couldn't ping redis: %w", err)
	}
	return nil
}

func (b *RedisBroker) Stop() error {
	if err := b.client.Close(); err != nil {
		return fmt.Errorf("event: couldn't close redis client: %w", err)
	}
	return nil
}

func (b *RedisBroker) Publish(ctx context.Context, evt GenerationRequested) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("event: couldn't marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, GenerateSongChannel, payload).Err(); err != nil {
		return fmt.Errorf("event: couldn't publish event for song %s: %w", evt.SongID, err)
	}
	if b.debug {
		log.Printf("event: published %s\n", payload)
	}
	return nil
}

// Subscribe delivers generation request events to the handler until the
// context is cancelled. Malformed payloads are logged and skipped.
func (b *RedisBroker) Subscribe(ctx context.Context, handler func(context.Context, GenerationRequested) error) error {
	pubsub := b.client.Subscribe(ctx, GenerateSongChannel)
	defer func() {
		if err := pubsub.Close(); err != nil {
			log.Printf("event: couldn't close subscription: %v\n", err)
		}
	}()

	// Wait for the subscription to be confirmed before consuming.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("event: couldn't subscribe to %s: %w", GenerateSongChannel, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("event: subscription to %s closed", GenerateSongChannel)
			}
			var evt GenerationRequested
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				log.Printf("event: couldn't unmarshal event %q: %v\n", msg.Payload, err)
				continue
			}
			if err := handler(ctx, evt); err != nil {
				log.Printf("event: handler failed for song %s: %v\n", evt.SongID, err)
			}
		}
	}
}
