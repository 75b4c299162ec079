package event

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/KrishKoria/HarmonAI/pkg/storage"
)

// Dispatcher drains the transactional outbox: it polls pending entries,
// publishes them and marks them dispatched. A publish failure leaves the
// entry pending for the next tick, giving at-least-once delivery.
type Dispatcher struct {
	store     *storage.Store
	publisher Publisher
	interval  time.Duration
	batch     int
	debug     bool
}

func NewDispatcher(store *storage.Store, publisher Publisher, interval time.Duration, debug bool) *Dispatcher {
	if interval == 0 {
		interval = 2 * time.Second
	}
	return &Dispatcher{
		store:     store,
		publisher: publisher,
		interval:  interval,
		batch:     100,
		debug:     debug,
	}
}

// Run blocks until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	log.Println("dispatcher: process started")
	defer log.Println("dispatcher: process ended")

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("dispatcher: %w", ctx.Err())
		case <-ticker.C:
			if err := d.Tick(ctx); err != nil {
				log.Printf("dispatcher: %v\n", err)
			}
		}
	}
}

// Tick publishes one batch of pending entries.
func (d *Dispatcher) Tick(ctx context.Context) error {
	entries, err := d.store.ListPendingOutbox(ctx, d.batch)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		evt := GenerationRequested{
			SongID: entry.SongID,
			UserID: entry.UserID,
		}
		if err := d.publisher.Publish(ctx, evt); err != nil {
			// Leave the entry pending; it will be retried on the next tick.
			return err
		}
		if err := d.store.MarkOutboxDispatched(ctx, entry.ID); err != nil {
			return err
		}
		if d.debug {
			log.Printf("dispatcher: dispatched event for song %s\n", entry.SongID)
		}
	}
	return nil
}
