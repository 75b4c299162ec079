package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/KrishKoria/HarmonAI/pkg/billing"
	"github.com/KrishKoria/HarmonAI/pkg/event"
	"github.com/KrishKoria/HarmonAI/pkg/generator"
	"github.com/KrishKoria/HarmonAI/pkg/song"
	"github.com/KrishKoria/HarmonAI/pkg/storage"
)

type Config struct {
	Debug  bool
	DBType string
	DBConn string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	GeneratorURL string
	Concurrency  int
	Timeout      time.Duration
}

// Each render costs one credit.
const renderCost = 1

// Run consumes generation request events and renders songs until the context
// is cancelled.
func Run(ctx context.Context, cfg *Config) error {
	var iteration int
	log.Println("worker: process started")
	defer func() {
		log.Printf("worker: process ended (%d)\n", iteration)
	}()

	debug := func(format string, args ...interface{}) {
		if !cfg.Debug {
			return
		}
		format += "\n"
		log.Printf(format, args...)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	store, err := storage.New(cfg.DBType, cfg.DBConn, cfg.Debug)
	if err != nil {
		return fmt.Errorf("worker: couldn't create orm store: %w", err)
	}
	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("worker: couldn't start orm store: %w", err)
	}

	broker := event.NewRedisBroker(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.Debug)
	if err := broker.Start(ctx); err != nil {
		return fmt.Errorf("worker: couldn't start event broker: %w", err)
	}
	defer func() {
		if err := broker.Stop(); err != nil {
			log.Printf("worker: couldn't stop event broker: %v\n", err)
		}
	}()

	gen := generator.New(&generator.Config{
		BaseURL: cfg.GeneratorURL,
		Debug:   cfg.Debug,
	})
	songs := song.New(store, nopSigner{})
	ledger := billing.New(store, cfg.Debug)

	w := &worker{
		store:  store,
		songs:  songs,
		ledger: ledger,
		gen:    gen,
		debug:  debug,
	}

	// Concurrency settings
	concurrency := cfg.Concurrency
	if concurrency == 0 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	if cfg.Timeout > 0 {
		var tcancel context.CancelFunc
		ctx, tcancel = context.WithTimeout(ctx, cfg.Timeout)
		defer tcancel()
	}

	err = broker.Subscribe(ctx, func(ctx context.Context, evt event.GenerationRequested) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sem <- struct{}{}:
		}
		iteration++
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			debug("worker: start song %s", evt.SongID)
			if err := w.render(ctx, evt); err != nil {
				log.Println(err)
			}
			debug("worker: end song %s", evt.SongID)
		}()
		return nil
	})
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

type worker struct {
	store  *storage.Store
	songs  *song.Service
	ledger *billing.Ledger
	gen    *generator.Client
	debug  func(format string, args ...interface{})
}

// render processes one generation request. Events are at-least-once, so a
// song that already carries audio or already failed is skipped.
func (w *worker) render(ctx context.Context, evt event.GenerationRequested) error {
	v, err := w.store.GetSong(ctx, evt.SongID)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("worker: event for unknown song %s", evt.SongID)
	}
	if err != nil {
		return err
	}
	if v.Status != storage.Queued {
		w.debug("worker: skipping song %s in status %s", v.ID, v.Status)
		return nil
	}

	if err := w.ledger.Debit(ctx, v.UserID, renderCost); err != nil {
		if errors.Is(err, billing.ErrInsufficientCredits) {
			log.Printf("worker: user %s has no credits, abandoning song %s\n", v.UserID, v.ID)
			return w.songs.MarkFailed(ctx, v.ID)
		}
		return err
	}

	if err := w.store.SetSongStatus(ctx, v.ID, storage.Processing); err != nil {
		return err
	}

	result, err := w.gen.Generate(ctx, generator.Params{
		Prompt:            v.Prompt,
		Lyrics:            v.Lyrics,
		DescribedLyrics:   v.DescribedLyrics,
		FullDescribedSong: v.FullDescribedSong,
		Instrumental:      v.Instrumental,
		GuidanceScale:     v.GuidanceScale,
		AudioDuration:     v.AudioDuration,
	})
	if err != nil {
		if markErr := w.songs.MarkFailed(ctx, v.ID); markErr != nil {
			log.Printf("worker: couldn't mark song %s failed: %v\n", v.ID, markErr)
		}
		return fmt.Errorf("worker: couldn't render song %s: %w", v.ID, err)
	}

	if err := w.songs.AttachResult(ctx, v.ID, result.S3Key, result.CoverImageKey, result.Categories); err != nil {
		return fmt.Errorf("worker: couldn't attach result to song %s: %w", v.ID, err)
	}
	return nil
}

// nopSigner satisfies the song service signer; the worker never issues
// playback URLs.
type nopSigner struct{}

func (nopSigner) SignURL(ctx context.Context, name string) (string, error) {
	return "", fmt.Errorf("worker: signing not supported")
}
