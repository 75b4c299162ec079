package harmonai

import (
	"context"
	"fmt"
	"log"

	"github.com/KrishKoria/HarmonAI/pkg/song"
	"github.com/KrishKoria/HarmonAI/pkg/storage"
)

type Config struct {
	Debug  bool
	DBType string
	DBConn string
}

// RequestSong queues a song generation request for a user directly against
// the database: two renders with the low and high guidance presets, picked
// up by the dispatcher and worker of a running deployment.
func RequestSong(ctx context.Context, cfg *Config, req song.Request, userID string) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	store, err := storage.New(cfg.DBType, cfg.DBConn, cfg.Debug)
	if err != nil {
		return fmt.Errorf("couldn't create orm store: %w", err)
	}
	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("couldn't start orm store: %w", err)
	}
	if _, err := store.GetUser(ctx, userID); err != nil {
		return fmt.Errorf("couldn't get user %s: %w", userID, err)
	}
	songs := song.New(store, nil)
	if err := songs.GenerateNewSong(ctx, req, userID); err != nil {
		return fmt.Errorf("couldn't queue songs: %w", err)
	}
	log.Println("queued two renders for user", userID)
	return nil
}
