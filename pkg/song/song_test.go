package song

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/KrishKoria/HarmonAI/pkg/storage"
	"github.com/oklog/ulid/v2"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "test.db") + "?_pragma=busy_timeout(5000)"
	store, err := storage.New("sqlite", dsn, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	return store
}

func newTestUser(t *testing.T, store *storage.Store) string {
	t.Helper()
	id := ulid.Make().String()
	if err := store.SetUser(context.Background(), &storage.User{
		ID:    id,
		Email: id + "@example.com",
		Name:  "tester",
	}); err != nil {
		t.Fatal(err)
	}
	return id
}

type fakeSigner struct{}

func (fakeSigner) SignURL(ctx context.Context, name string) (string, error) {
	return "https://cdn.test/" + name + "?signed", nil
}

func TestCreateAndQueue(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	userID := newTestUser(t, store)
	svc := New(store, fakeSigner{})

	id, err := svc.CreateAndQueue(ctx, Request{
		Prompt:          "rave, disco, funky",
		DescribedLyrics: "lyrics about a funky rave track",
	}, 7.5, userID)
	if err != nil {
		t.Fatal(err)
	}

	v, err := store.GetSong(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if v.UserID != userID {
		t.Errorf("user id = %q, want %q", v.UserID, userID)
	}
	if v.Title != "Lyrics about a funky rave track" {
		t.Errorf("title = %q", v.Title)
	}
	if v.GuidanceScale != 7.5 {
		t.Errorf("guidance scale = %v, want 7.5", v.GuidanceScale)
	}
	if v.AudioDuration != 180 {
		t.Errorf("audio duration = %v, want 180", v.AudioDuration)
	}
	if v.Status != storage.Queued {
		t.Errorf("status = %q, want queued", v.Status)
	}
	if v.Published {
		t.Error("new song must not be published")
	}
	if v.S3Key != nil {
		t.Error("new song must not have audio attached")
	}

	entries, err := store.ListPendingOutbox(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("pending outbox entries = %d, want 1", len(entries))
	}
	if entries[0].SongID != id || entries[0].UserID != userID {
		t.Errorf("outbox entry = %+v", entries[0])
	}
}

func TestGenerateNewSong(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	userID := newTestUser(t, store)
	svc := New(store, fakeSigner{})

	if err := svc.GenerateNewSong(ctx, Request{
		FullDescribedSong: "a funky and groovy hip hop rap song",
	}, userID); err != nil {
		t.Fatal(err)
	}

	songs, err := store.ListSongs(ctx, 1, 10, "created_at asc",
		storage.Where("user_id = ?", userID))
	if err != nil {
		t.Fatal(err)
	}
	if len(songs) != 2 {
		t.Fatalf("songs = %d, want 2", len(songs))
	}
	scales := map[float64]bool{}
	for _, v := range songs {
		scales[v.GuidanceScale] = true
		if v.Title != "A funky and groovy hip hop rap song" {
			t.Errorf("title = %q", v.Title)
		}
	}
	if !scales[7.5] || !scales[15] {
		t.Errorf("guidance scales = %v, want 7.5 and 15", scales)
	}

	entries, err := store.ListPendingOutbox(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("pending outbox entries = %d, want 2", len(entries))
	}
}

func attachAudio(t *testing.T, store *storage.Store, id string) {
	t.Helper()
	if err := store.AttachResult(context.Background(), id, id+".wav", id+".png", nil); err != nil {
		t.Fatal(err)
	}
}

func TestPlaybackURL(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	owner := newTestUser(t, store)
	other := newTestUser(t, store)
	svc := New(store, fakeSigner{})

	private, err := svc.CreateAndQueue(ctx, Request{DescribedLyrics: "private song"}, 7.5, owner)
	if err != nil {
		t.Fatal(err)
	}
	attachAudio(t, store, private)

	queued, err := svc.CreateAndQueue(ctx, Request{DescribedLyrics: "still queued"}, 7.5, owner)
	if err != nil {
		t.Fatal(err)
	}

	published, err := svc.CreateAndQueue(ctx, Request{DescribedLyrics: "published song"}, 15, owner)
	if err != nil {
		t.Fatal(err)
	}
	attachAudio(t, store, published)
	if err := svc.SetPublished(ctx, published, owner, true); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		songID  string
		userID  string
		wantErr error
	}{
		{"owner private", private, owner, nil},
		{"non-owner private", private, other, ErrNotFound},
		{"owner without audio", queued, owner, ErrNotFound},
		{"non-owner published", published, other, nil},
		{"unknown song", "missing", owner, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := svc.PlaybackURL(ctx, tt.songID, tt.userID)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && u == "" {
				t.Error("empty playback url")
			}
		})
	}

	// One successful play above, count must reflect it exactly.
	v, err := store.GetSong(ctx, private)
	if err != nil {
		t.Fatal(err)
	}
	if v.ListenCount != 1 {
		t.Errorf("listen count = %d, want 1", v.ListenCount)
	}
}

func TestPlaybackURLCountsEveryAttempt(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	owner := newTestUser(t, store)
	svc := New(store, fakeSigner{})

	id, err := svc.CreateAndQueue(ctx, Request{DescribedLyrics: "counted"}, 7.5, owner)
	if err != nil {
		t.Fatal(err)
	}
	attachAudio(t, store, id)

	n := 4
	var wg sync.WaitGroup
	errC := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.PlaybackURL(ctx, id, owner)
			errC <- err
		}()
	}
	wg.Wait()
	close(errC)
	for err := range errC {
		if err != nil {
			t.Fatal(err)
		}
	}

	v, err := store.GetSong(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if v.ListenCount != int64(n) {
		t.Errorf("listen count = %d, want %d", v.ListenCount, n)
	}
}

func TestSetPublished(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	owner := newTestUser(t, store)
	other := newTestUser(t, store)
	svc := New(store, fakeSigner{})

	id, err := svc.CreateAndQueue(ctx, Request{DescribedLyrics: "mine"}, 7.5, owner)
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.SetPublished(ctx, id, other, true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("non-owner err = %v, want %v", err, ErrNotFound)
	}
	v, err := store.GetSong(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if v.Published {
		t.Error("non-owner update must not publish the song")
	}

	if err := svc.SetPublished(ctx, id, owner, true); err != nil {
		t.Fatal(err)
	}
	v, err = store.GetSong(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if !v.Published {
		t.Error("owner update must publish the song")
	}

	if err := svc.SetPublished(ctx, "missing", owner, true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown song err = %v, want %v", err, ErrNotFound)
	}
}

func TestToggleLike(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	owner := newTestUser(t, store)
	fan := newTestUser(t, store)
	svc := New(store, fakeSigner{})

	id, err := svc.CreateAndQueue(ctx, Request{DescribedLyrics: "likeable"}, 7.5, owner)
	if err != nil {
		t.Fatal(err)
	}

	liked, err := svc.ToggleLike(ctx, id, fan)
	if err != nil {
		t.Fatal(err)
	}
	if !liked {
		t.Error("first toggle must like")
	}
	n, err := store.CountLikes(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("likes = %d, want 1", n)
	}

	liked, err = svc.ToggleLike(ctx, id, fan)
	if err != nil {
		t.Fatal(err)
	}
	if liked {
		t.Error("second toggle must unlike")
	}
	n, err = store.CountLikes(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("likes = %d, want 0", n)
	}

	if _, err := svc.ToggleLike(ctx, "missing", fan); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown song err = %v, want %v", err, ErrNotFound)
	}
}

func TestListPublished(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	owner := newTestUser(t, store)
	fan := newTestUser(t, store)
	svc := New(store, fakeSigner{})

	var published string
	for i := 0; i < 3; i++ {
		id, err := svc.CreateAndQueue(ctx, Request{
			DescribedLyrics: fmt.Sprintf("song %d", i),
		}, 7.5, owner)
		if err != nil {
			t.Fatal(err)
		}
		if i == 0 {
			attachAudio(t, store, id)
			if err := svc.SetPublished(ctx, id, owner, true); err != nil {
				t.Fatal(err)
			}
			published = id
		}
	}
	if _, err := svc.ToggleLike(ctx, published, fan); err != nil {
		t.Fatal(err)
	}

	infos, err := svc.ListPublished(ctx, 1, 10, fan)
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 1 {
		t.Fatalf("published songs = %d, want 1", len(infos))
	}
	info := infos[0]
	if info.ID != published {
		t.Errorf("id = %q, want %q", info.ID, published)
	}
	if info.LikeCount != 1 || !info.Liked {
		t.Errorf("likes = %d liked = %v, want 1 true", info.LikeCount, info.Liked)
	}
	if info.ThumbnailURL == "" {
		t.Error("missing thumbnail url")
	}

	mine, err := svc.ListMine(ctx, 1, 10, owner)
	if err != nil {
		t.Fatal(err)
	}
	if len(mine) != 3 {
		t.Fatalf("own songs = %d, want 3", len(mine))
	}
}
