package song

import (
	"context"
	"errors"
	"fmt"

	"github.com/KrishKoria/HarmonAI/pkg/storage"
	"github.com/oklog/ulid/v2"
)

// ErrNotFound covers both missing songs and songs the caller may not access,
// so existence of private songs is never leaked.
var ErrNotFound = errors.New("song not found")

// Guidance scale presets used for the two renders of each request.
const (
	guidanceLow  = 7.5
	guidanceHigh = 15
)

const defaultAudioDuration = 180

// Request is a song generation request. At most one of the description
// fields is expected to be set; all may be empty.
type Request struct {
	Prompt            string
	Lyrics            string
	DescribedLyrics   string
	FullDescribedSong string
	Instrumental      bool
}

// Signer produces time-limited playback URLs for stored audio.
type Signer interface {
	SignURL(ctx context.Context, name string) (string, error)
}

// Service drives the song lifecycle: creation and queueing, playback URL
// issuance, publishing and likes. Callers pass the authenticated user id
// explicitly; the service never resolves sessions itself.
type Service struct {
	store  *storage.Store
	signer Signer
}

func New(store *storage.Store, signer Signer) *Service {
	return &Service{
		store:  store,
		signer: signer,
	}
}

// CreateAndQueue inserts a queued song and its generation request event in
// one transaction and returns the new song id.
func (s *Service) CreateAndQueue(ctx context.Context, req Request, guidanceScale float64, userID string) (string, error) {
	v := &storage.Song{
		ID:                ulid.Make().String(),
		UserID:            userID,
		Title:             deriveTitle(req.DescribedLyrics, req.FullDescribedSong),
		Prompt:            req.Prompt,
		Lyrics:            req.Lyrics,
		DescribedLyrics:   req.DescribedLyrics,
		FullDescribedSong: req.FullDescribedSong,
		Instrumental:      req.Instrumental,
		GuidanceScale:     guidanceScale,
		AudioDuration:     defaultAudioDuration,
		Status:            storage.Queued,
	}
	entry := &storage.OutboxEntry{
		ID:     ulid.Make().String(),
		SongID: v.ID,
		UserID: userID,
	}
	if err := s.store.CreateSongWithOutbox(ctx, v, entry); err != nil {
		return "", fmt.Errorf("song: couldn't create song: %w", err)
	}
	return v.ID, nil
}

// GenerateNewSong queues two renders of the same request with the low and
// high guidance presets. The two are independent: a failure of one doesn't
// roll back the other, and both errors are reported.
func (s *Service) GenerateNewSong(ctx context.Context, req Request, userID string) error {
	var errs []error
	for _, scale := range []float64{guidanceLow, guidanceHigh} {
		if _, err := s.CreateAndQueue(ctx, req, scale, userID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PlaybackURL returns a signed URL for the song's audio. The lookup requires
// attached audio and ownership or published visibility; any miss is
// ErrNotFound. Every successful lookup counts as a play attempt.
func (s *Service) PlaybackURL(ctx context.Context, songID, userID string) (string, error) {
	v, err := s.store.GetPlayableSong(ctx, songID, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if err := s.store.IncrementListenCount(ctx, songID); err != nil {
		return "", err
	}
	u, err := s.signer.SignURL(ctx, *v.S3Key)
	if err != nil {
		return "", fmt.Errorf("song: couldn't sign playback url for song %s: %w", songID, err)
	}
	return u, nil
}

// SetPublished toggles the published flag on a song the caller owns.
// Returns ErrNotFound when the song doesn't exist or isn't theirs.
func (s *Service) SetPublished(ctx context.Context, songID, userID string, published bool) error {
	err := s.store.SetPublished(ctx, songID, userID, published)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// ToggleLike flips the caller's like on a song and reports the new state.
func (s *Service) ToggleLike(ctx context.Context, songID, userID string) (bool, error) {
	if _, err := s.store.GetSong(ctx, songID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, ErrNotFound
		}
		return false, err
	}
	return s.store.ToggleLike(ctx, &storage.Like{
		ID:     ulid.Make().String(),
		UserID: userID,
		SongID: songID,
	})
}

// Info is a song with its display fields resolved for the caller.
type Info struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Prompt       string   `json:"prompt"`
	CreatedBy    string   `json:"createdBy"`
	Status       string   `json:"status"`
	Published    bool     `json:"published"`
	Instrumental bool     `json:"instrumental"`
	ListenCount  int64    `json:"listenCount"`
	LikeCount    int      `json:"likeCount"`
	Liked        bool     `json:"liked"`
	Categories   []string `json:"categories"`
	ThumbnailURL string   `json:"thumbnailUrl,omitempty"`
}

// ListPublished returns the public feed, newest first.
func (s *Service) ListPublished(ctx context.Context, page, size int, userID string) ([]*Info, error) {
	songs, err := s.store.ListSongs(ctx, page, size, "created_at desc",
		storage.Where("published = ?", true))
	if err != nil {
		return nil, err
	}
	return s.infos(ctx, songs, userID), nil
}

// ListMine returns the caller's own songs, newest first.
func (s *Service) ListMine(ctx context.Context, page, size int, userID string) ([]*Info, error) {
	songs, err := s.store.ListSongs(ctx, page, size, "created_at desc",
		storage.Where("user_id = ?", userID))
	if err != nil {
		return nil, err
	}
	return s.infos(ctx, songs, userID), nil
}

func (s *Service) infos(ctx context.Context, songs []*storage.Song, userID string) []*Info {
	var out []*Info
	for _, v := range songs {
		info := &Info{
			ID:           v.ID,
			Title:        v.Title,
			Prompt:       v.Prompt,
			Status:       string(v.Status),
			Published:    v.Published,
			Instrumental: v.Instrumental,
			ListenCount:  v.ListenCount,
			LikeCount:    len(v.Likes),
			Categories:   []string{},
		}
		if v.User != nil {
			info.CreatedBy = v.User.Name
		}
		for _, l := range v.Likes {
			if l.UserID == userID {
				info.Liked = true
				break
			}
		}
		for _, c := range v.Categories {
			info.Categories = append(info.Categories, c.Name)
		}
		if v.CoverS3Key != nil {
			u, err := s.signer.SignURL(ctx, *v.CoverS3Key)
			if err == nil {
				info.ThumbnailURL = u
			}
		}
		out = append(out, info)
	}
	return out
}

// AttachResult stores the generation output on a queued song. Used by the
// worker when a render finishes.
func (s *Service) AttachResult(ctx context.Context, songID, s3Key, coverS3Key string, categories []string) error {
	cats, err := s.store.EnsureCategories(ctx, categories)
	if err != nil {
		return err
	}
	if err := s.store.AttachResult(ctx, songID, s3Key, coverS3Key, cats); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// MarkFailed flags a song whose render was abandoned.
func (s *Service) MarkFailed(ctx context.Context, songID string) error {
	err := s.store.SetSongStatus(ctx, songID, storage.Failed)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
