package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"
)

// Client calls the external music generation API. The API renders audio,
// uploads it to object storage itself and answers with the storage keys.
type Client struct {
	client  *http.Client
	baseURL string
	debug   bool
}

type Config struct {
	BaseURL string
	Client  *http.Client
	Debug   bool
}

func New(cfg *Config) *Client {
	client := cfg.Client
	if client == nil {
		client = &http.Client{
			// Rendering a song takes minutes on a cold model.
			Timeout: 10 * time.Minute,
		}
	}
	return &Client{
		client:  client,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		debug:   cfg.Debug,
	}
}

type request struct {
	Prompt            string  `json:"prompt,omitempty"`
	Lyrics            string  `json:"lyrics,omitempty"`
	DescribedLyrics   string  `json:"described_lyrics,omitempty"`
	FullDescribedSong string  `json:"full_described_song,omitempty"`
	AudioDuration     float64 `json:"audio_duration"`
	GuidanceScale     float64 `json:"guidance_scale"`
	Seed              int     `json:"seed"`
	InferStep         int     `json:"infer_step"`
	Instrumental      bool    `json:"instrumental"`
}

// Result is the generation output: object storage keys for the rendered
// audio and cover image plus genre categories describing the song.
type Result struct {
	S3Key         string   `json:"s3_key"`
	CoverImageKey string   `json:"cover_image_s3_key"`
	Categories    []string `json:"categories"`
}

// Params describe a single render.
type Params struct {
	Prompt            string
	Lyrics            string
	DescribedLyrics   string
	FullDescribedSong string
	Instrumental      bool
	GuidanceScale     float64
	AudioDuration     float64
}

// Generate picks the endpoint matching the populated request fields:
// custom lyrics win over described lyrics, which win over a full song
// description.
func (c *Client) Generate(ctx context.Context, p Params) (*Result, error) {
	req := &request{
		AudioDuration: p.AudioDuration,
		GuidanceScale: p.GuidanceScale,
		Seed:          -1,
		InferStep:     60,
		Instrumental:  p.Instrumental,
	}
	var path string
	switch {
	case p.Lyrics != "":
		path = "generate-with-lyrics"
		req.Prompt = p.Prompt
		req.Lyrics = p.Lyrics
	case p.DescribedLyrics != "":
		path = "generate-with-described-lyrics"
		req.Prompt = p.Prompt
		req.DescribedLyrics = p.DescribedLyrics
	case p.FullDescribedSong != "":
		path = "generate-from-description"
		req.FullDescribedSong = p.FullDescribedSong
	default:
		return nil, fmt.Errorf("generator: request has no prompt material")
	}
	var resp Result
	if err := c.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}
	if resp.S3Key == "" {
		return nil, fmt.Errorf("generator: response carries no audio key")
	}
	return &resp, nil
}

var backoff = []time.Duration{
	30 * time.Second,
	1 * time.Minute,
	2 * time.Minute,
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	maxAttempts := 3
	attempts := 0
	var err error
	for {
		if err != nil {
			log.Println("retrying...", err)
		}
		err = c.doAttempt(ctx, method, path, in, out)
		if err == nil {
			return nil
		}
		attempts++
		if attempts >= maxAttempts {
			return err
		}
		// If the error is temporary retry
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			continue
		}

		var retry bool
		var errStatus errStatusCode
		if errors.As(err, &errStatus) {
			switch int(errStatus) {
			case http.StatusBadGateway, http.StatusGatewayTimeout, http.StatusTooManyRequests:
				retry = true
			default:
				return err
			}
		}
		if !retry {
			return err
		}

		// Wait before retrying
		idx := attempts - 1
		if idx >= len(backoff) {
			idx = len(backoff) - 1
		}
		t := time.NewTimer(backoff[idx])
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

type errStatusCode int

func (e errStatusCode) Error() string {
	return fmt.Sprintf("%d", e)
}

func (c *Client) doAttempt(ctx context.Context, method, path string, in, out any) error {
	var reqBody io.Reader
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("generator: couldn't marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(body)
	}
	u := fmt.Sprintf("%s/%s", c.baseURL, path)
	c.log("generator: do %s %s", method, u)

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("generator: couldn't create request: %w", err)
	}
	req.Header.Set("content-type", "application/json")
	req.Header.Set("accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("generator: couldn't %s %s: %w", method, u, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("generator: couldn't read response body: %w", err)
	}
	c.log("generator: response %s %s %d", method, path, resp.StatusCode)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errMessage := string(respBody)
		if len(errMessage) > 100 {
			errMessage = errMessage[:100] + "..."
		}
		return fmt.Errorf("generator: %s %s returned (%s): %w", method, u, errMessage, errStatusCode(resp.StatusCode))
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("generator: couldn't unmarshal response body (%T): %w", out, err)
		}
	}
	return nil
}

func (c *Client) log(format string, args ...interface{}) {
	if c.debug {
		format += "\n"
		log.Printf(format, args...)
	}
}
