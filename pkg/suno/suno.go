package suno

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/igolaizola/hackjam/pkg/ratelimit"
	"github.com/patrickmn/go-cache"
)

// DefaultBaseURL is the hackathon generation endpoint.
const DefaultBaseURL = "https://studio-api.prod.suno.com/api/v2/external/hackmit"

var (
	// ErrMisconfigured is returned when the service token is missing.
	ErrMisconfigured = errors.New("suno: missing service token")
	// ErrUnavailable is returned when the upstream call fails.
	ErrUnavailable = errors.New("suno: upstream unavailable")
)

type Client struct {
	client    *http.Client
	debug     bool
	ratelimit ratelimit.Lock
	baseURL   string
	token     string
	stages    *cache.Cache
}

type Config struct {
	Token   string
	BaseURL string
	Wait    time.Duration
	Debug   bool
	Client  *http.Client
}

// New creates a generation client. It fails if the token is empty.
func New(cfg *Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, ErrMisconfigured
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{
			Timeout: 30 * time.Second,
		}
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		client:    client,
		ratelimit: ratelimit.New(cfg.Wait),
		debug:     cfg.Debug,
		baseURL:   strings.TrimRight(baseURL, "/"),
		token:     cfg.Token,
		stages:    cache.New(1*time.Hour, 10*time.Minute),
	}, nil
}

func (c *Client) log(format string, args ...interface{}) {
	if c.debug {
		format += "\n"
		log.Printf(format, args...)
	}
}

// Request is a generation request. Topic asks the service to write the lyrics,
// Prompt provides custom lyrics.
type Request struct {
	Topic        string
	Prompt       string
	Tags         string
	Instrumental *bool
}

type generateRequest struct {
	Topic            string `json:"topic,omitempty"`
	Prompt           string `json:"prompt,omitempty"`
	Tags             string `json:"tags,omitempty"`
	MakeInstrumental *bool  `json:"make_instrumental,omitempty"`
}

type clip struct {
	ID       string   `json:"id"`
	Status   string   `json:"status"`
	Title    string   `json:"title"`
	AudioURL string   `json:"audio_url"`
	ImageURL string   `json:"image_url"`
	VideoURL string   `json:"video_url"`
	Metadata metadata `json:"metadata"`
}

type metadata struct {
	Tags         string  `json:"tags"`
	Prompt       string  `json:"prompt"`
	Duration     float64 `json:"duration"`
	ErrorType    *string `json:"error_type"`
	ErrorMessage *string `json:"error_message"`
}

// Clip is one generated track.
type Clip struct {
	ID           string  `json:"id"`
	Stage        Stage   `json:"stage"`
	Status       string  `json:"status"`
	Title        string  `json:"title,omitempty"`
	StreamURL    string  `json:"stream_url,omitempty"`
	AudioURL     string  `json:"audio_url,omitempty"`
	ImageURL     string  `json:"image_url,omitempty"`
	Duration     float64 `json:"duration,omitempty"`
	ErrorMessage string  `json:"error_message,omitempty"`
}

// Submit requests a new generation and returns the clip id.
func (c *Client) Submit(ctx context.Context, r Request) (string, error) {
	req := &generateRequest{
		Topic:            r.Topic,
		Prompt:           r.Prompt,
		Tags:             r.Tags,
		MakeInstrumental: r.Instrumental,
	}
	var resp clip
	if err := c.do(ctx, "POST", "generate", req, &resp); err != nil {
		return "", fmt.Errorf("suno: couldn't generate: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("suno: empty clip id: %w", ErrUnavailable)
	}
	c.stages.Set(resp.ID, Submitted, cache.DefaultExpiration)
	return resp.ID, nil
}

// Status returns the current state of a clip.
func (c *Client) Status(ctx context.Context, id string) (*Clip, error) {
	var resp []clip
	u := fmt.Sprintf("clips?ids=%s", url.QueryEscape(id))
	if err := c.do(ctx, "GET", u, nil, &resp); err != nil {
		return nil, fmt.Errorf("suno: couldn't get clip %s: %w", id, err)
	}
	for _, raw := range resp {
		if raw.ID == id {
			return c.toClip(raw), nil
		}
	}
	if len(resp) == 1 {
		return c.toClip(resp[0]), nil
	}
	return nil, fmt.Errorf("suno: clip %s not found: %w", id, ErrUnavailable)
}

func (c *Client) toClip(raw clip) *Clip {
	stage, ok := ParseStage(raw.Status)
	if !ok {
		// Unknown vocabulary keeps the last known stage
		stage = Submitted
		if v, found := c.stages.Get(raw.ID); found {
			stage = v.(Stage)
		}
		c.log("suno: unknown status %q for %s, keeping %s", raw.Status, raw.ID, stage)
	}
	c.stages.Set(raw.ID, stage, cache.DefaultExpiration)

	out := &Clip{
		ID:       raw.ID,
		Stage:    stage,
		Status:   raw.Status,
		Title:    raw.Title,
		ImageURL: raw.ImageURL,
		Duration: raw.Metadata.Duration,
	}
	switch stage {
	case Complete:
		out.AudioURL = raw.AudioURL
	default:
		out.StreamURL = raw.AudioURL
	}
	if raw.Metadata.ErrorMessage != nil {
		out.ErrorMessage = *raw.Metadata.ErrorMessage
	}
	return out
}

// Wait polls a clip until it reaches the target stage, a terminal stage or the
// timeout. On timeout the last clip seen is returned.
func (c *Client) Wait(ctx context.Context, id string, target Stage, interval, timeout time.Duration) (*Clip, error) {
	deadline := time.Now().Add(timeout)
	var last *Clip
	for {
		clp, err := c.Status(ctx, id)
		if err != nil {
			return nil, err
		}
		last = clp
		if clp.Stage.Terminal() || clp.Stage == target {
			return clp, nil
		}
		if target == Streaming && clp.Stage == Complete {
			return clp, nil
		}
		if time.Now().Add(interval).After(deadline) {
			return last, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}

type errStatusCode int

func (e errStatusCode) Error() string {
	return fmt.Sprintf("%d", e)
}

func (e errStatusCode) Is(target error) bool {
	return target == ErrUnavailable
}

// StatusCode returns the upstream status code carried by err, if any.
func StatusCode(err error) (int, bool) {
	var errStatus errStatusCode
	if errors.As(err, &errStatus) {
		return int(errStatus), true
	}
	return 0, false
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	var reqBody io.Reader
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("suno: couldn't marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(body)
	}
	logBody := string(body)
	if len(logBody) > 100 {
		logBody = logBody[:100] + "..."
	}
	c.log("suno: do %s %s %s", method, path, logBody)

	u := fmt.Sprintf("%s/%s", c.baseURL, path)
	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("suno: couldn't create request: %w", err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	unlock := c.ratelimit.Lock(ctx)
	defer unlock()

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("suno: couldn't %s %s: %v: %w", method, u, err, ErrUnavailable)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("suno: couldn't read response body: %v: %w", err, ErrUnavailable)
	}
	c.log("suno: response %s %s %d %s", method, path, resp.StatusCode, string(respBody))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errMessage := string(respBody)
		if len(errMessage) > 100 {
			errMessage = errMessage[:100] + "..."
		}
		return fmt.Errorf("suno: %s %s returned (%s): %w", method, u, errMessage, errStatusCode(resp.StatusCode))
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("suno: couldn't unmarshal response body (%T): %v: %w", out, err, ErrUnavailable)
		}
	}
	return nil
}
