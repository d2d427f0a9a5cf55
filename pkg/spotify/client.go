package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/igolaizola/hackjam/pkg/ratelimit"
)

const defaultBaseURL = "https://api.spotify.com/v1"

// ErrUnavailable is returned when a Spotify call fails.
var ErrUnavailable = errors.New("spotify: upstream unavailable")

// Client calls the Spotify Web API on behalf of users. The access token is
// passed on each call because one client serves many users.
type Client struct {
	client    *http.Client
	debug     bool
	ratelimit ratelimit.Lock
	baseURL   string
}

type Config struct {
	Wait    time.Duration
	Debug   bool
	Client  *http.Client
	BaseURL string
}

func New(cfg *Config) *Client {
	client := cfg.Client
	if client == nil {
		client = &http.Client{
			Timeout: 30 * time.Second,
		}
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		client:    client,
		ratelimit: ratelimit.New(cfg.Wait),
		debug:     cfg.Debug,
		baseURL:   strings.TrimRight(baseURL, "/"),
	}
}

func (c *Client) log(format string, args ...interface{}) {
	if c.debug {
		format += "\n"
		log.Printf(format, args...)
	}
}

type errStatusCode int

func (e errStatusCode) Error() string {
	return fmt.Sprintf("%d", e)
}

func (e errStatusCode) Is(target error) bool {
	return target == ErrUnavailable
}

func (c *Client) do(ctx context.Context, token, path string, out any) error {
	c.log("spotify: do GET %s", path)

	u := fmt.Sprintf("%s/%s", c.baseURL, path)
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return fmt.Errorf("spotify: couldn't create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	unlock := c.ratelimit.Lock(ctx)
	defer unlock()

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("spotify: couldn't GET %s: %v: %w", u, err, ErrUnavailable)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("spotify: couldn't read response body: %v: %w", err, ErrUnavailable)
	}
	c.log("spotify: response GET %s %d %s", path, resp.StatusCode, string(respBody))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errMessage := string(respBody)
		if len(errMessage) > 100 {
			errMessage = errMessage[:100] + "..."
		}
		return fmt.Errorf("spotify: GET %s returned (%s): %w", u, errMessage, errStatusCode(resp.StatusCode))
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("spotify: couldn't unmarshal response body (%T): %v: %w", out, err, ErrUnavailable)
		}
	}
	return nil
}
