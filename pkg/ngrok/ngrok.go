package ngrok

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os/exec"
	"strings"
	"time"
)

const (
	defaultBin    = "ngrok"
	defaultAPIURL = "http://127.0.0.1:4040"
)

type Config struct {
	// Bin is the path to the ngrok binary.
	Bin string
	// APIURL is the local ngrok agent api.
	APIURL  string
	Port    string
	Timeout time.Duration
	Debug   bool
}

type tunnelsResponse struct {
	Tunnels []struct {
		Name      string `json:"name"`
		PublicURL string `json:"public_url"`
		Proto     string `json:"proto"`
		Config    struct {
			Addr string `json:"addr"`
		} `json:"config"`
	} `json:"tunnels"`
}

// Run exposes the local port with an http tunnel and returns its public url.
// The tunnel is closed when the returned cancel function is called.
func Run(ctx context.Context, cfg *Config) (string, context.CancelFunc, error) {
	bin := cfg.Bin
	if bin == "" {
		bin = defaultBin
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		cmd := exec.CommandContext(ctx, bin, "http", cfg.Port, "--log", "stdout")
		data, err := cmd.CombinedOutput()
		if err != nil && ctx.Err() == nil {
			log.Println(fmt.Errorf("ngrok: %w: %s", err, string(data)))
		}
	}()

	waitCtx, waitCancel := context.WithTimeout(ctx, timeout)
	defer waitCancel()
	u, err := PublicURL(waitCtx, cfg.APIURL, cfg.Port)
	if err != nil {
		cancel()
		return "", nil, err
	}
	if cfg.Debug {
		log.Printf("ngrok: tunnel %s -> %s\n", u, cfg.Port)
	}
	return u, cancel, nil
}

// PublicURL polls the agent api until a tunnel for the port is available.
// https urls are preferred over plain http.
func PublicURL(ctx context.Context, apiURL, port string) (string, error) {
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	client := &http.Client{
		Timeout: 5 * time.Second,
	}
	u := strings.TrimRight(apiURL, "/") + "/api/tunnels"
	for {
		if public, err := lookup(ctx, client, u, port); err == nil && public != "" {
			return public, nil
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("ngrok: tunnel for port %s not ready: %w", port, ctx.Err())
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func lookup(ctx context.Context, client *http.Client, u, port string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ngrok: status %d", resp.StatusCode)
	}
	var tr tunnelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("ngrok: couldn't decode tunnels: %w", err)
	}
	var fallback string
	for _, t := range tr.Tunnels {
		addr := t.Config.Addr
		if idx := strings.LastIndex(addr, ":"); idx >= 0 {
			addr = addr[idx+1:]
		}
		if addr != port {
			continue
		}
		if strings.HasPrefix(t.PublicURL, "https://") {
			return t.PublicURL, nil
		}
		fallback = t.PublicURL
	}
	return fallback, nil
}
