package taste

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/igolaizola/hackjam/pkg/spotify"
)

type Config struct {
	Debug bool
	Wait  time.Duration
	Token string
}

// Run prints the taste summary of the user owning the token.
func Run(ctx context.Context, cfg *Config) error {
	if cfg.Token == "" {
		return fmt.Errorf("taste: missing access token")
	}
	client := spotify.New(&spotify.Config{
		Wait:  cfg.Wait,
		Debug: cfg.Debug,
	})
	summary, err := client.Summarize(ctx, cfg.Token)
	if err != nil {
		return fmt.Errorf("taste: %w", err)
	}
	js, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("taste: couldn't marshal summary: %w", err)
	}
	fmt.Println(string(js))
	return nil
}
