package songify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/igolaizola/hackjam"
	"github.com/igolaizola/hackjam/pkg/filestore"
	"github.com/igolaizola/hackjam/pkg/github"
	"github.com/igolaizola/hackjam/pkg/mood"
	"github.com/igolaizola/hackjam/pkg/suno"
)

type Config struct {
	Debug bool

	SunoToken   string
	SunoURL     string
	SunoWait    time.Duration
	GithubToken string

	RepoURL  string
	Tags     string
	Mood     string
	Moods    string
	TeamName string

	// Wait polls the clip until it completes or the timeout expires.
	Wait         time.Duration
	PollInterval time.Duration

	FSType     string
	FSConn     string
	S3Endpoint string
}

// Run turns a GitHub repository into a song.
func Run(ctx context.Context, cfg *Config) error {
	log.Println("songify: started")
	defer log.Println("songify: ended")

	generator, err := suno.New(&suno.Config{
		Token:   cfg.SunoToken,
		BaseURL: cfg.SunoURL,
		Wait:    cfg.SunoWait,
		Debug:   cfg.Debug,
	})
	if err != nil {
		return fmt.Errorf("songify: couldn't create generation client: %w", err)
	}
	moods, err := mood.Load(cfg.Moods)
	if err != nil {
		return fmt.Errorf("songify: couldn't load moods: %w", err)
	}
	repos := github.New(&github.Config{
		Token: cfg.GithubToken,
		Debug: cfg.Debug,
	})

	res, err := hackjam.Songify(ctx, repos, generator, &hackjam.SongifyRequest{
		RepoURL:  cfg.RepoURL,
		Tags:     cfg.Tags,
		Mood:     moods.Lookup(cfg.Mood),
		TeamName: cfg.TeamName,
	})
	if err != nil {
		return fmt.Errorf("songify: %w", err)
	}
	log.Printf("songify: submitted %s %q with tags %q\n", res.ClipID, res.TitleHint, res.Tags)
	fmt.Println(res.Lyrics)

	if cfg.Wait <= 0 {
		return nil
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	clip, err := generator.Wait(ctx, res.ClipID, suno.Complete, interval, cfg.Wait)
	if err != nil {
		return fmt.Errorf("songify: couldn't wait for %s: %w", res.ClipID, err)
	}
	js, _ := json.MarshalIndent(clip, "", "  ")
	fmt.Println(string(js))
	if clip.Stage != suno.Complete || cfg.FSType == "" {
		return nil
	}

	store, err := filestore.New(ctx, &filestore.Config{
		Type:     cfg.FSType,
		Conn:     cfg.FSConn,
		Endpoint: cfg.S3Endpoint,
		Debug:    cfg.Debug,
	})
	if err != nil {
		return fmt.Errorf("songify: couldn't create file storage: %w", err)
	}
	path, err := store.Persist(ctx, clip)
	if err != nil {
		return fmt.Errorf("songify: %w", err)
	}
	log.Printf("songify: saved %s to %s\n", clip.ID, path)
	return nil
}
