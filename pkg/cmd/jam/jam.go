package jam

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/igolaizola/hackjam"
	"github.com/igolaizola/hackjam/pkg/filestore"
	"github.com/igolaizola/hackjam/pkg/mood"
	"github.com/igolaizola/hackjam/pkg/openai"
	"github.com/igolaizola/hackjam/pkg/session"
	"github.com/igolaizola/hackjam/pkg/spotify"
	"github.com/igolaizola/hackjam/pkg/suno"
)

type Config struct {
	Debug bool

	SunoToken   string
	SunoURL     string
	SunoWait    time.Duration
	SpotifyWait time.Duration
	Tokens      []string

	Mood         string
	Moods        string
	TeamName     string
	InsideJokes  string
	Instrumental string
	Tags         string

	MaxTracks    int
	MaxDuration  time.Duration
	Delay        time.Duration
	PollInterval time.Duration
	ClipTimeout  time.Duration

	OpenAIKey   string
	OpenAIModel string

	FSType     string
	FSConn     string
	S3Endpoint string

	Output string
}

// Track is a row of the session report.
type Track struct {
	Index     int     `csv:"index"`
	ClipID    string  `csv:"clip_id"`
	Stage     string  `csv:"stage"`
	Title     string  `csv:"title"`
	Duration  float64 `csv:"duration"`
	AudioURL  string  `csv:"audio_url"`
	SavedPath string  `csv:"saved_path"`
	Message   string  `csv:"message"`
}

// Run generates tracks for the team until the budget is exhausted.
func Run(ctx context.Context, cfg *Config) error {
	log.Println("jam: started")
	defer log.Println("jam: ended")

	instrumental, err := parseInstrumental(cfg.Instrumental)
	if err != nil {
		return err
	}
	generator, err := suno.New(&suno.Config{
		Token:   cfg.SunoToken,
		BaseURL: cfg.SunoURL,
		Wait:    cfg.SunoWait,
		Debug:   cfg.Debug,
	})
	if err != nil {
		return fmt.Errorf("jam: couldn't create generation client: %w", err)
	}
	moods, err := mood.Load(cfg.Moods)
	if err != nil {
		return fmt.Errorf("jam: couldn't load moods: %w", err)
	}
	taste := spotify.New(&spotify.Config{
		Wait:  cfg.SpotifyWait,
		Debug: cfg.Debug,
	})
	profiles, err := hackjam.Profiles(ctx, taste, cfg.Tokens)
	if err != nil {
		return fmt.Errorf("jam: %w", err)
	}

	preset := moods.Lookup(cfg.Mood)
	if preset.ID != cfg.Mood {
		log.Printf("jam: unknown mood %q, using %s\n", cfg.Mood, preset.ID)
	}
	sessCfg := &session.Config{
		Generator:    generator,
		Profiles:     profiles,
		Mood:         preset,
		Instrumental: instrumental,
		Tags:         hackjam.SplitTags(cfg.Tags),
		Topic:        session.Topic(cfg.TeamName, preset.ID, cfg.InsideJokes),
		Budget: session.Budget{
			MaxTracks:   cfg.MaxTracks,
			MaxDuration: cfg.MaxDuration,
			Delay:       cfg.Delay,
		},
		PollInterval: cfg.PollInterval,
		ClipTimeout:  cfg.ClipTimeout,
		Debug:        cfg.Debug,
	}
	if cfg.OpenAIKey != "" {
		writer := openai.NewTopicWriter(openai.New(&openai.Config{
			Token: cfg.OpenAIKey,
			Model: cfg.OpenAIModel,
			Debug: cfg.Debug,
		}))
		sessCfg.TopicFunc = writer.Topic
	}
	if cfg.FSType != "" {
		store, err := filestore.New(ctx, &filestore.Config{
			Type:     cfg.FSType,
			Conn:     cfg.FSConn,
			Endpoint: cfg.S3Endpoint,
			Debug:    cfg.Debug,
		})
		if err != nil {
			return fmt.Errorf("jam: couldn't create file storage: %w", err)
		}
		sessCfg.Persister = store
	}
	sess, err := session.New(sessCfg)
	if err != nil {
		return fmt.Errorf("jam: %w", err)
	}

	var tracks []*Track
	var failure error
	runErr := sess.Run(ctx, func(e session.Event) error {
		logEvent(e)
		switch {
		case e.Type == session.TypeError:
			failure = errors.New(e.Message)
		case e.Type == session.TypeTrack && e.Stage.Terminal():
			tracks = append(tracks, toTrack(e))
		}
		return nil
	})

	if cfg.Output != "" {
		if err := writeReport(cfg.Output, tracks); err != nil {
			return err
		}
		log.Printf("jam: report with %d tracks written to %s\n", len(tracks), cfg.Output)
	}
	if runErr != nil && ctx.Err() == nil {
		return fmt.Errorf("jam: %w", runErr)
	}
	if failure != nil {
		return fmt.Errorf("jam: session failed: %w", failure)
	}
	return nil
}

func parseInstrumental(v string) (*bool, error) {
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, fmt.Errorf("jam: invalid instrumental value %q: %w", v, session.ErrValidation)
	}
	return &b, nil
}

func logEvent(e session.Event) {
	switch e.Type {
	case session.TypeSession:
		if e.Event == session.EventStart {
			log.Printf("jam: session %s tags %q\n", e.SessionID, e.Tags)
			return
		}
		done := 0
		if e.TracksDone != nil {
			done = *e.TracksDone
		}
		log.Printf("jam: session %s end (%s) after %d tracks\n", e.SessionID, e.Reason, done)
	case session.TypeTrack:
		switch {
		case e.AudioURL != "":
			log.Printf("jam: track %d %s %s %s\n", e.Index, e.Stage, e.ClipID, e.AudioURL)
		case e.StreamURL != "":
			log.Printf("jam: track %d %s %s %s\n", e.Index, e.Stage, e.ClipID, e.StreamURL)
		default:
			log.Printf("jam: track %d %s %s\n", e.Index, e.Stage, e.ClipID)
		}
		if e.SavedPath != "" {
			log.Printf("jam: track %d saved to %s\n", e.Index, e.SavedPath)
		}
		if e.SaveError != "" {
			log.Printf("jam: track %d couldn't be saved: %s\n", e.Index, e.SaveError)
		}
	case session.TypeError:
		log.Printf("jam: error: %s\n", e.Message)
	}
}

func toTrack(e session.Event) *Track {
	msg := e.Message
	if msg == "" {
		msg = e.SaveError
	}
	return &Track{
		Index:     e.Index,
		ClipID:    e.ClipID,
		Stage:     string(e.Stage),
		Title:     e.Title,
		Duration:  e.Duration,
		AudioURL:  e.AudioURL,
		SavedPath: e.SavedPath,
		Message:   msg,
	}
}

func writeReport(path string, tracks []*Track) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("jam: couldn't create report: %w", err)
	}
	defer f.Close()
	if tracks == nil {
		tracks = []*Track{}
	}
	if err := gocsv.MarshalFile(&tracks, f); err != nil {
		return fmt.Errorf("jam: couldn't write report: %w", err)
	}
	return nil
}
