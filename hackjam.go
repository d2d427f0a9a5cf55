package hackjam

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/igolaizola/hackjam/pkg/fusion"
	"github.com/igolaizola/hackjam/pkg/github"
	"github.com/igolaizola/hackjam/pkg/mood"
	"github.com/igolaizola/hackjam/pkg/session"
	"github.com/igolaizola/hackjam/pkg/suno"
)

const (
	maxTags          = 6
	songifyMoodTags  = 3
	maxLyricsPreview = 600

	defaultRawTopic = "An anthem for HackMIT hackers."
	maxRawTopic     = 480
	maxRawTags      = 100
)

// ErrNoUsers is returned when no access tokens are provided.
var ErrNoUsers = fmt.Errorf("hackjam: at least one spotify access token is required: %w", session.ErrValidation)

// TasteFetcher returns the taste profile of the user owning a token.
type TasteFetcher interface {
	Taste(ctx context.Context, token string) (*fusion.TasteProfile, error)
}

// RepoFetcher returns the data used to write lyrics for a repository.
type RepoFetcher interface {
	Fetch(ctx context.Context, repo github.Repo) (*github.RepoData, error)
}

// Profiles fetches the taste profile of every token in order.
func Profiles(ctx context.Context, taste TasteFetcher, tokens []string) ([]fusion.TasteProfile, error) {
	if len(tokens) == 0 {
		return nil, ErrNoUsers
	}
	var profiles []fusion.TasteProfile
	for i, token := range tokens {
		if strings.TrimSpace(token) == "" {
			return nil, fmt.Errorf("hackjam: empty access token for user %d: %w", i+1, session.ErrValidation)
		}
		p, err := taste.Taste(ctx, token)
		if err != nil {
			return nil, fmt.Errorf("hackjam: couldn't fetch taste of user %d: %w", i+1, err)
		}
		profiles = append(profiles, *p)
	}
	return profiles, nil
}

// AnthemRequest describes a single team anthem.
type AnthemRequest struct {
	Profiles     []fusion.TasteProfile
	Mood         mood.Preset
	TeamName     string
	InsideJokes  string
	Instrumental *bool
	Tags         []string
}

type AnthemResult struct {
	ClipID       string         `json:"clipId"`
	Tags         string         `json:"tags"`
	Instrumental bool           `json:"make_instrumental"`
	Explain      fusion.Explain `json:"explain"`
}

// Anthem fuses the profiles with the mood and submits one generation.
func Anthem(ctx context.Context, gen session.Generator, req *AnthemRequest) (*AnthemResult, error) {
	prompt := fusion.Fuse(req.Profiles, req.Mood, fusion.Options{
		Instrumental: req.Instrumental,
		Tags:         req.Tags,
	})
	instrumental := prompt.Instrumental
	id, err := gen.Submit(ctx, suno.Request{
		Topic:        session.Topic(req.TeamName, req.Mood.ID, req.InsideJokes),
		Tags:         prompt.Tags,
		Instrumental: &instrumental,
	})
	if err != nil {
		return nil, fmt.Errorf("hackjam: couldn't submit anthem: %w", err)
	}
	return &AnthemResult{
		ClipID:       id,
		Tags:         prompt.Tags,
		Instrumental: prompt.Instrumental,
		Explain:      prompt.Explain,
	}, nil
}

// RawRequest submits the given tags and topic as they are, without any
// taste fusion.
type RawRequest struct {
	Tags         string
	Topic        string
	Instrumental *bool
}

type RawResult struct {
	ClipID       string `json:"clipId"`
	Tags         string `json:"tags"`
	Topic        string `json:"topic"`
	Instrumental *bool  `json:"make_instrumental"`
}

// Raw submits one generation with normalized tags and topic.
func Raw(ctx context.Context, gen session.Generator, req *RawRequest) (*RawResult, error) {
	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		topic = defaultRawTopic
	}
	topic = cut(topic, maxRawTopic)
	tags := cut(strings.Join(SplitTags(req.Tags), ", "), maxRawTags)
	if tags == "" {
		return nil, fmt.Errorf("hackjam: missing tags: %w", session.ErrValidation)
	}
	id, err := gen.Submit(ctx, suno.Request{
		Topic:        topic,
		Tags:         tags,
		Instrumental: req.Instrumental,
	})
	if err != nil {
		return nil, fmt.Errorf("hackjam: couldn't submit: %w", err)
	}
	return &RawResult{
		ClipID:       id,
		Tags:         tags,
		Topic:        topic,
		Instrumental: req.Instrumental,
	}, nil
}

func cut(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// SongifyRequest describes a song built from a repository.
type SongifyRequest struct {
	RepoURL  string
	Tags     string
	Mood     mood.Preset
	TeamName string
}

type SongifyResult struct {
	ClipID        string           `json:"clipId"`
	Tags          string           `json:"tags"`
	LyricsPreview string           `json:"lyricsPreview"`
	Lyrics        string           `json:"-"`
	RepoMeta      *github.RepoData `json:"repoMeta"`
	TitleHint     string           `json:"titleHint"`
}

// Songify writes lyrics from a GitHub repository and submits them.
func Songify(ctx context.Context, gh RepoFetcher, gen session.Generator, req *SongifyRequest) (*SongifyResult, error) {
	repo, err := github.ParseRepoURL(req.RepoURL)
	if err != nil {
		return nil, err
	}
	data, err := gh.Fetch(ctx, repo)
	if err != nil {
		return nil, fmt.Errorf("hackjam: couldn't fetch %s: %w", repo, err)
	}
	lyrics := github.BuildLyrics(data.ReadmeTLDR, data.ReadmeTitle, data.Commits)
	tags := SongifyTags(req.Tags, req.Mood)

	id, err := gen.Submit(ctx, suno.Request{
		Prompt: lyrics,
		Tags:   tags,
	})
	if err != nil {
		return nil, fmt.Errorf("hackjam: couldn't submit lyrics: %w", err)
	}

	title := data.ReadmeTitle
	if title == "" {
		title = req.TeamName
	}
	if title == "" {
		title = "HackMIT Track"
	}
	preview := lyrics
	if r := []rune(preview); len(r) > maxLyricsPreview {
		preview = string(r[:maxLyricsPreview])
	}
	return &SongifyResult{
		ClipID:        id,
		Tags:          tags,
		LyricsPreview: preview,
		Lyrics:        lyrics,
		RepoMeta:      data,
		TitleHint:     title,
	}, nil
}

// SongifyTags joins the provided comma separated tags with the first mood
// tags.
func SongifyTags(provided string, preset mood.Preset) string {
	moodTags := preset.Tags
	if len(moodTags) > songifyMoodTags {
		moodTags = moodTags[:songifyMoodTags]
	}
	tags := fusion.Dedup(append(SplitTags(provided), moodTags...))
	if len(tags) > maxTags {
		tags = tags[:maxTags]
	}
	return strings.Join(tags, ", ")
}

// SplitTags splits a comma separated list of tags.
func SplitTags(s string) []string {
	var tags []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// IsValidation reports whether err was caused by invalid input.
func IsValidation(err error) bool {
	return errors.Is(err, session.ErrValidation) || errors.Is(err, github.ErrInvalidURL)
}
