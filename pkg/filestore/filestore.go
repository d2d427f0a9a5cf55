package filestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/igolaizola/hackjam/pkg/filestore/local"
	"github.com/igolaizola/hackjam/pkg/filestore/s3"
	"github.com/igolaizola/hackjam/pkg/suno"
)

const maxClipSize = 64 << 20

// ErrNoAudio is returned when a clip has no audio to persist.
var ErrNoAudio = errors.New("filestore: clip has no audio url")

type fs interface {
	Put(ctx context.Context, name string, r io.Reader, contentType string) (string, error)
}

// Store persists generated clips.
type Store struct {
	fs     fs
	client *http.Client
	prefix string
}

type Config struct {
	// Type is local or s3.
	Type string
	// Conn is the directory for local and key:secret@bucket.region for s3.
	Conn string
	// Endpoint overrides the s3 endpoint for compatible providers.
	Endpoint string
	// Prefix is prepended to the file names.
	Prefix string
	Debug  bool
	Client *http.Client
}

func New(ctx context.Context, cfg *Config) (*Store, error) {
	var fs fs
	switch cfg.Type {
	case "s3":
		split := strings.Split(cfg.Conn, "@")
		if len(split) != 2 {
			return nil, fmt.Errorf("filestore: invalid s3 connection string %q", cfg.Conn)
		}
		auth := strings.Split(split[0], ":")
		if len(auth) != 2 {
			return nil, fmt.Errorf("filestore: invalid s3 auth string %q", cfg.Conn)
		}
		loc := strings.Split(split[1], ".")
		if len(loc) != 2 {
			return nil, fmt.Errorf("filestore: invalid s3 location string %q", cfg.Conn)
		}
		candidate, err := s3.New(ctx, &s3.Config{
			Key:      auth[0],
			Secret:   auth[1],
			Bucket:   loc[0],
			Region:   loc[1],
			Endpoint: cfg.Endpoint,
			Debug:    cfg.Debug,
		})
		if err != nil {
			return nil, fmt.Errorf("filestore: %w", err)
		}
		fs = candidate
	case "local", "":
		fs = local.New(cfg.Conn, cfg.Debug)
	default:
		return nil, fmt.Errorf("filestore: unknown file storage type %q", cfg.Type)
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{
			Timeout: 180 * time.Second,
		}
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "hackjam_"
	}
	return &Store{fs: fs, client: client, prefix: prefix}, nil
}

// MP3 returns the file name of a clip.
func MP3(prefix, id string) string {
	return prefix + id + ".mp3"
}

// Persist downloads the audio of a clip and stores it. It returns where the
// clip was saved.
func (s *Store) Persist(ctx context.Context, clip *suno.Clip) (string, error) {
	if clip.AudioURL == "" {
		return "", ErrNoAudio
	}
	req, err := http.NewRequestWithContext(ctx, "GET", clip.AudioURL, nil)
	if err != nil {
		return "", fmt.Errorf("filestore: couldn't create request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("filestore: couldn't download %s: %w", clip.ID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("filestore: download of %s returned %d", clip.ID, resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxClipSize))
	if err != nil {
		return "", fmt.Errorf("filestore: couldn't read %s: %w", clip.ID, err)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || !strings.HasPrefix(contentType, "audio/") {
		contentType = "audio/mpeg"
	}
	path, err := s.fs.Put(ctx, MP3(s.prefix, clip.ID), bytes.NewReader(b), contentType)
	if err != nil {
		return "", fmt.Errorf("filestore: %w", err)
	}
	return path, nil
}
