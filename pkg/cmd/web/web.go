package web

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/igolaizola/hackjam/pkg/filestore"
	"github.com/igolaizola/hackjam/pkg/github"
	"github.com/igolaizola/hackjam/pkg/mood"
	"github.com/igolaizola/hackjam/pkg/ngrok"
	"github.com/igolaizola/hackjam/pkg/openai"
	"github.com/igolaizola/hackjam/pkg/session"
	"github.com/igolaizola/hackjam/pkg/spotify"
	"github.com/igolaizola/hackjam/pkg/suno"
	"github.com/patrickmn/go-cache"
)

type Config struct {
	Debug bool
	Addr  string

	SunoToken   string
	SunoURL     string
	SunoWait    time.Duration
	SpotifyWait time.Duration

	SpotifyClientID     string
	SpotifyClientSecret string
	// SpotifyRedirectURL defaults to the callback of this server.
	SpotifyRedirectURL string
	// SpotifyReturnURL receives the tokens in the fragment after the OAuth
	// callback. When empty the tokens are returned as JSON.
	SpotifyReturnURL string

	GithubToken string

	OpenAIKey   string
	OpenAIModel string

	FSType     string
	FSConn     string
	S3Endpoint string

	// Ngrok exposes the server with a public tunnel.
	Ngrok    bool
	NgrokBin string

	Moods       string
	Origins     []string
	Credentials map[string]string

	PollInterval time.Duration
	ClipTimeout  time.Duration
	KeepAlive    time.Duration
	SessionTTL   time.Duration
}

// Serve starts the hackjam service.
func Serve(ctx context.Context, cfg *Config) error {
	log.Println("web: server started")
	defer log.Println("web: server ended")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	split := strings.Split(cfg.Addr, ":")
	if len(split) != 2 {
		return fmt.Errorf("web: invalid address: %s", cfg.Addr)
	}
	host := split[0]
	port, err := strconv.Atoi(split[1])
	if err != nil {
		return fmt.Errorf("web: invalid port: %s", split[1])
	}

	redirectURL := cfg.SpotifyRedirectURL
	if cfg.Ngrok {
		public, stop, err := ngrok.Run(ctx, &ngrok.Config{
			Bin:   cfg.NgrokBin,
			Port:  strconv.Itoa(port),
			Debug: cfg.Debug,
		})
		if err != nil {
			return fmt.Errorf("web: couldn't start tunnel: %w", err)
		}
		defer stop()
		log.Printf("web: public url %s\n", public)
		if redirectURL == "" {
			redirectURL = public + "/api/spotify/callback"
		}
	}
	if redirectURL == "" {
		redirectURL = fmt.Sprintf("http://127.0.0.1:%d/api/spotify/callback", port)
	}

	generator, err := suno.New(&suno.Config{
		Token:   cfg.SunoToken,
		BaseURL: cfg.SunoURL,
		Wait:    cfg.SunoWait,
		Debug:   cfg.Debug,
	})
	if err != nil {
		return fmt.Errorf("web: couldn't create generation client: %w", err)
	}

	moods, err := mood.Load(cfg.Moods)
	if err != nil {
		return fmt.Errorf("web: couldn't load moods: %w", err)
	}

	// Spotify login is optional, taste endpoints still work with tokens
	// obtained elsewhere.
	var auth authenticator
	if cfg.SpotifyClientID != "" {
		a, err := spotify.NewAuth(&spotify.AuthConfig{
			ClientID:     cfg.SpotifyClientID,
			ClientSecret: cfg.SpotifyClientSecret,
			RedirectURL:  redirectURL,
		})
		if err != nil {
			return fmt.Errorf("web: couldn't create spotify auth: %w", err)
		}
		auth = a
	}

	var persister session.Persister
	if cfg.FSType != "" {
		store, err := filestore.New(ctx, &filestore.Config{
			Type:     cfg.FSType,
			Conn:     cfg.FSConn,
			Endpoint: cfg.S3Endpoint,
			Debug:    cfg.Debug,
		})
		if err != nil {
			return fmt.Errorf("web: couldn't create file storage: %w", err)
		}
		persister = store
	}

	var topicFunc session.TopicFunc
	if cfg.OpenAIKey != "" {
		writer := openai.NewTopicWriter(openai.New(&openai.Config{
			Token: cfg.OpenAIKey,
			Model: cfg.OpenAIModel,
			Debug: cfg.Debug,
		}))
		topicFunc = writer.Topic
	}

	s := &server{
		debug:     cfg.Debug,
		generator: generator,
		taste: spotify.New(&spotify.Config{
			Wait:  cfg.SpotifyWait,
			Debug: cfg.Debug,
		}),
		repos: github.New(&github.Config{
			Token: cfg.GithubToken,
			Debug: cfg.Debug,
		}),
		auth:         auth,
		persister:    persister,
		topicFunc:    topicFunc,
		moods:        moods,
		returnURL:    cfg.SpotifyReturnURL,
		pollInterval: cfg.PollInterval,
		clipTimeout:  cfg.ClipTimeout,
		keepAlive:    cfg.KeepAlive,
		sessions:     newSessions(cfg.SessionTTL),
	}
	mux := s.router(cfg.Origins, cfg.Credentials)

	// Create server
	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: mux,
	}
	go func() {
		note := fmt.Sprintf("http://%s:%d", host, port)
		if host == "" {
			note = fmt.Sprintf("all interfaces http://localhost:%d", port)
		}
		log.Printf("Starting server on %s", note)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v\n", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("web: couldn't shutdown server: %v", err)
	}
	return nil
}

func newSessions(ttl time.Duration) *cache.Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return cache.New(ttl, 10*time.Minute)
}

func (s *server) router(origins []string, credentials map[string]string) http.Handler {
	// Create router
	mux := chi.NewRouter()

	// Add middleware
	mux.Use(middleware.RealIP)
	mux.Use(middleware.Recoverer)
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	if s.debug {
		mux.Use(middleware.Logger)
	}

	// Add BasicAuth middleware
	if len(credentials) > 0 {
		mux.Use(middleware.BasicAuth("private", credentials))
	}

	// Request/response endpoints
	mux.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Get("/", s.index)
		r.Get("/healthz", s.health)
		r.Get("/api/moods", s.listMoods)

		r.Post("/api/team-anthem", s.teamAnthem)
		r.Post("/api/team-anthem-debug", s.teamAnthemDebug)
		r.Post("/api/songify", s.songify)

		r.Get("/api/sessions/{id}", s.getSession)
		r.Post("/api/sessions/{id}/cancel", s.cancelSession)
		r.Delete("/api/sessions/{id}", s.cancelSession)

		r.Get("/api/clip/{id}", s.getClip)

		r.Get("/api/spotify/authorize", s.authorize)
		r.Get("/api/spotify/callback", s.callback)
		r.Post("/api/spotify/refresh", s.refresh)
		r.Post("/api/spotify/me", s.me)
		r.Post("/api/spotify/me-min", s.meMin)
		r.Post("/api/spotify/recent", s.recent)
	})

	// Long running endpoints
	mux.Group(func(r chi.Router) {
		r.Post("/api/hackjam-stream", s.stream)
		r.Get("/api/clip/{id}/wait", s.waitClip)
		r.Post("/api/wait-and-save", s.waitAndSave)
	})
	return mux
}
