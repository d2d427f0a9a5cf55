package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/igolaizola/hackjam"
	"github.com/igolaizola/hackjam/pkg/fusion"
	"github.com/igolaizola/hackjam/pkg/github"
	"github.com/igolaizola/hackjam/pkg/mood"
	"github.com/igolaizola/hackjam/pkg/relay"
	"github.com/igolaizola/hackjam/pkg/session"
	"github.com/igolaizola/hackjam/pkg/spotify"
	"github.com/igolaizola/hackjam/pkg/suno"
	"github.com/patrickmn/go-cache"
)

const (
	defaultMaxTracks  = 10
	defaultMaxMinutes = 15
	defaultDelay      = 1.0

	defaultWaitTimeout = 180
	maxWaitTimeout     = 600

	defaultState = "hacktrack"
)

var errNotConfigured = errors.New("web: feature not configured")

type generator interface {
	session.Generator
	Wait(ctx context.Context, id string, target suno.Stage, interval, timeout time.Duration) (*suno.Clip, error)
}

type tasteClient interface {
	hackjam.TasteFetcher
	Summarize(ctx context.Context, token string) (*spotify.Summary, error)
	Brief(ctx context.Context, token string) (*spotify.Brief, error)
	Recent(ctx context.Context, token string) (*fusion.TasteProfile, error)
}

type authenticator interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*spotify.Token, error)
	Refresh(ctx context.Context, refreshToken string) (*spotify.Token, error)
}

type server struct {
	debug     bool
	generator generator
	taste     tasteClient
	repos     hackjam.RepoFetcher
	auth      authenticator
	persister session.Persister
	topicFunc session.TopicFunc
	moods     *mood.Catalog
	returnURL string

	pollInterval time.Duration
	clipTimeout  time.Duration
	keepAlive    time.Duration
	sessions     *cache.Cache
}

func (s *server) log(format string, args ...interface{}) {
	if !s.debug {
		return
	}
	format += "\n"
	log.Printf(format, args...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Println("web: couldn't encode response:", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case hackjam.IsValidation(err):
		status = http.StatusBadRequest
	case errors.Is(err, errNotConfigured),
		errors.Is(err, suno.ErrMisconfigured),
		errors.Is(err, spotify.ErrMisconfigured):
		status = http.StatusServiceUnavailable
	case errors.Is(err, suno.ErrUnavailable),
		errors.Is(err, spotify.ErrUnavailable),
		errors.Is(err, github.ErrUnavailable):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		log.Println("web:", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("web: invalid json body: %v: %w", err, session.ErrValidation)
	}
	return nil
}

func (s *server) index(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name": "hackjam",
		"endpoints": []string{
			"GET /api/moods",
			"POST /api/team-anthem",
			"POST /api/team-anthem-debug",
			"POST /api/hackjam-stream",
			"GET /api/sessions/{id}",
			"POST /api/sessions/{id}/cancel",
			"DELETE /api/sessions/{id}",
			"GET /api/clip/{id}",
			"GET /api/clip/{id}/wait",
			"POST /api/wait-and-save",
			"POST /api/songify",
			"GET /api/spotify/authorize",
			"GET /api/spotify/callback",
			"POST /api/spotify/refresh",
			"POST /api/spotify/me",
			"POST /api/spotify/me-min",
			"POST /api/spotify/recent",
		},
	})
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *server) listMoods(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.moods.All())
}

type user struct {
	AccessToken string `json:"accessToken"`
}

func tokens(users []user) []string {
	var out []string
	for _, u := range users {
		out = append(out, u.AccessToken)
	}
	return out
}

type anthemRequest struct {
	Users        []user `json:"users"`
	Mood         string `json:"mood"`
	TeamName     string `json:"teamName"`
	InsideJokes  string `json:"insideJokes"`
	Instrumental *bool  `json:"instrumental"`
	Tags         string `json:"tags"`
}

func (s *server) teamAnthem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req anthemRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	profiles, err := hackjam.Profiles(ctx, s.taste, tokens(req.Users))
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := hackjam.Anthem(ctx, s.generator, &hackjam.AnthemRequest{
		Profiles:     profiles,
		Mood:         s.moods.Lookup(req.Mood),
		TeamName:     req.TeamName,
		InsideJokes:  req.InsideJokes,
		Instrumental: req.Instrumental,
		Tags:         hackjam.SplitTags(req.Tags),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type rawRequest struct {
	Tags         string `json:"tags"`
	Topic        string `json:"topic"`
	Instrumental *bool  `json:"make_instrumental"`
}

func (s *server) teamAnthemDebug(w http.ResponseWriter, r *http.Request) {
	var req rawRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := hackjam.Raw(r.Context(), s.generator, &hackjam.RawRequest{
		Tags:         req.Tags,
		Topic:        req.Topic,
		Instrumental: req.Instrumental,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type streamRequest struct {
	anthemRequest
	MaxTracks       *int     `json:"maxTracks"`
	MaxMinutes      *float64 `json:"maxMinutes"`
	DelayBetweenSec *float64 `json:"delayBetweenSec"`
	SaveEach        bool     `json:"saveEach"`
}

func (req *streamRequest) budget() session.Budget {
	b := session.Budget{
		MaxTracks:   defaultMaxTracks,
		MaxDuration: defaultMaxMinutes * time.Minute,
		Delay:       seconds(defaultDelay),
	}
	if req.MaxTracks != nil {
		b.MaxTracks = *req.MaxTracks
	}
	if req.MaxMinutes != nil {
		b.MaxDuration = time.Duration(*req.MaxMinutes * float64(time.Minute))
	}
	if req.DelayBetweenSec != nil {
		b.Delay = seconds(*req.DelayBetweenSec)
	}
	return b
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

func (s *server) stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req streamRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	// Profiles are fetched before any byte of the stream is written so that
	// failures can still be reported with a status code.
	profiles, err := hackjam.Profiles(ctx, s.taste, tokens(req.Users))
	if err != nil {
		writeError(w, err)
		return
	}
	preset := s.moods.Lookup(req.Mood)
	cfg := &session.Config{
		Generator:    s.generator,
		Profiles:     profiles,
		Mood:         preset,
		Instrumental: req.Instrumental,
		Tags:         hackjam.SplitTags(req.Tags),
		Topic:        session.Topic(req.TeamName, preset.ID, req.InsideJokes),
		TopicFunc:    s.topicFunc,
		Budget:       req.budget(),
		PollInterval: s.pollInterval,
		ClipTimeout:  s.clipTimeout,
		Debug:        s.debug,
	}
	if req.SaveEach {
		if s.persister == nil {
			writeError(w, fmt.Errorf("web: saveEach requires a file store: %w", errNotConfigured))
			return
		}
		cfg.Persister = s.persister
	}
	sess, err := session.New(cfg)
	if err != nil {
		writeError(w, err)
		return
	}
	s.sessions.Set(sess.ID(), sess, cache.DefaultExpiration)

	rl, err := relay.New(w, r, &relay.Config{
		KeepAlive:    s.keepAlive,
		OnDisconnect: sess.Cancel,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	defer rl.Close()

	s.log("web: session %s started", sess.ID())
	err = sess.Run(ctx, func(e session.Event) error {
		return rl.Emit(e)
	})
	if err != nil {
		s.log("web: session %s ended: %v", sess.ID(), err)
	}

	// Keep the session around for status queries after it ends.
	s.sessions.Set(sess.ID(), sess, cache.DefaultExpiration)
}

func (s *server) lookupSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id := chi.URLParam(r, "id")
	v, ok := s.sessions.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("session %s not found", id)})
		return nil, false
	}
	return v.(*session.Session), true
}

func (s *server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *server) cancelSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	sess.Cancel()
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) getClip(w http.ResponseWriter, r *http.Request) {
	clip, err := s.generator.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, clip)
}

type waitResponse struct {
	*suno.Clip
	SavedPath string `json:"saved_path,omitempty"`
	SaveError string `json:"save_error,omitempty"`
	Message   string `json:"message,omitempty"`
}

func (s *server) waitClip(w http.ResponseWriter, r *http.Request) {
	timeout := defaultWaitTimeout
	if v := r.URL.Query().Get("timeoutSec"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, fmt.Errorf("web: invalid timeoutSec %q: %w", v, session.ErrValidation))
			return
		}
		timeout = n
	}
	download := r.URL.Query().Get("download") == "true"
	resp, err := s.wait(r.Context(), chi.URLParam(r, "id"), timeout, download)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type waitAndSaveRequest struct {
	ClipID     string `json:"clipId"`
	TimeoutSec *int   `json:"timeoutSec"`
	Download   *bool  `json:"download"`
}

// waitAndSave is the body form of waitClip, downloading by default.
func (s *server) waitAndSave(w http.ResponseWriter, r *http.Request) {
	var req waitAndSaveRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.ClipID == "" {
		writeError(w, fmt.Errorf("web: missing clipId: %w", session.ErrValidation))
		return
	}
	timeout := defaultWaitTimeout
	if req.TimeoutSec != nil {
		if *req.TimeoutSec <= 0 {
			writeError(w, fmt.Errorf("web: invalid timeoutSec %d: %w", *req.TimeoutSec, session.ErrValidation))
			return
		}
		timeout = *req.TimeoutSec
	}
	download := true
	if req.Download != nil {
		download = *req.Download
	}
	resp, err := s.wait(r.Context(), req.ClipID, timeout, download)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// wait polls the clip until it completes or timeout seconds pass and
// optionally stores it.
func (s *server) wait(ctx context.Context, id string, timeout int, download bool) (*waitResponse, error) {
	if timeout > maxWaitTimeout {
		timeout = maxWaitTimeout
	}
	interval := s.pollInterval
	if interval <= 0 {
		interval = session.DefaultPollInterval
	}
	clip, err := s.generator.Wait(ctx, id, suno.Complete, interval, time.Duration(timeout)*time.Second)
	if err != nil {
		return nil, err
	}
	resp := &waitResponse{Clip: clip}
	if clip.Stage != suno.Complete {
		if !clip.Stage.Terminal() {
			resp.Message = "timeout before completion"
		}
		return resp, nil
	}
	if !download {
		return resp, nil
	}
	if s.persister == nil {
		resp.SaveError = errNotConfigured.Error()
	} else if path, err := s.persister.Persist(ctx, clip); err != nil {
		resp.SaveError = err.Error()
	} else {
		resp.SavedPath = path
	}
	return resp, nil
}

type songifyRequest struct {
	RepoURL  string `json:"repoUrl"`
	Tags     string `json:"tags"`
	Mood     string `json:"mood"`
	TeamName string `json:"teamName"`
}

func (s *server) songify(w http.ResponseWriter, r *http.Request) {
	var req songifyRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := hackjam.Songify(r.Context(), s.repos, s.generator, &hackjam.SongifyRequest{
		RepoURL:  req.RepoURL,
		Tags:     req.Tags,
		Mood:     s.moods.Lookup(req.Mood),
		TeamName: req.TeamName,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) authorize(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil {
		writeError(w, fmt.Errorf("web: spotify login: %w", errNotConfigured))
		return
	}
	state := r.URL.Query().Get("state")
	if state == "" {
		state = defaultState
	}
	u := s.auth.AuthURL(state)
	if r.URL.Query().Get("redirect") == "true" {
		http.Redirect(w, r, u, http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"authorize_url": u})
}

type callbackResponse struct {
	State string `json:"state,omitempty"`
	*spotify.Token
}

func (s *server) callback(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil {
		writeError(w, fmt.Errorf("web: spotify login: %w", errNotConfigured))
		return
	}
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		writeError(w, fmt.Errorf("web: spotify denied access: %s: %w", e, session.ErrValidation))
		return
	}
	code := q.Get("code")
	if code == "" {
		writeError(w, fmt.Errorf("web: missing code: %w", session.ErrValidation))
		return
	}
	tok, err := s.auth.Exchange(r.Context(), code)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.returnURL == "" {
		writeJSON(w, http.StatusOK, &callbackResponse{State: q.Get("state"), Token: tok})
		return
	}
	fragment := url.Values{}
	fragment.Set("access_token", tok.AccessToken)
	fragment.Set("refresh_token", tok.RefreshToken)
	fragment.Set("expires_in", strconv.Itoa(tok.ExpiresIn))
	fragment.Set("state", q.Get("state"))
	http.Redirect(w, r, s.returnURL+"#"+fragment.Encode(), http.StatusFound)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
	// Legacy name still sent by older clients.
	RefreshTokenCamel string `json:"refreshToken"`
}

func (s *server) refresh(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil {
		writeError(w, fmt.Errorf("web: spotify login: %w", errNotConfigured))
		return
	}
	var req refreshRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.RefreshToken == "" {
		req.RefreshToken = req.RefreshTokenCamel
	}
	if req.RefreshToken == "" {
		writeError(w, fmt.Errorf("web: missing refresh_token: %w", session.ErrValidation))
		return
	}
	tok, err := s.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tok)
}

func accessToken(r *http.Request) (string, error) {
	var req user
	if err := decode(r, &req); err != nil {
		return "", err
	}
	if req.AccessToken == "" {
		return "", fmt.Errorf("web: missing accessToken: %w", session.ErrValidation)
	}
	return req.AccessToken, nil
}

func (s *server) me(w http.ResponseWriter, r *http.Request) {
	token, err := accessToken(r)
	if err != nil {
		writeError(w, err)
		return
	}
	summary, err := s.taste.Summarize(r.Context(), token)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *server) meMin(w http.ResponseWriter, r *http.Request) {
	token, err := accessToken(r)
	if err != nil {
		writeError(w, err)
		return
	}
	brief, err := s.taste.Brief(r.Context(), token)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, brief)
}

func (s *server) recent(w http.ResponseWriter, r *http.Request) {
	token, err := accessToken(r)
	if err != nil {
		writeError(w, err)
		return
	}
	profile, err := s.taste.Recent(r.Context(), token)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}
