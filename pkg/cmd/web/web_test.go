package web

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/igolaizola/hackjam/pkg/fusion"
	"github.com/igolaizola/hackjam/pkg/github"
	"github.com/igolaizola/hackjam/pkg/mood"
	"github.com/igolaizola/hackjam/pkg/session"
	"github.com/igolaizola/hackjam/pkg/spotify"
	"github.com/igolaizola/hackjam/pkg/suno"
)

type fakeGenerator struct {
	mu       sync.Mutex
	requests []suno.Request
}

func (f *fakeGenerator) Submit(ctx context.Context, r suno.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r)
	return fmt.Sprintf("clip-%d", len(f.requests)), nil
}

func (f *fakeGenerator) Status(ctx context.Context, id string) (*suno.Clip, error) {
	if id == "missing" {
		return nil, fmt.Errorf("suno: clip %s not found: %w", id, suno.ErrUnavailable)
	}
	if id == "pending" {
		return &suno.Clip{ID: id, Stage: suno.Streaming, Status: "streaming"}, nil
	}
	return &suno.Clip{
		ID:       id,
		Stage:    suno.Complete,
		Status:   "complete",
		AudioURL: "https://cdn.example.com/" + id + ".mp3",
	}, nil
}

func (f *fakeGenerator) Wait(ctx context.Context, id string, target suno.Stage, interval, timeout time.Duration) (*suno.Clip, error) {
	return f.Status(ctx, id)
}

type fakeTaste struct{}

func (fakeTaste) Taste(ctx context.Context, token string) (*fusion.TasteProfile, error) {
	if token == "expired" {
		return nil, fmt.Errorf("spotify: couldn't get top artists: %w", spotify.ErrUnavailable)
	}
	return &fusion.TasteProfile{Genres: []string{"lofi", token}}, nil
}

func (fakeTaste) Summarize(ctx context.Context, token string) (*spotify.Summary, error) {
	return &spotify.Summary{
		Profile:   spotify.Profile{ID: "user-" + token},
		TopGenres: []string{"lofi"},
	}, nil
}

func (fakeTaste) Brief(ctx context.Context, token string) (*spotify.Brief, error) {
	b := &spotify.Brief{TopGenres: []string{"lofi"}}
	b.Profile.ID = "user-" + token
	return b, nil
}

func (fakeTaste) Recent(ctx context.Context, token string) (*fusion.TasteProfile, error) {
	if token == "expired" {
		return nil, fmt.Errorf("spotify: couldn't get recently played: %w", spotify.ErrUnavailable)
	}
	return &fusion.TasteProfile{Genres: []string{"synthwave"}, Samples: 3}, nil
}

type fakeRepos struct{}

func (fakeRepos) Fetch(ctx context.Context, repo github.Repo) (*github.RepoData, error) {
	return &github.RepoData{
		ReadmeTitle: repo.Name,
		Commits:     []string{"Add streaming endpoint"},
	}, nil
}

type fakeAuth struct{}

func (fakeAuth) AuthURL(state string) string {
	return "https://accounts.spotify.com/authorize?state=" + state
}

func (fakeAuth) Exchange(ctx context.Context, code string) (*spotify.Token, error) {
	return &spotify.Token{AccessToken: "access-" + code, RefreshToken: "refresh", ExpiresIn: 3600}, nil
}

func (fakeAuth) Refresh(ctx context.Context, refreshToken string) (*spotify.Token, error) {
	return &spotify.Token{AccessToken: "access-" + refreshToken}, nil
}

type fakePersister struct{}

func (fakePersister) Persist(ctx context.Context, clip *suno.Clip) (string, error) {
	return "/tmp/" + clip.ID + ".mp3", nil
}

func newTestServer(t *testing.T) (*server, *fakeGenerator) {
	t.Helper()
	gen := &fakeGenerator{}
	return &server{
		generator:    gen,
		taste:        fakeTaste{},
		repos:        fakeRepos{},
		moods:        mood.Default(),
		pollInterval: time.Millisecond,
		keepAlive:    -1,
		sessions:     newSessions(0),
	}, gen
}

func post(t *testing.T, u, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(u, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func readEvents(t *testing.T, resp *http.Response) []session.Event {
	t.Helper()
	var events []session.Event
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var e session.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &e); err != nil {
			t.Fatalf("couldn't decode event %q: %v", line, err)
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		t.Fatal(err)
	}
	return events
}

func TestStream(t *testing.T) {
	s, gen := newTestServer(t)
	srv := httptest.NewServer(s.router(nil, nil))
	defer srv.Close()

	resp := post(t, srv.URL+"/api/hackjam-stream", `{
		"users": [{"accessToken": "indie"}, {"accessToken": "synth"}],
		"mood": "debug-spiral",
		"teamName": "Byte Me",
		"maxTracks": 2,
		"delayBetweenSec": 0
	}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d; want %d", resp.StatusCode, http.StatusOK)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q; want text/event-stream", ct)
	}
	events := readEvents(t, resp)
	if len(events) != 6 {
		t.Fatalf("got %d events; want 6: %+v", len(events), events)
	}
	first, last := events[0], events[len(events)-1]
	if first.Type != session.TypeSession || first.Event != session.EventStart {
		t.Fatalf("first event = %+v; want session start", first)
	}
	if !strings.HasPrefix(first.Tags, "lofi") {
		t.Fatalf("start tags = %q; want lofi first", first.Tags)
	}
	if last.Event != session.EventEnd || last.TracksDone == nil || *last.TracksDone != 2 {
		t.Fatalf("last event = %+v; want session end with 2 tracks", last)
	}
	if len(gen.requests) != 2 || !strings.HasSuffix(gen.requests[1].Topic, "Track 2") {
		t.Fatalf("requests = %+v; want 2 with numbered topics", gen.requests)
	}

	// The finished session stays queryable
	resp, err := http.Get(srv.URL + "/api/sessions/" + first.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var snap session.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if snap.State != session.Completed || snap.TracksDone != 2 {
		t.Fatalf("snapshot = %+v; want completed with 2 tracks", snap)
	}

	// Cancel is idempotent after completion
	for i := 0; i < 2; i++ {
		resp = post(t, srv.URL+"/api/sessions/"+first.SessionID+"/cancel", "")
		resp.Body.Close()
		if resp.StatusCode != http.StatusNoContent {
			t.Fatalf("cancel status = %d; want %d", resp.StatusCode, http.StatusNoContent)
		}
	}
	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/sessions/unknown", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("delete status = %d; want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestStreamZeroTracks(t *testing.T) {
	s, gen := newTestServer(t)
	srv := httptest.NewServer(s.router(nil, nil))
	defer srv.Close()

	resp := post(t, srv.URL+"/api/hackjam-stream", `{"users": [{"accessToken": "a"}], "maxTracks": 0}`)
	defer resp.Body.Close()
	events := readEvents(t, resp)
	if len(events) != 2 {
		t.Fatalf("got %d events; want 2", len(events))
	}
	if end := events[1]; end.TracksDone == nil || *end.TracksDone != 0 {
		t.Fatalf("end event = %+v; want 0 tracks", end)
	}
	if len(gen.requests) != 0 {
		t.Fatalf("got %d submits; want 0", len(gen.requests))
	}
}

func TestStreamRejected(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.router(nil, nil))
	defer srv.Close()

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed", `{"users": [`, http.StatusBadRequest},
		{"no users", `{"users": []}`, http.StatusBadRequest},
		{"empty token", `{"users": [{"accessToken": ""}]}`, http.StatusBadRequest},
		{"negative tracks", `{"users": [{"accessToken": "a"}], "maxTracks": -1}`, http.StatusBadRequest},
		{"negative minutes", `{"users": [{"accessToken": "a"}], "maxMinutes": -1}`, http.StatusBadRequest},
		{"expired token", `{"users": [{"accessToken": "expired"}]}`, http.StatusBadGateway},
		{"save without store", `{"users": [{"accessToken": "a"}], "saveEach": true}`, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, srv.URL+"/api/hackjam-stream", tt.body)
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d; want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestTeamAnthem(t *testing.T) {
	s, gen := newTestServer(t)
	srv := httptest.NewServer(s.router(nil, nil))
	defer srv.Close()

	resp := post(t, srv.URL+"/api/team-anthem", `{
		"users": [{"accessToken": "indie"}],
		"mood": "free-swag-run",
		"teamName": "Byte Me",
		"tags": "punk"
	}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d; want %d", resp.StatusCode, http.StatusOK)
	}
	var got struct {
		ClipID string `json:"clipId"`
		Tags   string `json:"tags"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.ClipID != "clip-1" || got.Tags != "lofi, indie, punk, house, pop, bright" {
		t.Fatalf("anthem = %+v; want clip-1 with fused tags", got)
	}
	if !strings.Contains(gen.requests[0].Topic, "Byte Me") {
		t.Fatalf("topic = %q; want team name", gen.requests[0].Topic)
	}
}

func TestSongify(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.router(nil, nil))
	defer srv.Close()

	resp := post(t, srv.URL+"/api/songify", `{"repoUrl": "gitlab.com/a/b"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d; want %d", resp.StatusCode, http.StatusBadRequest)
	}

	resp = post(t, srv.URL+"/api/songify", `{"repoUrl": "https://github.com/octo/hackjam.git", "mood": "lock-in"}`)
	defer resp.Body.Close()
	var got struct {
		ClipID    string `json:"clipId"`
		TitleHint string `json:"titleHint"`
		Lyrics    string `json:"lyricsPreview"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.TitleHint != "hackjam" || !strings.Contains(got.Lyrics, "Add streaming endpoint") {
		t.Fatalf("songify = %+v; want repo title and commit lyrics", got)
	}
}

func TestClip(t *testing.T) {
	s, _ := newTestServer(t)
	s.persister = fakePersister{}
	srv := httptest.NewServer(s.router(nil, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/clip/missing")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d; want %d", resp.StatusCode, http.StatusBadGateway)
	}

	resp, err = http.Get(srv.URL + "/api/clip/abc/wait?timeoutSec=5&download=true")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var got waitResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Clip == nil || got.Stage != suno.Complete || got.SavedPath != "/tmp/abc.mp3" {
		t.Fatalf("wait = %+v; want complete and saved", got)
	}

	resp, err = http.Get(srv.URL + "/api/clip/abc/wait?timeoutSec=nope")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d; want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestSpotify(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.router(nil, nil))
	defer srv.Close()

	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Get(srv.URL + "/api/spotify/authorize")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d; want %d", resp.StatusCode, http.StatusServiceUnavailable)
	}

	s, _ = newTestServer(t)
	s.auth = fakeAuth{}
	srv = httptest.NewServer(s.router(nil, nil))
	defer srv.Close()
	resp, err = client.Get(srv.URL + "/api/spotify/authorize")
	if err != nil {
		t.Fatal(err)
	}
	var authz struct {
		AuthorizeURL string `json:"authorize_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&authz); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.HasSuffix(authz.AuthorizeURL, "state=hacktrack") {
		t.Fatalf("authorize = %d %q; want 200 with default state", resp.StatusCode, authz.AuthorizeURL)
	}

	resp, err = client.Get(srv.URL + "/api/spotify/authorize?state=s2&redirect=true")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if loc := resp.Header.Get("Location"); resp.StatusCode != http.StatusFound || !strings.HasSuffix(loc, "state=s2") {
		t.Fatalf("authorize redirect = %d %q; want 302 with state s2", resp.StatusCode, loc)
	}

	resp, err = client.Get(srv.URL + "/api/spotify/callback?code=xyz&state=s2")
	if err != nil {
		t.Fatal(err)
	}
	var cb struct {
		State        string `json:"state"`
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&cb); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if cb.AccessToken != "access-xyz" || cb.RefreshToken != "refresh" || cb.State != "s2" {
		t.Fatalf("callback = %+v; want access-xyz with state s2", cb)
	}

	redirect, _ := newTestServer(t)
	redirect.auth = fakeAuth{}
	redirect.returnURL = "http://localhost:3000/"
	redirectSrv := httptest.NewServer(redirect.router(nil, nil))
	defer redirectSrv.Close()
	resp, err = client.Get(redirectSrv.URL + "/api/spotify/callback?code=xyz&state=s1")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if loc := resp.Header.Get("Location"); !strings.HasPrefix(loc, "http://localhost:3000/#access_token=access-xyz") {
		t.Fatalf("location = %q; want tokens in fragment", loc)
	}

	for _, body := range []string{`{"refresh_token": "r1"}`, `{"refreshToken": "r1"}`} {
		resp = post(t, srv.URL+"/api/spotify/refresh", body)
		var tok spotify.Token
		if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if tok.AccessToken != "access-r1" {
			t.Fatalf("refresh %s = %+v; want access-r1", body, tok)
		}
	}
	resp = post(t, srv.URL+"/api/spotify/refresh", `{}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("refresh without token status = %d; want %d", resp.StatusCode, http.StatusBadRequest)
	}

	resp = post(t, srv.URL+"/api/spotify/me", `{"accessToken": "a"}`)
	defer resp.Body.Close()
	var summary struct {
		Profile struct {
			ID string `json:"id"`
		} `json:"profile"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		t.Fatal(err)
	}
	if summary.Profile.ID != "user-a" {
		t.Fatalf("summary = %+v; want user-a", summary)
	}
}

func TestSpotifyTaste(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.router(nil, nil))
	defer srv.Close()

	resp := post(t, srv.URL+"/api/spotify/me-min", `{"accessToken": "a"}`)
	var brief spotify.Brief
	if err := json.NewDecoder(resp.Body).Decode(&brief); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if brief.Profile.ID != "user-a" || len(brief.TopGenres) != 1 {
		t.Fatalf("me-min = %+v; want user-a with one genre", brief)
	}

	resp = post(t, srv.URL+"/api/spotify/recent", `{"accessToken": "a"}`)
	var profile fusion.TasteProfile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if profile.Samples != 3 || profile.Genres[0] != "synthwave" {
		t.Fatalf("recent = %+v; want synthwave with 3 samples", profile)
	}

	tests := []struct {
		path   string
		body   string
		status int
	}{
		{"/api/spotify/me-min", `{}`, http.StatusBadRequest},
		{"/api/spotify/recent", `{}`, http.StatusBadRequest},
		{"/api/spotify/recent", `{"accessToken": "expired"}`, http.StatusBadGateway},
	}
	for _, tt := range tests {
		resp := post(t, srv.URL+tt.path, tt.body)
		resp.Body.Close()
		if resp.StatusCode != tt.status {
			t.Fatalf("%s %s status = %d; want %d", tt.path, tt.body, resp.StatusCode, tt.status)
		}
	}
}

func TestWaitAndSave(t *testing.T) {
	s, _ := newTestServer(t)
	s.persister = fakePersister{}
	srv := httptest.NewServer(s.router(nil, nil))
	defer srv.Close()

	tests := []struct {
		name    string
		body    string
		status  int
		stage   suno.Stage
		saved   string
		message string
	}{
		{"download by default", `{"clipId": "abc"}`, http.StatusOK, suno.Complete, "/tmp/abc.mp3", ""},
		{"no download", `{"clipId": "abc", "download": false}`, http.StatusOK, suno.Complete, "", ""},
		{"not finished", `{"clipId": "pending", "timeoutSec": 1}`, http.StatusOK, suno.Streaming, "", "timeout before completion"},
		{"missing clip id", `{}`, http.StatusBadRequest, "", "", ""},
		{"bad timeout", `{"clipId": "abc", "timeoutSec": 0}`, http.StatusBadRequest, "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, srv.URL+"/api/wait-and-save", tt.body)
			defer resp.Body.Close()
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d; want %d", resp.StatusCode, tt.status)
			}
			if tt.status != http.StatusOK {
				return
			}
			var got waitResponse
			if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
				t.Fatal(err)
			}
			if got.Clip == nil || got.Stage != tt.stage || got.SavedPath != tt.saved || got.Message != tt.message {
				t.Fatalf("wait-and-save = %+v; want stage %s saved %q message %q", got, tt.stage, tt.saved, tt.message)
			}
		})
	}
}

func TestTeamAnthemDebug(t *testing.T) {
	s, gen := newTestServer(t)
	srv := httptest.NewServer(s.router(nil, nil))
	defer srv.Close()

	resp := post(t, srv.URL+"/api/team-anthem-debug", `{"tags": "synthwave, chiptune", "make_instrumental": true}`)
	defer resp.Body.Close()
	var got struct {
		ClipID       string `json:"clipId"`
		Tags         string `json:"tags"`
		Topic        string `json:"topic"`
		Instrumental *bool  `json:"make_instrumental"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.ClipID != "clip-1" || got.Tags != "synthwave, chiptune" || got.Topic == "" {
		t.Fatalf("team-anthem-debug = %+v; want clip-1 with tags and default topic", got)
	}
	if got.Instrumental == nil || !*got.Instrumental {
		t.Fatalf("team-anthem-debug instrumental = %v; want true", got.Instrumental)
	}
	gen.mu.Lock()
	requests := append([]suno.Request{}, gen.requests...)
	gen.mu.Unlock()
	if len(requests) != 1 || requests[0].Tags != "synthwave, chiptune" {
		t.Fatalf("requests = %+v; want one with raw tags", requests)
	}

	resp = post(t, srv.URL+"/api/team-anthem-debug", `{"topic": "no tags"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d; want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestBasicAuth(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.router(nil, map[string]string{"admin": "secret"}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d; want %d", resp.StatusCode, http.StatusUnauthorized)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
	req.SetBasicAuth("admin", "secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d; want %d", resp.StatusCode, http.StatusOK)
	}
}
