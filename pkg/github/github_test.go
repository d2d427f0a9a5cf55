package github

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
)

func TestParseRepoURL(t *testing.T) {
	tests := []struct {
		in      string
		want    Repo
		wantErr bool
	}{
		{"https://github.com/octo/hackjam", Repo{"octo", "hackjam"}, false},
		{"https://GitHub.com/octo/hackjam.git", Repo{"octo", "hackjam"}, false},
		{"github.com/octo/hackjam?tab=readme", Repo{"octo", "hackjam"}, false},
		{"https://github.com/octo/hackjam/tree/main", Repo{"octo", "hackjam"}, false},
		{"https://gitlab.com/octo/hackjam", Repo{}, true},
		{"https://github.com/octo", Repo{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRepoURL(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidURL) {
					t.Fatalf("ParseRepoURL() err = %v; want %v", err, ErrInvalidURL)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRepoURL() err = %v; want nil", err)
			}
			if got != tt.want {
				t.Fatalf("ParseRepoURL() = %v; want %v", got, tt.want)
			}
		})
	}
}

func TestParseReadme(t *testing.T) {
	md := "<p align=\"center\"><img src=\"logo.png\"></p>\r\n\r\n# HackJam\r\n\r\n## Intro\n\nTurns <b>your repo</b> into\na song &amp; more.\n\nSecond paragraph."
	got := ParseReadme(md)
	if got.Title != "HackJam" {
		t.Fatalf("ParseReadme() title = %q; want HackJam", got.Title)
	}
	if got.TLDR != "Turns your repo into a song & more." {
		t.Fatalf("ParseReadme() tldr = %q", got.TLDR)
	}

	long := "# T\n\n" + strings.Repeat("a", 300)
	if got := ParseReadme(long); len(got.TLDR) != 240 {
		t.Fatalf("ParseReadme() tldr length = %d; want 240", len(got.TLDR))
	}
	if got := ParseReadme(""); got != (Readme{}) {
		t.Fatalf("ParseReadme(\"\") = %+v; want empty", got)
	}
}

func TestBuildLyrics(t *testing.T) {
	commits := []string{
		"Merge pull request #1",
		"wip",
		"chore: deps",
		"Add   streaming endpoint",
		"short",
		"Implement mood presets",
	}
	got := BuildLyrics("", "HackJam", commits)
	for _, want := range []string{
		"[Verse 1]\n- Add streaming endpoint\n- Implement mood presets",
		"[Chorus]\nHackJam",
		"[Verse 2]\n- feature flags and hopeful logs",
		"[Bridge]\n- tests are green, deploy at dawn",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("BuildLyrics() = %q; want it to contain %q", got, want)
		}
	}
	if strings.Contains(got, "Merge") || strings.Contains(got, "chore") {
		t.Fatalf("BuildLyrics() kept skipped commits: %q", got)
	}
	if got := BuildLyrics("", "", nil); !strings.Contains(got, "ship it at HackMIT") {
		t.Fatalf("BuildLyrics() = %q; want default chorus", got)
	}
}

func TestFetch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/octo/hackjam/main/README.md", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/octo/hackjam/master/README.md", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("# HackJam\n\nMusic from code."))
	})
	mux.HandleFunc("/repos/octo/hackjam/commits", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("per_page") != "50" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`[{"commit":{"message":"Add fusion engine\n\nlong body"}},{"commit":null},{"commit":{"message":""}}]`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(&Config{RawURL: srv.URL, APIURL: srv.URL})
	got, err := c.Fetch(context.Background(), Repo{"octo", "hackjam"})
	if err != nil {
		t.Fatalf("Fetch() err = %v; want nil", err)
	}
	want := &RepoData{
		ReadmeTitle: "HackJam",
		ReadmeTLDR:  "Music from code.",
		Commits:     []string{"Add fusion engine"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Fetch() = %+v; want %+v", got, want)
	}
}

func TestFetchCommitsIgnored(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/octo/hackjam/main/README.md", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("Just text."))
	})
	mux.HandleFunc("/repos/octo/hackjam/commits", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(&Config{RawURL: srv.URL, APIURL: srv.URL})
	got, err := c.Fetch(context.Background(), Repo{"octo", "hackjam"})
	if err != nil {
		t.Fatalf("Fetch() err = %v; want nil", err)
	}
	if got.ReadmeTitle != "" || got.ReadmeTLDR != "Just text." || len(got.Commits) != 0 {
		t.Fatalf("Fetch() = %+v; want readme only", got)
	}
}
