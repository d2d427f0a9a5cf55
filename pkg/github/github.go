package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/igolaizola/hackjam/pkg/ratelimit"
)

const (
	defaultRawURL = "https://raw.githubusercontent.com"
	defaultAPIURL = "https://api.github.com"
	maxCommits    = 50
)

var (
	// ErrInvalidURL is returned when a repository URL can't be parsed.
	ErrInvalidURL = errors.New("github: invalid repository url, expected https://github.com/owner/repo")
	// ErrUnavailable is returned when GitHub can't be reached.
	ErrUnavailable = errors.New("github: upstream unavailable")
)

type Client struct {
	client    *http.Client
	debug     bool
	ratelimit ratelimit.Lock
	token     string
	rawURL    string
	apiURL    string
}

type Config struct {
	Token  string
	Wait   time.Duration
	Debug  bool
	Client *http.Client
	RawURL string
	APIURL string
}

func New(cfg *Config) *Client {
	client := cfg.Client
	if client == nil {
		client = &http.Client{
			Timeout: 20 * time.Second,
		}
	}
	rawURL := cfg.RawURL
	if rawURL == "" {
		rawURL = defaultRawURL
	}
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	return &Client{
		client:    client,
		debug:     cfg.Debug,
		ratelimit: ratelimit.New(cfg.Wait),
		token:     cfg.Token,
		rawURL:    strings.TrimRight(rawURL, "/"),
		apiURL:    strings.TrimRight(apiURL, "/"),
	}
}

func (c *Client) log(format string, args ...interface{}) {
	if c.debug {
		format += "\n"
		log.Printf(format, args...)
	}
}

// Repo identifies a GitHub repository.
type Repo struct {
	Owner string `json:"owner"`
	Name  string `json:"repo"`
}

func (r Repo) String() string {
	return r.Owner + "/" + r.Name
}

var repoRegex = regexp.MustCompile(`(?i)github\.com/([^/]+)/([^/#?]+)`)

// ParseRepoURL extracts the owner and name from a GitHub URL.
func ParseRepoURL(u string) (Repo, error) {
	m := repoRegex.FindStringSubmatch(u)
	if m == nil {
		return Repo{}, fmt.Errorf("github: couldn't parse %q: %w", u, ErrInvalidURL)
	}
	name := strings.TrimSuffix(m[2], ".git")
	if name == "" {
		return Repo{}, fmt.Errorf("github: couldn't parse %q: %w", u, ErrInvalidURL)
	}
	return Repo{Owner: m[1], Name: name}, nil
}

// RepoData is what the lyrics are built from.
type RepoData struct {
	ReadmeTitle string   `json:"readmeTitle"`
	ReadmeTLDR  string   `json:"readmeTLDR"`
	Commits     []string `json:"commits"`
}

// Fetch reads the README of the repository and its latest commit subjects.
// A missing README or a failed commit listing yield empty values.
func (c *Client) Fetch(ctx context.Context, repo Repo) (*RepoData, error) {
	readme, err := c.Readme(ctx, repo)
	if err != nil {
		return nil, err
	}
	commits, err := c.Commits(ctx, repo)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.log("github: ignoring commits of %s: %v", repo, err)
		commits = nil
	}
	meta := ParseReadme(readme)
	return &RepoData{
		ReadmeTitle: meta.Title,
		ReadmeTLDR:  meta.TLDR,
		Commits:     commits,
	}, nil
}

// Readme returns the README from the main branch, falling back to master.
// An empty string is returned if neither exists.
func (c *Client) Readme(ctx context.Context, repo Repo) (string, error) {
	for _, branch := range []string{"main", "master"} {
		u := fmt.Sprintf("%s/%s/%s/%s/README.md", c.rawURL, repo.Owner, repo.Name, branch)
		body, err := c.do(ctx, u, "")
		var errStatus errStatusCode
		if errors.As(err, &errStatus) {
			c.log("github: no readme on %s@%s: %v", repo, branch, err)
			continue
		}
		if err != nil {
			return "", fmt.Errorf("github: couldn't get readme: %w", err)
		}
		return string(body), nil
	}
	return "", nil
}

type commitItem struct {
	Commit *struct {
		Message string `json:"message"`
	} `json:"commit"`
}

// Commits returns the subject lines of the latest commits.
func (c *Client) Commits(ctx context.Context, repo Repo) ([]string, error) {
	u := fmt.Sprintf("%s/repos/%s/%s/commits?per_page=%d", c.apiURL, repo.Owner, repo.Name, maxCommits)
	body, err := c.do(ctx, u, "application/vnd.github+json")
	if err != nil {
		return nil, fmt.Errorf("github: couldn't list commits: %w", err)
	}
	var items []commitItem
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("github: couldn't unmarshal commits: %v: %w", err, ErrUnavailable)
	}
	var subjects []string
	for _, it := range items {
		if it.Commit == nil {
			continue
		}
		subject, _, _ := strings.Cut(it.Commit.Message, "\n")
		if subject == "" {
			continue
		}
		subjects = append(subjects, subject)
	}
	return subjects, nil
}

type errStatusCode int

func (e errStatusCode) Error() string {
	return fmt.Sprintf("%d", e)
}

func (e errStatusCode) Is(target error) bool {
	return target == ErrUnavailable
}

func (c *Client) do(ctx context.Context, u, accept string) ([]byte, error) {
	c.log("github: do GET %s", u)
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("github: couldn't create request: %w", err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	unlock := c.ratelimit.Lock(ctx)
	defer unlock()

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("github: couldn't GET %s: %v: %w", u, err, ErrUnavailable)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("github: couldn't read response body: %v: %w", err, ErrUnavailable)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("github: GET %s returned: %w", u, errStatusCode(resp.StatusCode))
	}
	return body, nil
}
