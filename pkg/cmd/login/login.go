package login

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/igolaizola/hackjam/pkg/spotify"
	"github.com/pkg/browser"
)

const DefaultRedirectURL = "http://127.0.0.1:8888/callback"

type Config struct {
	Debug        bool
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Timeout      time.Duration
	Output       string
	NoBrowser    bool
}

type exchanger interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*spotify.Token, error)
}

// Run completes the Spotify authorization flow with a local callback server
// and prints the resulting tokens.
func Run(ctx context.Context, cfg *Config) error {
	log.Println("login: started")
	defer log.Println("login: ended")

	redirect := cfg.RedirectURL
	if redirect == "" {
		redirect = DefaultRedirectURL
	}
	auth, err := spotify.NewAuth(&spotify.AuthConfig{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  redirect,
	})
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	open := browser.OpenURL
	if cfg.NoBrowser {
		open = func(string) error { return errors.New("browser disabled") }
	}
	tok, err := login(ctx, auth, redirect, open)
	if err != nil {
		return err
	}

	js, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("login: couldn't marshal token: %w", err)
	}
	if cfg.Output == "" {
		fmt.Println(string(js))
		return nil
	}
	if err := os.WriteFile(cfg.Output, js, 0600); err != nil {
		return fmt.Errorf("login: couldn't write token: %w", err)
	}
	log.Printf("login: token written to %s\n", cfg.Output)
	return nil
}

func login(ctx context.Context, auth exchanger, redirect string, open func(string) error) (*spotify.Token, error) {
	u, err := url.Parse(redirect)
	if err != nil {
		return nil, fmt.Errorf("login: invalid redirect url %q: %w", redirect, err)
	}
	lis, err := net.Listen("tcp", u.Host)
	if err != nil {
		return nil, fmt.Errorf("login: couldn't listen on %s: %w", u.Host, err)
	}

	state, err := newState()
	if err != nil {
		return nil, err
	}

	type result struct {
		tok *spotify.Token
		err error
	}
	resultC := make(chan result, 1)
	path := u.Path
	if path == "" {
		path = "/"
	}
	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var res result
		switch {
		case q.Get("state") != state:
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		case q.Get("error") != "":
			res.err = fmt.Errorf("login: access denied: %s", q.Get("error"))
		default:
			res.tok, res.err = auth.Exchange(r.Context(), q.Get("code"))
		}
		if res.err != nil {
			http.Error(w, res.err.Error(), http.StatusBadGateway)
		} else {
			fmt.Fprintln(w, "Login completed, you can close this window.")
		}
		select {
		case resultC <- res:
		default:
		}
	})
	server := &http.Server{Handler: mux}
	go func() {
		if err := server.Serve(lis); err != nil && err != http.ErrServerClosed {
			log.Printf("login: callback server failed: %v\n", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	authURL := auth.AuthURL(state)
	if err := open(authURL); err != nil {
		log.Printf("login: open this url in your browser: %s\n", authURL)
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("login: callback not received: %w", ctx.Err())
	case res := <-resultC:
		return res.tok, res.err
	}
}

func newState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("login: couldn't generate state: %w", err)
	}
	return hex.EncodeToString(b), nil
}
