package login

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/igolaizola/hackjam/pkg/spotify"
)

type fakeAuth struct {
	redirect string
}

func (f *fakeAuth) AuthURL(state string) string {
	return f.redirect + "?code=abc&state=" + url.QueryEscape(state)
}

func (f *fakeAuth) Exchange(ctx context.Context, code string) (*spotify.Token, error) {
	return &spotify.Token{AccessToken: "access-" + code}, nil
}

func freeAddr(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := lis.Addr().String()
	lis.Close()
	return addr
}

func TestLogin(t *testing.T) {
	redirect := fmt.Sprintf("http://%s/callback", freeAddr(t))
	auth := &fakeAuth{redirect: redirect}

	// The fake browser follows the authorization url straight to the callback.
	open := func(u string) error {
		go func() {
			resp, err := http.Get(u)
			if err == nil {
				resp.Body.Close()
			}
		}()
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tok, err := login(ctx, auth, redirect, open)
	if err != nil {
		t.Fatalf("login() err = %v; want nil", err)
	}
	if tok.AccessToken != "access-abc" {
		t.Fatalf("login() = %+v; want access-abc", tok)
	}
}

func TestLoginTimeout(t *testing.T) {
	redirect := fmt.Sprintf("http://%s/callback", freeAddr(t))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := login(ctx, &fakeAuth{redirect: redirect}, redirect, func(string) error { return nil })
	if err == nil {
		t.Fatalf("login() err = nil; want timeout")
	}
}
