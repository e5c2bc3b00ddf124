package oauthcb

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestListener_ReceivesCallback(t *testing.T) {
	l, err := NewListener()
	if err != nil {
		t.Fatalf("failed to start listener: %v", err)
	}
	defer l.Close()

	uri := l.RedirectURI()
	if !strings.HasPrefix(uri, "http://127.0.0.1:") || !strings.HasSuffix(uri, "/callback") {
		t.Fatalf("unexpected redirect URI %q", uri)
	}

	resp, err := http.Get(uri + "?access_token=at&user_id=u1")
	if err != nil {
		t.Fatalf("callback request failed: %v", err)
	}
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	result, err := l.Wait(ctx)
	if err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if result.AccessToken != "at" || result.UserID != "u1" || result.Error != "" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestListener_ProviderError(t *testing.T) {
	l, err := NewListener()
	if err != nil {
		t.Fatalf("failed to start listener: %v", err)
	}
	defer l.Close()

	resp, err := http.Get(l.RedirectURI() + "?error=access_denied")
	if err != nil {
		t.Fatalf("callback request failed: %v", err)
	}
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	result, err := l.Wait(ctx)
	if err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if result.Error != "access_denied" || result.AccessToken != "" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestListener_FirstCallbackWins(t *testing.T) {
	l, err := NewListener()
	if err != nil {
		t.Fatalf("failed to start listener: %v", err)
	}
	defer l.Close()

	for _, token := range []string{"first", "second"} {
		resp, err := http.Get(l.RedirectURI() + "?access_token=" + token + "&user_id=u1")
		if err != nil {
			t.Fatalf("callback request failed: %v", err)
		}
		resp.Body.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	result, err := l.Wait(ctx)
	if err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if result.AccessToken != "first" {
		t.Errorf("expected the first callback to win, got %q", result.AccessToken)
	}
}

func TestListener_WaitHonorsContext(t *testing.T) {
	l, err := NewListener()
	if err != nil {
		t.Fatalf("failed to start listener: %v", err)
	}
	defer l.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := l.Wait(ctx); err != context.DeadlineExceeded {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}
