// Package oauthcb runs the loopback HTTP listener that receives the identity
// provider's redirect after browser-based sign-in.
package oauthcb

import (
	"context"
	"fmt"
	"net"
	"net/http"
)

// Result is what the provider redirect carried in its query string. Exactly one
// of AccessToken/Error is expected to be set.
type Result struct {
	AccessToken string
	UserID      string
	Error       string
}

// Listener is a one-shot callback receiver on 127.0.0.1
type Listener struct {
	srv      *http.Server
	addr     string
	resultCh chan Result
}

// NewListener binds an ephemeral loopback port and starts serving the callback
// route
func NewListener() (*Listener, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to bind loopback listener: %w", err)
	}

	l := &Listener{
		addr:     ln.Addr().String(),
		resultCh: make(chan Result, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		result := Result{
			AccessToken: q.Get("access_token"),
			UserID:      q.Get("user_id"),
			Error:       q.Get("error"),
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if result.Error != "" {
			fmt.Fprintln(w, "Sign-in was not completed. You can close this window.")
		} else {
			fmt.Fprintln(w, "Signed in. You can close this window and return to the terminal.")
		}

		// First callback wins; the browser retrying the URL is ignored
		select {
		case l.resultCh <- result:
		default:
		}
	})

	l.srv = &http.Server{Handler: mux}
	go func() {
		_ = l.srv.Serve(ln)
	}()

	return l, nil
}

// RedirectURI is the address the provider should redirect back to
func (l *Listener) RedirectURI() string {
	return fmt.Sprintf("http://%s/callback", l.addr)
}

// Wait blocks until the callback arrives or ctx is done
func (l *Listener) Wait(ctx context.Context) (*Result, error) {
	select {
	case result := <-l.resultCh:
		return &result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close shuts the listener down
func (l *Listener) Close() error {
	return l.srv.Close()
}
