package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/stashd-dev/stashd/internal/cli/auth"
	"github.com/stashd-dev/stashd/internal/cli/client"
	"github.com/stashd-dev/stashd/internal/logger"
)

type mockProfileAPI struct {
	user  *client.UserDetail
	err   error
	calls int
}

func (m *mockProfileAPI) Me(ctx context.Context, accessToken string) (*client.UserDetail, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.user, nil
}

// signedToken builds a JWT whose exp claim is now+ttl. Only the timestamp
// matters; the deriver never checks the signature.
func signedToken(t *testing.T, ttl time.Duration) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestResolve_NoStoredTokens(t *testing.T) {
	api := &mockProfileAPI{}
	d := New(auth.NewMemoryStore(), api, logger.NewCLI())

	s := d.Resolve(context.Background())
	if s.Authenticated || s.User != nil || s.Err != nil {
		t.Errorf("expected clean unauthenticated session, got %+v", s)
	}
	if api.calls != 0 {
		t.Errorf("no profile fetch expected without tokens, got %d", api.calls)
	}
}

func TestResolve_ValidToken(t *testing.T) {
	store := auth.NewMemoryStore()
	_ = store.Save(auth.TokenPair{AccessToken: signedToken(t, time.Hour), UserID: "u1"})
	api := &mockProfileAPI{user: &client.UserDetail{ID: "u1", Name: "Test User", Email: "user@example.com"}}
	d := New(store, api, logger.NewCLI())

	s := d.Resolve(context.Background())
	if !s.Authenticated {
		t.Fatal("expected authenticated session")
	}
	if s.User == nil || s.User.Email != "user@example.com" {
		t.Errorf("unexpected user: %+v", s.User)
	}
	if s.Loading {
		t.Error("resolution finished, loading should be false")
	}
}

func TestResolve_ExpiredTokenClearsSilently(t *testing.T) {
	store := auth.NewMemoryStore()
	_ = store.Save(auth.TokenPair{AccessToken: signedToken(t, -time.Hour), UserID: "u1"})
	api := &mockProfileAPI{}
	d := New(store, api, logger.NewCLI())

	s := d.Resolve(context.Background())
	if s.Authenticated {
		t.Error("expired token must not authenticate")
	}
	if s.Err != nil {
		t.Errorf("expiry is a silent logout, not an error: %v", s.Err)
	}
	if api.calls != 0 {
		t.Errorf("expired token must not be sent to the API, got %d calls", api.calls)
	}
	if pair, _ := store.Read(); pair != nil {
		t.Error("expired tokens left in store")
	}
}

func TestResolve_RejectedTokenClearsSilently(t *testing.T) {
	store := auth.NewMemoryStore()
	_ = store.Save(auth.TokenPair{AccessToken: signedToken(t, time.Hour), UserID: "u1"})
	api := &mockProfileAPI{err: &client.APIError{Status: 401, Message: "Unauthorized"}}
	d := New(store, api, logger.NewCLI())

	s := d.Resolve(context.Background())
	if s.Authenticated {
		t.Error("rejected token must not authenticate")
	}
	if s.Err != nil {
		t.Errorf("rejection is a silent logout, not an error: %v", s.Err)
	}
	if pair, _ := store.Read(); pair != nil {
		t.Error("rejected tokens left in store")
	}
}

func TestResolve_TransportErrorKeepsTokens(t *testing.T) {
	store := auth.NewMemoryStore()
	_ = store.Save(auth.TokenPair{AccessToken: signedToken(t, time.Hour), UserID: "u1"})
	api := &mockProfileAPI{err: errors.New("connection refused")}
	d := New(store, api, logger.NewCLI())

	s := d.Resolve(context.Background())
	if s.Authenticated {
		t.Error("unreachable API must not authenticate")
	}
	if s.Err == nil {
		t.Error("transport failure should surface as Err")
	}
	// The user may simply be offline; keep the tokens for the next attempt
	if pair, _ := store.Read(); pair == nil {
		t.Error("transport failure must not clear stored tokens")
	}
}

func TestResolve_OpaqueTokenGoesToAPI(t *testing.T) {
	store := auth.NewMemoryStore()
	_ = store.Save(auth.TokenPair{AccessToken: "not-a-jwt", UserID: "u1"})
	api := &mockProfileAPI{user: &client.UserDetail{ID: "u1", Email: "user@example.com"}}
	d := New(store, api, logger.NewCLI())

	s := d.Resolve(context.Background())
	if !s.Authenticated {
		t.Error("opaque tokens are the API's call, and it accepted this one")
	}
	if api.calls != 1 {
		t.Errorf("expected 1 profile fetch, got %d", api.calls)
	}
}

func TestSetTokensAndLogout(t *testing.T) {
	store := auth.NewMemoryStore()
	api := &mockProfileAPI{user: &client.UserDetail{ID: "u1", Email: "user@example.com"}}
	d := New(store, api, logger.NewCLI())

	if err := d.SetTokens(context.Background(), auth.TokenPair{
		AccessToken: signedToken(t, time.Hour),
		UserID:      "u1",
	}); err != nil {
		t.Fatalf("set tokens failed: %v", err)
	}
	if !d.Current().Authenticated {
		t.Fatal("expected authenticated session after SetTokens")
	}

	if err := d.Logout(); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	s := d.Current()
	if s.Authenticated || s.User != nil {
		t.Errorf("expected clean session after logout, got %+v", s)
	}
	if pair, _ := store.Read(); pair != nil {
		t.Error("tokens left in store after logout")
	}
}

func TestSubscribe_ReceivesChanges(t *testing.T) {
	store := auth.NewMemoryStore()
	api := &mockProfileAPI{user: &client.UserDetail{ID: "u1", Email: "user@example.com"}}
	d := New(store, api, logger.NewCLI())

	ch := d.Subscribe()

	if err := d.SetTokens(context.Background(), auth.TokenPair{
		AccessToken: signedToken(t, time.Hour),
		UserID:      "u1",
	}); err != nil {
		t.Fatalf("set tokens failed: %v", err)
	}

	// Drain until the authenticated state arrives; intermediate loading
	// states are also published
	deadline := time.After(time.Second)
	for {
		select {
		case s := <-ch:
			if s.Authenticated {
				return
			}
		case <-deadline:
			t.Fatal("authenticated session never published to subscriber")
		}
	}
}
