// Package session derives the authenticated-session view from the token store
// and the fetched user profile. The deriver is the single writer; everything
// else observes through Current or Subscribe.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/stashd-dev/stashd/internal/cli/auth"
	"github.com/stashd-dev/stashd/internal/cli/client"
)

// User is the cached profile of the signed-in account
type User struct {
	ID          string
	Name        string
	Email       string
	TOTPEnabled bool
}

// Session is the derived authentication state. It is recomputed whenever the
// token store or the fetched profile changes, never mutated by consumers.
type Session struct {
	Authenticated bool
	User          *User
	Loading       bool
	Err           error
}

// ProfileFetcher is the slice of the API client the deriver needs
type ProfileFetcher interface {
	Me(ctx context.Context, accessToken string) (*client.UserDetail, error)
}

// Deriver owns the Session. The flow controller calls SetTokens/Logout; CLI
// commands call Resolve once on startup and read Current.
type Deriver struct {
	store  auth.TokenStore
	api    ProfileFetcher
	logger zerolog.Logger

	mu      sync.Mutex
	current Session
	subs    []chan Session
}

// New creates a deriver over the given token store and API client
func New(store auth.TokenStore, api ProfileFetcher, logger zerolog.Logger) *Deriver {
	return &Deriver{store: store, api: api, logger: logger}
}

// Current returns the latest derived session
func (d *Deriver) Current() Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// Subscribe returns a channel that receives every session change. The channel
// is buffered; a slow reader drops updates rather than blocking the writer.
func (d *Deriver) Subscribe() <-chan Session {
	d.mu.Lock()
	defer d.mu.Unlock()

	ch := make(chan Session, 8)
	d.subs = append(d.subs, ch)
	return ch
}

// Resolve performs the startup derivation: if a token pair is stored, validate
// it against the API and cache the profile. An expired or rejected token means
// silent logout, not an error shown to the user. A transport failure keeps the
// tokens (the user may be offline) but leaves the session unauthenticated with
// Err set.
func (d *Deriver) Resolve(ctx context.Context) Session {
	d.publish(Session{Loading: true})

	pair, err := d.store.Read()
	if err != nil {
		return d.publish(Session{Err: err})
	}
	if pair == nil {
		return d.publish(Session{})
	}

	if expired(pair.AccessToken) {
		d.logger.Debug().Msg("Stored access token expired, clearing session")
		_ = d.store.Clear()
		return d.publish(Session{})
	}

	profile, err := d.api.Me(ctx, pair.AccessToken)
	if err != nil {
		if client.IsUnauthorized(err) {
			d.logger.Debug().Msg("Stored access token rejected, clearing session")
			_ = d.store.Clear()
			return d.publish(Session{})
		}
		return d.publish(Session{Err: err})
	}

	return d.publish(Session{
		Authenticated: true,
		User: &User{
			ID:          profile.ID,
			Name:        profile.Name,
			Email:       profile.Email,
			TOTPEnabled: profile.TOTPEnabled,
		},
	})
}

// SetTokens stores a freshly issued token pair and derives the authenticated
// session from it. Called by the flow controller after a successful sign-in.
func (d *Deriver) SetTokens(ctx context.Context, pair auth.TokenPair) error {
	if err := d.store.Save(pair); err != nil {
		return err
	}
	d.Resolve(ctx)
	return nil
}

// Logout clears the token store and resets the session
func (d *Deriver) Logout() error {
	err := d.store.Clear()
	d.publish(Session{})
	return err
}

// SetLoading marks the session as having an in-flight operation
func (d *Deriver) SetLoading(loading bool) {
	d.mu.Lock()
	s := d.current
	s.Loading = loading
	d.mu.Unlock()
	d.publish(s)
}

func (d *Deriver) publish(s Session) Session {
	d.mu.Lock()
	d.current = s
	subs := d.subs
	d.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- s:
		default:
		}
	}
	return s
}

// expired reports whether the JWT's exp claim is in the past. The signature is
// the server's business; the client only reads the timestamp to skip a network
// round trip that is guaranteed to fail.
func expired(accessToken string) bool {
	var claims jwt.RegisteredClaims
	_, _, err := jwt.NewParser().ParseUnverified(accessToken, &claims)
	if err != nil || claims.ExpiresAt == nil {
		return false // opaque token, let the API decide
	}
	return claims.ExpiresAt.Before(time.Now())
}
