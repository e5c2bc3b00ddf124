package flow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stashd-dev/stashd/internal/cli/auth"
	"github.com/stashd-dev/stashd/internal/cli/client"
	"github.com/stashd-dev/stashd/internal/cli/session"
	"github.com/stashd-dev/stashd/internal/logger"
)

// mockAPI records every call so tests can assert that local validation
// short-circuits before the network
type mockAPI struct {
	mu    sync.Mutex
	calls []string

	registerErr    error
	verifyResp     *client.VerifyEmailResponse
	verifyErr      error
	loginResp      *client.LoginResponse
	loginErr       error
	totpSetupResp  *client.TOTPSetupResponse
	totpVerifyResp *client.TOTPVerifyResponse
	totpVerifyErr  error

	// release, when set, blocks Login until closed
	release chan struct{}
}

func (m *mockAPI) record(name string) {
	m.mu.Lock()
	m.calls = append(m.calls, name)
	m.mu.Unlock()
}

func (m *mockAPI) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *mockAPI) Register(ctx context.Context, name, email, password string) (*client.RegisterResponse, error) {
	m.record("register")
	if m.registerErr != nil {
		return nil, m.registerErr
	}
	return &client.RegisterResponse{Pending: true}, nil
}

func (m *mockAPI) VerifyEmail(ctx context.Context, email, code string) (*client.VerifyEmailResponse, error) {
	m.record("verify-email")
	if m.verifyErr != nil {
		return nil, m.verifyErr
	}
	if m.verifyResp != nil {
		return m.verifyResp, nil
	}
	return &client.VerifyEmailResponse{Verified: true}, nil
}

func (m *mockAPI) Login(ctx context.Context, email, password, totpCode string) (*client.LoginResponse, error) {
	m.record("login")
	if m.release != nil {
		<-m.release
	}
	if m.loginErr != nil {
		return nil, m.loginErr
	}
	if m.loginResp != nil {
		return m.loginResp, nil
	}
	return &client.LoginResponse{AccessToken: "at", RefreshToken: "rt", UserID: "u1"}, nil
}

func (m *mockAPI) RequestPasscode(ctx context.Context, email string) error {
	m.record("request-passcode")
	return nil
}

func (m *mockAPI) SetupTOTP(ctx context.Context, email string) (*client.TOTPSetupResponse, error) {
	m.record("totp-setup")
	if m.totpSetupResp != nil {
		return m.totpSetupResp, nil
	}
	return &client.TOTPSetupResponse{TOTPSecret: "SECRET", TOTPURI: "otpauth://totp/x"}, nil
}

func (m *mockAPI) VerifyTOTP(ctx context.Context, email, code string) (*client.TOTPVerifyResponse, error) {
	m.record("totp-verify")
	if m.totpVerifyErr != nil {
		return nil, m.totpVerifyErr
	}
	if m.totpVerifyResp != nil {
		return m.totpVerifyResp, nil
	}
	return &client.TOTPVerifyResponse{RecoveryCodes: []string{"11111-22222"}}, nil
}

func (m *mockAPI) RequestPasswordReset(ctx context.Context, email string) (*client.OkResponse, error) {
	m.record("password-reset-request")
	return &client.OkResponse{Ok: true}, nil
}

func (m *mockAPI) ResetPassword(ctx context.Context, token, newPassword string) (*client.OkResponse, error) {
	m.record("password-reset-confirm")
	return &client.OkResponse{Ok: true}, nil
}

func (m *mockAPI) Me(ctx context.Context, accessToken string) (*client.UserDetail, error) {
	return &client.UserDetail{ID: "u1", Name: "Test User", Email: "user@example.com"}, nil
}

func newTestController(api *mockAPI) (*Controller, *auth.MemoryStore, *session.Deriver) {
	store := auth.NewMemoryStore()
	log := logger.NewCLI()
	deriver := session.New(store, api, log)
	return New(api, deriver, log), store, deriver
}

func TestVerifyEmail_MalformedCodeRejectedLocally(t *testing.T) {
	tests := []struct {
		name string
		code string
	}{
		{"too short", "12345"},
		{"too long", "1234567"},
		{"letters", "12a456"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &mockAPI{}
			ctrl, _, _ := newTestController(api)

			_, err := ctrl.VerifyEmail(context.Background(), VerifyEmailInput{
				Email: "user@example.com",
				Code:  tt.code,
			})
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, ErrInvalidCode) && !errors.Is(err, ErrMissingField) {
				t.Errorf("unexpected error: %v", err)
			}

			// The TOTP path applies the same completeness check
			if _, err := ctrl.VerifyTOTP(context.Background(), TOTPVerifyInput{
				Email: "user@example.com",
				Code:  tt.code,
			}); err == nil {
				t.Error("expected validation error from VerifyTOTP")
			}

			if api.callCount() != 0 {
				t.Errorf("expected no API calls, got %d", api.callCount())
			}
		})
	}
}

func TestRegister_ValidatesLocally(t *testing.T) {
	tests := []struct {
		name    string
		input   RegisterInput
		wantErr error
	}{
		{
			name:    "missing name",
			input:   RegisterInput{Email: "user@example.com", Password: "secret1"},
			wantErr: ErrMissingField,
		},
		{
			name:    "bad email",
			input:   RegisterInput{Name: "U", Email: "not-an-email", Password: "secret1"},
			wantErr: ErrInvalidEmail,
		},
		{
			name:    "short password",
			input:   RegisterInput{Name: "U", Email: "user@example.com", Password: "abc"},
			wantErr: ErrPasswordTooShort,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &mockAPI{}
			ctrl, _, _ := newTestController(api)

			_, err := ctrl.Register(context.Background(), tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
			if api.callCount() != 0 {
				t.Errorf("expected no API calls, got %d", api.callCount())
			}
		})
	}
}

func TestResetPassword_MismatchRejectedLocally(t *testing.T) {
	api := &mockAPI{}
	ctrl, _, _ := newTestController(api)

	_, err := ctrl.ResetPassword(context.Background(), ResetPasswordInput{
		Token:           "tok",
		NewPassword:     "secret1",
		ConfirmPassword: "secret2",
	})
	if !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("expected ErrPasswordMismatch, got %v", err)
	}
	if api.callCount() != 0 {
		t.Errorf("expected no API calls, got %d", api.callCount())
	}
}

func TestLogin_TOTPRequiredStoresNoTokens(t *testing.T) {
	api := &mockAPI{loginResp: &client.LoginResponse{TOTPRequired: true}}
	ctrl, store, deriver := newTestController(api)

	result, err := ctrl.Login(context.Background(), LoginInput{
		Email:    "user@example.com",
		Password: "secret1",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if !result.TOTPRequired {
		t.Fatal("expected TOTPRequired")
	}
	if result.SignedIn {
		t.Error("should not be signed in")
	}

	pair, err := store.Read()
	if err != nil {
		t.Fatalf("store read failed: %v", err)
	}
	if pair != nil {
		t.Error("no tokens should be stored while the second factor is pending")
	}
	if deriver.Current().Authenticated {
		t.Error("session should not be authenticated")
	}
}

func TestLogin_SuccessDerivesSession(t *testing.T) {
	api := &mockAPI{}
	ctrl, store, deriver := newTestController(api)

	result, err := ctrl.Login(context.Background(), LoginInput{
		Email:    "user@example.com",
		Password: "secret1",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if !result.SignedIn {
		t.Fatal("expected SignedIn")
	}

	pair, err := store.Read()
	if err != nil || pair == nil {
		t.Fatalf("expected stored tokens, got %v, %v", pair, err)
	}
	if pair.AccessToken != "at" {
		t.Errorf("unexpected access token %q", pair.AccessToken)
	}

	s := deriver.Current()
	if !s.Authenticated || s.User == nil || s.User.Email != "user@example.com" {
		t.Errorf("unexpected session: %+v", s)
	}
}

func TestVerifyEmail_WithoutTokensDoesNotSignIn(t *testing.T) {
	api := &mockAPI{verifyResp: &client.VerifyEmailResponse{Verified: true}}
	ctrl, store, _ := newTestController(api)

	result, err := ctrl.VerifyEmail(context.Background(), VerifyEmailInput{
		Email: "user@example.com",
		Code:  "123456",
	})
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if !result.Verified || result.SignedIn {
		t.Errorf("expected verified without sign-in, got %+v", result)
	}

	pair, _ := store.Read()
	if pair != nil {
		t.Error("verification alone must not store tokens")
	}
}

func TestVerifyEmail_PasscodeTokensSignIn(t *testing.T) {
	api := &mockAPI{verifyResp: &client.VerifyEmailResponse{
		Verified:     true,
		AccessToken:  "at",
		RefreshToken: "rt",
		UserID:       "u1",
	}}
	ctrl, store, _ := newTestController(api)

	result, err := ctrl.VerifyEmail(context.Background(), VerifyEmailInput{
		Email: "user@example.com",
		Code:  "123456",
	})
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if !result.SignedIn {
		t.Fatal("expected sign-in when tokens were returned")
	}

	pair, _ := store.Read()
	if pair == nil || pair.AccessToken != "at" {
		t.Errorf("expected stored tokens, got %+v", pair)
	}
}

func TestConcurrentOperationRejected(t *testing.T) {
	release := make(chan struct{})
	api := &mockAPI{release: release}
	ctrl, _, _ := newTestController(api)

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		close(started)
		_, err := ctrl.Login(context.Background(), LoginInput{
			Email:    "user@example.com",
			Password: "secret1",
		})
		done <- err
	}()

	<-started
	// Wait for the first login to claim the in-flight slot
	for api.callCount() == 0 {
		time.Sleep(time.Millisecond)
	}

	_, err := ctrl.RequestPasswordReset(context.Background(), PasswordResetRequestInput{
		Email: "user@example.com",
	})
	if !errors.Is(err, ErrOperationInFlight) {
		t.Errorf("expected ErrOperationInFlight, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first login failed: %v", err)
	}
}

func TestResetInvalidatesInFlightResult(t *testing.T) {
	release := make(chan struct{})
	api := &mockAPI{release: release}
	ctrl, store, _ := newTestController(api)

	done := make(chan error, 1)
	go func() {
		_, err := ctrl.Login(context.Background(), LoginInput{
			Email:    "user@example.com",
			Password: "secret1",
		})
		done <- err
	}()

	for api.callCount() == 0 {
		time.Sleep(time.Millisecond)
	}

	// User abandons the flow while the request is in flight
	ctrl.Reset()
	close(release)

	if err := <-done; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("expected ErrSuperseded, got %v", err)
	}
	pair, _ := store.Read()
	if pair != nil {
		t.Error("superseded operation must not store tokens")
	}
}

func TestLogout_ClearsSessionWithoutStaleUser(t *testing.T) {
	api := &mockAPI{}
	ctrl, store, deriver := newTestController(api)

	if _, err := ctrl.Login(context.Background(), LoginInput{
		Email:    "user@example.com",
		Password: "secret1",
	}); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if !deriver.Current().Authenticated {
		t.Fatal("precondition: should be signed in")
	}

	if err := ctrl.Logout(); err != nil {
		t.Fatalf("logout failed: %v", err)
	}

	s := deriver.Current()
	if s.Authenticated {
		t.Error("session still authenticated after logout")
	}
	if s.User != nil {
		t.Error("stale user left in session after logout")
	}
	pair, _ := store.Read()
	if pair != nil {
		t.Error("tokens left in store after logout")
	}
}

func TestRequestPasswordReset_RepeatableResult(t *testing.T) {
	api := &mockAPI{}
	ctrl, _, _ := newTestController(api)

	// The result reads the same no matter how often it is requested; the
	// backend never discloses whether the account exists
	for i := 0; i < 3; i++ {
		result, err := ctrl.RequestPasswordReset(context.Background(), PasswordResetRequestInput{
			Email: "maybe-exists@example.com",
		})
		if err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
		if !result.Requested {
			t.Errorf("request %d: expected Requested", i)
		}
	}
	if api.callCount() != 3 {
		t.Errorf("expected 3 API calls, got %d", api.callCount())
	}
}

func TestHandleOAuthCallback(t *testing.T) {
	t.Run("provider error stores nothing", func(t *testing.T) {
		api := &mockAPI{}
		ctrl, store, _ := newTestController(api)

		err := ctrl.HandleOAuthCallback(context.Background(), OAuthCallbackInput{
			Error: "access_denied",
		})
		if !errors.Is(err, ErrOAuthDenied) {
			t.Fatalf("expected ErrOAuthDenied, got %v", err)
		}
		pair, _ := store.Read()
		if pair != nil {
			t.Error("tokens stored despite provider error")
		}
	})

	t.Run("incomplete callback rejected", func(t *testing.T) {
		api := &mockAPI{}
		ctrl, store, _ := newTestController(api)

		err := ctrl.HandleOAuthCallback(context.Background(), OAuthCallbackInput{
			AccessToken: "at",
		})
		if !errors.Is(err, ErrOAuthCallbackInvalid) {
			t.Fatalf("expected ErrOAuthCallbackInvalid, got %v", err)
		}
		pair, _ := store.Read()
		if pair != nil {
			t.Error("tokens stored despite incomplete callback")
		}
	})

	t.Run("valid callback signs in", func(t *testing.T) {
		api := &mockAPI{}
		ctrl, store, deriver := newTestController(api)

		err := ctrl.HandleOAuthCallback(context.Background(), OAuthCallbackInput{
			AccessToken: "at",
			UserID:      "u1",
		})
		if err != nil {
			t.Fatalf("callback failed: %v", err)
		}
		pair, _ := store.Read()
		if pair == nil || pair.AccessToken != "at" {
			t.Errorf("expected stored tokens, got %+v", pair)
		}
		if !deriver.Current().Authenticated {
			t.Error("expected authenticated session")
		}
	})
}
