// Package flow orchestrates the multi-step authentication sequences: sign-up
// with email verification and optional TOTP enrollment, login with an optional
// TOTP challenge, passcode sign-in, password recovery, and the OAuth callback.
package flow

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/stashd-dev/stashd/internal/cli/auth"
	"github.com/stashd-dev/stashd/internal/cli/client"
	"github.com/stashd-dev/stashd/internal/cli/session"
)

// API is the slice of the gateway client the controller consumes
type API interface {
	Register(ctx context.Context, name, email, password string) (*client.RegisterResponse, error)
	VerifyEmail(ctx context.Context, email, code string) (*client.VerifyEmailResponse, error)
	Login(ctx context.Context, email, password, totpCode string) (*client.LoginResponse, error)
	RequestPasscode(ctx context.Context, email string) error
	SetupTOTP(ctx context.Context, email string) (*client.TOTPSetupResponse, error)
	VerifyTOTP(ctx context.Context, email, code string) (*client.TOTPVerifyResponse, error)
	RequestPasswordReset(ctx context.Context, email string) (*client.OkResponse, error)
	ResetPassword(ctx context.Context, token, newPassword string) (*client.OkResponse, error)
}

// Controller exposes the imperative auth operations the CLI commands invoke.
// One operation may be in flight at a time; a second concurrent call returns
// ErrOperationInFlight. Results are applied under a generation counter, so an
// operation that resolves after Reset or Logout cannot write tokens.
type Controller struct {
	api      API
	session  *session.Deriver
	validate *validator.Validate
	logger   zerolog.Logger

	mu   sync.Mutex
	busy bool
	gen  uint64
}

// New creates a controller over the API client and session deriver
func New(api API, sess *session.Deriver, logger zerolog.Logger) *Controller {
	return &Controller{
		api:      api,
		session:  sess,
		validate: validator.New(),
		logger:   logger,
	}
}

// begin claims the single in-flight slot and returns the current generation
func (c *Controller) begin() (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return 0, ErrOperationInFlight
	}
	c.busy = true
	c.session.SetLoading(true)
	return c.gen, nil
}

func (c *Controller) end() {
	c.mu.Lock()
	c.busy = false
	c.mu.Unlock()
	c.session.SetLoading(false)
}

// currentGen reports whether gen is still the live generation
func (c *Controller) currentGen(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen
}

// Reset invalidates any in-flight operation's side effects. Called when the
// user abandons a flow mid-way.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.gen++
	c.mu.Unlock()
}

// Logout clears stored tokens, resets the session, and invalidates pending
// operations
func (c *Controller) Logout() error {
	c.Reset()
	return c.session.Logout()
}

// RegisterInput are the sign-up form fields
type RegisterInput struct {
	Name     string `validate:"required"`
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=6"`
}

// RegisterResult marks a pending email verification
type RegisterResult struct {
	PendingVerification bool
}

// Register creates an account and triggers the verification email
func (c *Controller) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	if err := c.checkInput(in); err != nil {
		return nil, err
	}
	if _, err := c.begin(); err != nil {
		return nil, err
	}
	defer c.end()

	if _, err := c.api.Register(ctx, in.Name, in.Email, in.Password); err != nil {
		return nil, err
	}
	return &RegisterResult{PendingVerification: true}, nil
}

// VerifyEmailInput is a six-digit emailed code submission
type VerifyEmailInput struct {
	Email string `validate:"required,email"`
	Code  string `validate:"required,len=6,numeric"`
}

// VerifyEmailResult reports the outcome: Verified alone for a registration
// challenge, SignedIn as well when the backend returned tokens (passcode flow)
type VerifyEmailResult struct {
	Verified bool
	SignedIn bool
}

// VerifyEmail submits an emailed code. Malformed codes are rejected locally
// without a network call.
func (c *Controller) VerifyEmail(ctx context.Context, in VerifyEmailInput) (*VerifyEmailResult, error) {
	if err := c.checkInput(in); err != nil {
		return nil, err
	}
	gen, err := c.begin()
	if err != nil {
		return nil, err
	}
	defer c.end()

	resp, err := c.api.VerifyEmail(ctx, in.Email, in.Code)
	if err != nil {
		return nil, err
	}

	// Email verification alone does not sign the user in; only do so when the
	// backend issued tokens.
	if resp.AccessToken == "" {
		return &VerifyEmailResult{Verified: true}, nil
	}

	if err := c.applyTokens(ctx, gen, resp.AccessToken, resp.RefreshToken, resp.UserID); err != nil {
		return nil, err
	}
	return &VerifyEmailResult{Verified: true, SignedIn: true}, nil
}

// LoginInput are the login form fields; TOTPCode is empty on the first attempt
type LoginInput struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required"`
	TOTPCode string `validate:"omitempty,len=6,numeric"`
}

// LoginResult reports the outcome. TOTPRequired means the password was accepted
// and the caller must re-submit with a code; no tokens were stored.
type LoginResult struct {
	TOTPRequired bool
	SignedIn     bool
}

// Login authenticates with email and password, optionally with a TOTP code
func (c *Controller) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	if err := c.checkInput(in); err != nil {
		return nil, err
	}
	gen, err := c.begin()
	if err != nil {
		return nil, err
	}
	defer c.end()

	resp, err := c.api.Login(ctx, in.Email, in.Password, in.TOTPCode)
	if err != nil {
		return nil, err
	}

	if resp.TOTPRequired {
		return &LoginResult{TOTPRequired: true}, nil
	}

	if err := c.applyTokens(ctx, gen, resp.AccessToken, resp.RefreshToken, resp.UserID); err != nil {
		return nil, err
	}
	return &LoginResult{SignedIn: true}, nil
}

// PasscodeInput requests a one-time sign-in code
type PasscodeInput struct {
	Email string `validate:"required,email"`
}

// RequestPasscode asks for a sign-in code to be emailed; the code is then
// submitted through VerifyEmail
func (c *Controller) RequestPasscode(ctx context.Context, in PasscodeInput) error {
	if err := c.checkInput(in); err != nil {
		return err
	}
	if _, err := c.begin(); err != nil {
		return err
	}
	defer c.end()

	return c.api.RequestPasscode(ctx, in.Email)
}

// TOTPSetupInput starts TOTP enrollment for an account
type TOTPSetupInput struct {
	Email string `validate:"required,email"`
}

// TOTPSetupResult carries the shared secret and the otpauth URI to render as a
// QR code. The server retains the pending secret; the client never sends it back.
type TOTPSetupResult struct {
	Secret string
	URI    string
}

// SetupTOTP starts TOTP enrollment
func (c *Controller) SetupTOTP(ctx context.Context, in TOTPSetupInput) (*TOTPSetupResult, error) {
	if err := c.checkInput(in); err != nil {
		return nil, err
	}
	if _, err := c.begin(); err != nil {
		return nil, err
	}
	defer c.end()

	resp, err := c.api.SetupTOTP(ctx, in.Email)
	if err != nil {
		return nil, err
	}
	return &TOTPSetupResult{Secret: resp.TOTPSecret, URI: resp.TOTPURI}, nil
}

// TOTPVerifyInput confirms enrollment with a current code
type TOTPVerifyInput struct {
	Email string `validate:"required,email"`
	Code  string `validate:"required,len=6,numeric"`
}

// TOTPVerifyResult carries the one-time recovery codes issued on enablement
type TOTPVerifyResult struct {
	RecoveryCodes []string
}

// VerifyTOTP confirms TOTP enrollment and signs the user in
func (c *Controller) VerifyTOTP(ctx context.Context, in TOTPVerifyInput) (*TOTPVerifyResult, error) {
	if err := c.checkInput(in); err != nil {
		return nil, err
	}
	gen, err := c.begin()
	if err != nil {
		return nil, err
	}
	defer c.end()

	resp, err := c.api.VerifyTOTP(ctx, in.Email, in.Code)
	if err != nil {
		return nil, err
	}

	if resp.AccessToken != "" {
		if err := c.applyTokens(ctx, gen, resp.AccessToken, resp.RefreshToken, resp.UserID); err != nil {
			return nil, err
		}
	}
	return &TOTPVerifyResult{RecoveryCodes: resp.RecoveryCodes}, nil
}

// PasswordResetRequestInput asks for a reset link
type PasswordResetRequestInput struct {
	Email string `validate:"required,email"`
}

// PasswordResetRequestResult is a confirmation marker. It reads the same whether
// or not the account exists.
type PasswordResetRequestResult struct {
	Requested bool
}

// RequestPasswordReset asks for a password reset link to be emailed
func (c *Controller) RequestPasswordReset(ctx context.Context, in PasswordResetRequestInput) (*PasswordResetRequestResult, error) {
	if err := c.checkInput(in); err != nil {
		return nil, err
	}
	if _, err := c.begin(); err != nil {
		return nil, err
	}
	defer c.end()

	if _, err := c.api.RequestPasswordReset(ctx, in.Email); err != nil {
		return nil, err
	}
	return &PasswordResetRequestResult{Requested: true}, nil
}

// ResetPasswordInput submits the new password with the emailed token. The
// mismatch check happens locally before any network call.
type ResetPasswordInput struct {
	Token           string `validate:"required"`
	NewPassword     string `validate:"required,min=6"`
	ConfirmPassword string `validate:"required,eqfield=NewPassword"`
}

// ResetPasswordResult is a success marker
type ResetPasswordResult struct {
	Reset bool
}

// ResetPassword sets a new password using a reset token
func (c *Controller) ResetPassword(ctx context.Context, in ResetPasswordInput) (*ResetPasswordResult, error) {
	if err := c.checkInput(in); err != nil {
		return nil, err
	}
	if _, err := c.begin(); err != nil {
		return nil, err
	}
	defer c.end()

	if _, err := c.api.ResetPassword(ctx, in.Token, in.NewPassword); err != nil {
		return nil, err
	}
	return &ResetPasswordResult{Reset: true}, nil
}

// OAuthCallbackInput are the query parameters the provider redirect carried
type OAuthCallbackInput struct {
	AccessToken string
	UserID      string
	Error       string
}

// HandleOAuthCallback consumes the provider redirect. An error parameter or an
// incomplete token means no session is written.
func (c *Controller) HandleOAuthCallback(ctx context.Context, in OAuthCallbackInput) error {
	if in.Error != "" {
		return fmt.Errorf("%w: %s", ErrOAuthDenied, in.Error)
	}
	if in.AccessToken == "" || in.UserID == "" {
		return ErrOAuthCallbackInvalid
	}

	gen, err := c.begin()
	if err != nil {
		return err
	}
	defer c.end()

	return c.applyTokens(ctx, gen, in.AccessToken, "", in.UserID)
}

// applyTokens writes a token pair through the session deriver, unless the flow
// was superseded while the operation was in flight
func (c *Controller) applyTokens(ctx context.Context, gen uint64, access, refresh, userID string) error {
	if !c.currentGen(gen) {
		c.logger.Debug().Msg("Discarding tokens from superseded operation")
		return ErrSuperseded
	}
	return c.session.SetTokens(ctx, auth.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		UserID:       userID,
	})
}

// checkInput runs local validation and maps validator failures onto the
// package's sentinel errors
func (c *Controller) checkInput(in interface{}) error {
	err := c.validate.Struct(in)
	if err == nil {
		return nil
	}

	errs, ok := err.(validator.ValidationErrors)
	if !ok || len(errs) == 0 {
		return err
	}

	fe := errs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%w: %s", ErrMissingField, fe.Field())
	case "email":
		return ErrInvalidEmail
	case "min":
		return ErrPasswordTooShort
	case "eqfield":
		return ErrPasswordMismatch
	case "len", "numeric":
		return ErrInvalidCode
	}
	return fmt.Errorf("invalid %s", fe.Field())
}
