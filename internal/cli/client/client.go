// Package client is a thin typed wrapper over the auth REST API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client represents an HTTP client for the stashd auth API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new API client for the given base URL (e.g. https://auth.example.com)
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetHTTPClient sets a custom HTTP client
func (c *Client) SetHTTPClient(httpClient *http.Client) {
	c.httpClient = httpClient
}

// APIError is an error reported by the API itself, as opposed to a transport
// failure. Message carries the server's own wording.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// IsUnauthorized reports whether err is an API 401
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

// RegisterResponse is returned by Register
type RegisterResponse struct {
	Pending bool `json:"pending"`
}

// Register creates a new account; a verification code is emailed to the address
func (c *Client) Register(ctx context.Context, name, email, password string) (*RegisterResponse, error) {
	body := map[string]string{"name": name, "email": email, "password": password}
	var resp RegisterResponse
	if err := c.post(ctx, "/auth/register", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// VerifyEmailResponse is returned by VerifyEmail. Tokens are present only when
// the challenge was a passcode sign-in.
type VerifyEmailResponse struct {
	Verified     bool   `json:"verified"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	UserID       string `json:"user_id"`
}

// VerifyEmail submits a six-digit emailed code
func (c *Client) VerifyEmail(ctx context.Context, email, code string) (*VerifyEmailResponse, error) {
	body := map[string]string{"email": email, "code": code}
	var resp VerifyEmailResponse
	if err := c.post(ctx, "/auth/verify-email", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LoginResponse is returned by Login. TOTPRequired set with empty tokens means
// the password was accepted but a second factor is needed.
type LoginResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	UserID       string `json:"user_id"`
	TOTPRequired bool   `json:"totp_required"`
}

// Login authenticates with email and password; totpCode may be empty
func (c *Client) Login(ctx context.Context, email, password, totpCode string) (*LoginResponse, error) {
	body := map[string]string{"email": email, "password": password}
	if totpCode != "" {
		body["totp_code"] = totpCode
	}
	var resp LoginResponse
	if err := c.post(ctx, "/auth/login", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RequestPasscode asks for a one-time sign-in code to be emailed
func (c *Client) RequestPasscode(ctx context.Context, email string) error {
	return c.post(ctx, "/auth/passcode/request", map[string]string{"email": email}, nil)
}

// TOTPSetupResponse is returned by SetupTOTP
type TOTPSetupResponse struct {
	TOTPSecret string `json:"totp_secret"`
	TOTPURI    string `json:"totp_uri"`
}

// SetupTOTP starts TOTP enrollment and returns the shared secret and otpauth URI
func (c *Client) SetupTOTP(ctx context.Context, email string) (*TOTPSetupResponse, error) {
	var resp TOTPSetupResponse
	if err := c.post(ctx, "/auth/totp/setup", map[string]string{"email": email}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TOTPVerifyResponse is returned by VerifyTOTP
type TOTPVerifyResponse struct {
	RecoveryCodes []string `json:"recovery_codes"`
	AccessToken   string   `json:"access_token"`
	RefreshToken  string   `json:"refresh_token"`
	UserID        string   `json:"user_id"`
}

// VerifyTOTP confirms enrollment with a current code. The server retains the
// pending secret from SetupTOTP, so only email and code are sent.
func (c *Client) VerifyTOTP(ctx context.Context, email, code string) (*TOTPVerifyResponse, error) {
	body := map[string]string{"email": email, "code": code}
	var resp TOTPVerifyResponse
	if err := c.post(ctx, "/auth/totp/verify", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// OkResponse is a bare confirmation marker
type OkResponse struct {
	Ok bool `json:"ok"`
}

// RequestPasswordReset asks for a reset link to be emailed. The server responds
// identically for unknown addresses.
func (c *Client) RequestPasswordReset(ctx context.Context, email string) (*OkResponse, error) {
	var resp OkResponse
	if err := c.post(ctx, "/auth/password-reset/request", map[string]string{"email": email}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ResetPassword sets a new password using an emailed reset token
func (c *Client) ResetPassword(ctx context.Context, token, newPassword string) (*OkResponse, error) {
	body := map[string]string{"token": token, "new_password": newPassword}
	var resp OkResponse
	if err := c.post(ctx, "/auth/password-reset/confirm", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UserDetail is the authenticated user's profile
type UserDetail struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	Name        string `json:"name"`
	TOTPEnabled bool   `json:"totp_enabled"`
}

// Me fetches the profile for the given access token
func (c *Client) Me(ctx context.Context, accessToken string) (*UserDetail, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/me", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	var user UserDetail
	if err := c.do(req, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// OAuthLoginURL builds the browser entry point for Google sign-in; the provider
// redirects back to redirectURI with tokens or an error in the query string
func (c *Client) OAuthLoginURL(redirectURI string) string {
	return c.baseURL + "/auth/oauth/google/login?" + url.Values{
		"redirect_uri": []string{redirectURI},
	}.Encode()
}

// post sends a JSON body and decodes a JSON response into out (out may be nil)
func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return &APIError{Status: resp.StatusCode, Message: payload.Error}
	}
	return &APIError{
		Status:  resp.StatusCode,
		Message: fmt.Sprintf("request failed (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body))),
	}
}
