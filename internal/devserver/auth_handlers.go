package devserver

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"github.com/stashd-dev/stashd/internal/auth"
	"github.com/stashd-dev/stashd/internal/models"
	"github.com/stashd-dev/stashd/internal/tasks"
)

const (
	challengeTTL = 15 * time.Minute
	resetTTL     = time.Hour
	// Recovery codes issued on TOTP enablement
	recoveryCodeCount = 8
)

// RegisterRequest represents a sign-up request
type RegisterRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}

// VerifyEmailRequest represents a verification code submission
type VerifyEmailRequest struct {
	Email string `json:"email" binding:"required,email"`
	Code  string `json:"code" binding:"required,len=6,numeric"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	TOTPCode string `json:"totp_code" binding:"omitempty"`
}

// PasscodeRequest asks for a sign-in code to be emailed
type PasscodeRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// TOTPSetupRequest starts TOTP enrollment
type TOTPSetupRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// TOTPVerifyRequest confirms TOTP enrollment. The pending secret is retained
// server-side between setup and verify; the secret field exists only for older
// clients that still round-trip it.
type TOTPVerifyRequest struct {
	Email      string `json:"email" binding:"required,email"`
	Code       string `json:"code" binding:"required,len=6,numeric"`
	TOTPSecret string `json:"totp_secret" binding:"omitempty"`
}

// PasswordResetRequest asks for a reset link to be emailed
type PasswordResetRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// PasswordResetConfirm submits a new password with the emailed token
type PasswordResetConfirm struct {
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=6"`
}

// TokenResponse carries an issued token pair
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	UserID       string `json:"user_id"`
}

// UserDetail represents user information returned in responses
type UserDetail struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	Name        string    `json:"name"`
	TOTPEnabled bool      `json:"totp_enabled"`
	CreatedAt   time.Time `json:"created_at"`
}

// register creates an unverified account and emails a verification code
func (s *Server) register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var count int64
	if err := s.db.Model(&models.User{}).Where("email = ?", req.Email).Count(&count).Error; err != nil {
		s.logger.Error().Err(err).Msg("Failed to check existing email")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if count > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "Email already registered"})
		return
	}

	passwordHash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to hash password")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
		return
	}

	user := &models.User{
		Email:        req.Email,
		Name:         req.Name,
		PasswordHash: passwordHash,
	}
	if err := s.db.Create(user).Error; err != nil {
		s.logger.Error().Err(err).Msg("Failed to create user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
		return
	}

	if err := s.issueChallenge(req.Email, models.ChallengeVerifyEmail); err != nil {
		s.logger.Error().Err(err).Msg("Failed to issue verification challenge")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to send verification code"})
		return
	}

	s.logger.Info().Str("user_id", user.ID).Str("email", user.Email).Msg("User registered")
	c.JSON(http.StatusOK, gin.H{"pending": true})
}

// verifyEmail consumes a six-digit challenge. Registration challenges mark the
// account verified; passcode challenges sign the user in and return tokens.
func (s *Server) verifyEmail(c *gin.Context) {
	var req VerifyEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var challenge models.EmailChallenge
	err := s.db.Where("email = ?", req.Email).Order("created_at DESC").First(&challenge).Error
	if err != nil || challenge.Expired(time.Now()) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired code"})
		return
	}

	if challenge.Code != req.Code {
		s.db.Model(&challenge).Update("attempts", challenge.Attempts+1)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired code"})
		return
	}

	var user models.User
	if err := s.db.Where("email = ?", req.Email).First(&user).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired code"})
		return
	}

	s.db.Delete(&challenge)

	if challenge.Purpose == models.ChallengePasscode {
		s.respondWithTokens(c, &user)
		return
	}

	if err := s.db.Model(&user).Update("email_verified", true).Error; err != nil {
		s.logger.Error().Err(err).Msg("Failed to mark email verified")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	s.logger.Info().Str("user_id", user.ID).Msg("Email verified")
	c.JSON(http.StatusOK, gin.H{"verified": true})
}

// login authenticates with email and password, optionally with a TOTP code
func (s *Server) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var user models.User
	if err := s.db.Where("email = ?", req.Email).First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
			return
		}
		s.logger.Error().Err(err).Msg("Failed to find user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if err := auth.VerifyPassword(req.Password, user.PasswordHash); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}

	if user.TOTPEnabled {
		if req.TOTPCode == "" {
			// Password checked out; the second factor is still missing.
			// Not an error: the client routes to the TOTP challenge step.
			c.JSON(http.StatusOK, gin.H{"totp_required": true})
			return
		}
		if !s.checkSecondFactor(&user, req.TOTPCode) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication code"})
			return
		}
	}

	s.logger.Info().Str("user_id", user.ID).Str("email", user.Email).Msg("User logged in")
	s.respondWithTokens(c, &user)
}

// checkSecondFactor accepts a current TOTP code or an unused recovery code
func (s *Server) checkSecondFactor(user *models.User, code string) bool {
	ok, err := auth.VerifyTOTPCode(user.TOTPSecret, code, time.Now())
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", user.ID).Msg("TOTP verification failed")
		return false
	}
	if ok {
		return true
	}

	// Recovery code fallback, single use
	var recovery []models.RecoveryCode
	if err := s.db.Where("user_id = ? AND used_at IS NULL", user.ID).Find(&recovery).Error; err != nil {
		return false
	}
	for i := range recovery {
		if auth.VerifyPassword(code, recovery[i].CodeHash) == nil {
			now := time.Now()
			s.db.Model(&recovery[i]).Update("used_at", &now)
			s.logger.Info().Str("user_id", user.ID).Msg("Recovery code used")
			return true
		}
	}
	return false
}

// requestPasscode emails a sign-in code. Responds identically whether or not the
// account exists.
func (s *Server) requestPasscode(c *gin.Context) {
	var req PasscodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var count int64
	s.db.Model(&models.User{}).Where("email = ?", req.Email).Count(&count)
	if count > 0 {
		if err := s.issueChallenge(req.Email, models.ChallengePasscode); err != nil {
			s.logger.Error().Err(err).Msg("Failed to issue passcode challenge")
		}
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// setupTOTP starts TOTP enrollment. A new pending secret overwrites any earlier
// unconfirmed one; the confirmed secret is untouched until verify succeeds.
func (s *Server) setupTOTP(c *gin.Context) {
	var req TOTPSetupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var user models.User
	if err := s.db.Where("email = ?", req.Email).First(&user).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown account"})
		return
	}

	secret, err := auth.GenerateTOTPSecret()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to generate TOTP secret")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start TOTP setup"})
		return
	}

	if err := s.db.Model(&user).Update("pending_totp_secret", secret).Error; err != nil {
		s.logger.Error().Err(err).Msg("Failed to store pending TOTP secret")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start TOTP setup"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"totp_secret": secret,
		"totp_uri":    auth.TOTPProvisionURI(secret, user.Email),
	})
}

// verifyTOTP confirms enrollment, enables 2FA, and issues recovery codes plus a
// token pair
func (s *Server) verifyTOTP(c *gin.Context) {
	var req TOTPVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var user models.User
	if err := s.db.Where("email = ?", req.Email).First(&user).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown account"})
		return
	}

	secret := user.PendingTOTPSecret
	if secret == "" {
		secret = req.TOTPSecret
	}
	if secret == "" {
		c.JSON(http.StatusConflict, gin.H{"error": "TOTP setup not started"})
		return
	}

	ok, err := auth.VerifyTOTPCode(secret, req.Code, time.Now())
	if err != nil || !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication code"})
		return
	}

	codes, hashes, err := generateRecoveryCodes()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to generate recovery codes")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to enable TOTP"})
		return
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&user).Updates(map[string]interface{}{
			"totp_enabled":        true,
			"totp_secret":         secret,
			"pending_totp_secret": "",
		}).Error; err != nil {
			return err
		}
		// Replace any codes from a previous enrollment
		if err := tx.Where("user_id = ?", user.ID).Delete(&models.RecoveryCode{}).Error; err != nil {
			return err
		}
		for _, h := range hashes {
			if err := tx.Create(&models.RecoveryCode{UserID: user.ID, CodeHash: h}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to enable TOTP")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to enable TOTP"})
		return
	}

	access, refresh, err := auth.GenerateTokenPair(user.ID, user.Email)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to generate tokens")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	s.logger.Info().Str("user_id", user.ID).Msg("TOTP enabled")
	c.JSON(http.StatusOK, gin.H{
		"recovery_codes": codes,
		"access_token":   access,
		"refresh_token":  refresh,
		"user_id":        user.ID,
	})
}

// requestPasswordReset emails a reset link. The response is the same whether or
// not the account exists, so the endpoint cannot be used to enumerate emails.
func (s *Server) requestPasswordReset(c *gin.Context) {
	var req PasswordResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var user models.User
	if err := s.db.Where("email = ?", req.Email).First(&user).Error; err == nil {
		reset := &models.PasswordReset{
			UserID:    user.ID,
			Token:     uuid.NewString(),
			ExpiresAt: time.Now().Add(resetTTL),
		}
		if err := s.db.Create(reset).Error; err != nil {
			s.logger.Error().Err(err).Msg("Failed to create password reset")
		} else {
			s.enqueueEmail(tasks.NewPasswordResetEmailTask(user.Email, reset.Token))
		}
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// confirmPasswordReset sets a new password with a valid reset token
func (s *Server) confirmPasswordReset(c *gin.Context) {
	var req PasswordResetConfirm
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var reset models.PasswordReset
	if err := s.db.Where("token = ?", req.Token).First(&reset).Error; err != nil || reset.Expired(time.Now()) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired reset token"})
		return
	}

	passwordHash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to hash password")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to reset password"})
		return
	}

	now := time.Now()
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.User{}).Where("id = ?", reset.UserID).
			Update("password_hash", passwordHash).Error; err != nil {
			return err
		}
		return tx.Model(&reset).Update("used_at", &now).Error
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to reset password")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to reset password"})
		return
	}

	s.logger.Info().Str("user_id", reset.UserID).Msg("Password reset")
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// oauthGoogleLogin is the provider redirect entry point. The dev server skips the
// real provider round trip: it signs in a stub Google account and redirects back
// with tokens, or with an error when ?fail=1 is set.
func (s *Server) oauthGoogleLogin(c *gin.Context) {
	redirectURI := c.Query("redirect_uri")
	if redirectURI == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "redirect_uri is required"})
		return
	}
	target, err := url.Parse(redirectURI)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid redirect_uri"})
		return
	}

	q := target.Query()
	if c.Query("fail") != "" {
		q.Set("error", "access_denied")
		target.RawQuery = q.Encode()
		c.Redirect(http.StatusFound, target.String())
		return
	}

	const stubEmail = "oauth-dev@stashd.local"
	var user models.User
	if err := s.db.Where("email = ?", stubEmail).First(&user).Error; err != nil {
		user = models.User{
			Email:         stubEmail,
			Name:          "OAuth Dev User",
			PasswordHash:  "-", // no password login for the stub account
			EmailVerified: true,
		}
		if err := s.db.Create(&user).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create stub account"})
			return
		}
	}

	access, _, err := auth.GenerateTokenPair(user.ID, user.Email)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	q.Set("access_token", access)
	q.Set("user_id", user.ID)
	target.RawQuery = q.Encode()
	c.Redirect(http.StatusFound, target.String())
}

// getCurrentUser returns the authenticated user's profile
func (s *Server) getCurrentUser(c *gin.Context) {
	claims, exists := GetClaims(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var user models.User
	if err := s.db.Where("id = ?", claims.UserID).First(&user).Error; err != nil {
		s.logger.Error().Err(err).Str("user_id", claims.UserID).Msg("Failed to find user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, UserDetail{
		ID:          user.ID,
		Email:       user.Email,
		Name:        user.Name,
		TOTPEnabled: user.TOTPEnabled,
		CreatedAt:   user.CreatedAt,
	})
}

// respondWithTokens issues a token pair for the user
func (s *Server) respondWithTokens(c *gin.Context, user *models.User) {
	access, refresh, err := auth.GenerateTokenPair(user.ID, user.Email)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to generate tokens")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, TokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		UserID:       user.ID,
	})
}

// issueChallenge creates a six-digit email challenge and enqueues its delivery
func (s *Server) issueChallenge(email, purpose string) error {
	code, err := randomCode()
	if err != nil {
		return err
	}

	challenge := &models.EmailChallenge{
		Email:     email,
		Code:      code,
		Purpose:   purpose,
		ExpiresAt: time.Now().Add(challengeTTL),
	}
	if err := s.db.Create(challenge).Error; err != nil {
		return fmt.Errorf("failed to store challenge: %w", err)
	}

	s.enqueueEmail(tasks.NewVerificationEmailTask(email, code))
	return nil
}

// enqueueEmail hands a delivery task to the worker queue. Delivery is best
// effort in the dev harness; the code is still visible in the server log.
func (s *Server) enqueueEmail(task *asynq.Task, taskErr error) {
	if taskErr != nil {
		s.logger.Error().Err(taskErr).Msg("Failed to build email task")
		return
	}
	if _, err := s.asynqClient.Enqueue(task); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to enqueue email task (is Redis running?)")
	}
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func generateRecoveryCodes() (codes []string, hashes []string, err error) {
	for i := 0; i < recoveryCodeCount; i++ {
		a, err := rand.Int(rand.Reader, big.NewInt(100000))
		if err != nil {
			return nil, nil, err
		}
		b, err := rand.Int(rand.Reader, big.NewInt(100000))
		if err != nil {
			return nil, nil, err
		}
		code := fmt.Sprintf("%05d-%05d", a.Int64(), b.Int64())
		hash, err := auth.HashPassword(code)
		if err != nil {
			return nil, nil, err
		}
		codes = append(codes, code)
		hashes = append(hashes, hash)
	}
	return codes, hashes, nil
}
