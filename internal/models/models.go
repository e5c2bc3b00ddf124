package models

import (
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// BaseModel provides common fields and an auto-generated ULID for all models
type BaseModel struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(26)"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// BeforeCreate generates a ULID for the ID field if it's empty
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = ulid.Make().String()
	}
	return nil
}

// User represents an account on the file-storage service
type User struct {
	BaseModel
	Email         string `json:"email" gorm:"uniqueIndex;not null"`
	Name          string `json:"name" gorm:"not null"`
	PasswordHash  string `json:"-" gorm:"not null"`
	EmailVerified bool   `json:"email_verified" gorm:"not null;default:false"`

	// TOTP state. Secret is the base32-encoded shared secret once 2FA is
	// confirmed; PendingTOTPSecret holds the secret between setup and verify,
	// keyed server-side so the client never has to resubmit it.
	TOTPEnabled       bool   `json:"totp_enabled" gorm:"not null;default:false"`
	TOTPSecret        string `json:"-"`
	PendingTOTPSecret string `json:"-"`
}

// EmailChallenge is a pending six-digit email verification code.
// A challenge is single-use: consumed on success, purged on expiry.
type EmailChallenge struct {
	BaseModel
	Email     string    `json:"email" gorm:"index;not null"`
	Code      string    `json:"-" gorm:"not null"` // six digits
	Purpose   string    `json:"purpose" gorm:"not null"`
	ExpiresAt time.Time `json:"expires_at" gorm:"not null"`
	Attempts  int       `json:"attempts" gorm:"not null;default:0"`
}

// Challenge purposes
const (
	ChallengeVerifyEmail = "verify_email" // post-registration verification
	ChallengePasscode    = "passcode"     // sign-in by emailed code
)

// Expired reports whether the challenge is past its deadline
func (c *EmailChallenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// PasswordReset is an opaque single-use password reset token sent by email
type PasswordReset struct {
	BaseModel
	UserID    string    `json:"user_id" gorm:"index;not null"`
	Token     string    `json:"-" gorm:"uniqueIndex;not null"` // uuid, opaque to the client
	ExpiresAt time.Time `json:"expires_at" gorm:"not null"`
	UsedAt    *time.Time `json:"used_at"`
}

// Expired reports whether the reset token is past its deadline or already spent
func (r *PasswordReset) Expired(now time.Time) bool {
	return r.UsedAt != nil || now.After(r.ExpiresAt)
}

// RecoveryCode is a one-time backup code issued when TOTP is enabled
type RecoveryCode struct {
	BaseModel
	UserID   string     `json:"user_id" gorm:"index;not null"`
	CodeHash string     `json:"-" gorm:"not null"` // bcrypt, same as passwords
	UsedAt   *time.Time `json:"used_at"`
}

// AutoMigrate runs database migrations for all models
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&EmailChallenge{},
		&PasswordReset{},
		&RecoveryCode{},
	)
}
