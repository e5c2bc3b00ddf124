package tasks

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// Task type constants
const (
	// Outbound email delivery tasks enqueued by the auth API
	TypeVerificationEmail  = "email:verification"
	TypePasswordResetEmail = "email:password_reset"
)

// EmailPayload is the common payload for email delivery tasks
type EmailPayload struct {
	Email string `json:"email"`
	Code  string `json:"code,omitempty"`  // six-digit verification code
	Token string `json:"token,omitempty"` // opaque password reset token
}

// NewVerificationEmailTask creates a task to deliver an email verification code
func NewVerificationEmailTask(email, code string) (*asynq.Task, error) {
	payload, err := json.Marshal(EmailPayload{
		Email: email,
		Code:  code,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return asynq.NewTask(TypeVerificationEmail, payload), nil
}

// NewPasswordResetEmailTask creates a task to deliver a password reset link
func NewPasswordResetEmailTask(email, token string) (*asynq.Task, error) {
	payload, err := json.Marshal(EmailPayload{
		Email: email,
		Token: token,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return asynq.NewTask(TypePasswordResetEmail, payload), nil
}

// ParseEmailPayload parses an email payload from an Asynq task
func ParseEmailPayload(task *asynq.Task) (EmailPayload, error) {
	var payload EmailPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return payload, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return payload, nil
}
