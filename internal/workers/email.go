package workers

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/stashd-dev/stashd/internal/tasks"
)

// EmailWorker "delivers" auth emails. The dev harness has no SMTP relay; delivery
// means rendering the mail and writing it to the log so a developer can copy the
// code or reset link out of the worker output.
type EmailWorker struct {
	baseURL string
	logger  zerolog.Logger
}

// NewEmailWorker creates an email worker. baseURL is the auth API's public address,
// used to render reset links.
func NewEmailWorker(baseURL string, logger zerolog.Logger) *EmailWorker {
	return &EmailWorker{baseURL: baseURL, logger: logger}
}

// HandleVerificationEmail delivers a six-digit verification code
func (w *EmailWorker) HandleVerificationEmail(ctx context.Context, t *asynq.Task) error {
	payload, err := tasks.ParseEmailPayload(t)
	if err != nil {
		return err
	}

	w.logger.Info().
		Str("to", payload.Email).
		Str("code", payload.Code).
		Msg("Delivering verification code")
	return nil
}

// HandlePasswordResetEmail delivers a password reset link
func (w *EmailWorker) HandlePasswordResetEmail(ctx context.Context, t *asynq.Task) error {
	payload, err := tasks.ParseEmailPayload(t)
	if err != nil {
		return err
	}

	link := fmt.Sprintf("%s/reset?token=%s", w.baseURL, payload.Token)
	w.logger.Info().
		Str("to", payload.Email).
		Str("link", link).
		Msg("Delivering password reset link")
	return nil
}
