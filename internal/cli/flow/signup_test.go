package flow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stashd-dev/stashd/internal/cli/client"
)

// manualScheduler captures deferred callbacks so tests control when they fire
type manualScheduler struct {
	pending []func()
}

func (m *manualScheduler) After(d time.Duration, fn func()) {
	m.pending = append(m.pending, fn)
}

func (m *manualScheduler) fire() {
	for _, fn := range m.pending {
		fn()
	}
	m.pending = nil
}

func validForm() RegisterInput {
	return RegisterInput{Name: "Test User", Email: "user@example.com", Password: "secret1"}
}

func TestSignupFlow_WithoutTOTP(t *testing.T) {
	api := &mockAPI{}
	ctrl, _, _ := newTestController(api)
	sched := &manualScheduler{}
	f := NewSignupFlow(ctrl, sched)

	completed := false
	f.OnComplete(func() { completed = true })

	if f.Step() != StepForm {
		t.Fatalf("expected form step, got %s", f.Step())
	}

	if err := f.Submit(context.Background(), validForm(), false); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if f.Step() != StepVerifyEmail {
		t.Fatalf("expected verify-email step, got %s", f.Step())
	}

	if err := f.VerifyEmail(context.Background(), "123456"); err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if f.Step() != StepComplete {
		t.Fatalf("expected complete step, got %s", f.Step())
	}

	// The hook fires only after the scheduled delay elapses
	if completed {
		t.Error("on-complete hook fired before the delay")
	}
	sched.fire()
	if !completed {
		t.Error("on-complete hook did not fire")
	}
}

func TestSignupFlow_WithTOTP(t *testing.T) {
	api := &mockAPI{totpVerifyResp: &client.TOTPVerifyResponse{
		RecoveryCodes: []string{"11111-22222", "33333-44444"},
		AccessToken:   "at",
		RefreshToken:  "rt",
		UserID:        "u1",
	}}
	ctrl, store, _ := newTestController(api)
	sched := &manualScheduler{}
	f := NewSignupFlow(ctrl, sched)

	if err := f.Submit(context.Background(), validForm(), true); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if err := f.VerifyEmail(context.Background(), "123456"); err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if f.Step() != StepTOTPSetup {
		t.Fatalf("expected totp-setup step, got %s", f.Step())
	}

	setup, err := f.StartTOTP(context.Background())
	if err != nil {
		t.Fatalf("totp setup failed: %v", err)
	}
	if setup.Secret == "" || setup.URI == "" {
		t.Errorf("incomplete setup result: %+v", setup)
	}
	if f.Step() != StepTOTPQR {
		t.Fatalf("expected totp-qr step, got %s", f.Step())
	}

	if err := f.ConfirmQRScanned(); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if f.Step() != StepTOTPVerify {
		t.Fatalf("expected totp-verify step, got %s", f.Step())
	}

	codes, err := f.VerifyTOTP(context.Background(), "654321")
	if err != nil {
		t.Fatalf("totp verify failed: %v", err)
	}
	if len(codes) != 2 {
		t.Errorf("expected 2 recovery codes, got %d", len(codes))
	}
	if f.Step() != StepComplete {
		t.Fatalf("expected complete step, got %s", f.Step())
	}

	pair, _ := store.Read()
	if pair == nil || pair.AccessToken != "at" {
		t.Errorf("expected tokens after enrollment, got %+v", pair)
	}
}

func TestSignupFlow_FailureDoesNotAdvance(t *testing.T) {
	api := &mockAPI{verifyErr: &client.APIError{Status: 401, Message: "Invalid or expired code"}}
	ctrl, _, _ := newTestController(api)
	f := NewSignupFlow(ctrl, &manualScheduler{})

	if err := f.Submit(context.Background(), validForm(), false); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	if err := f.VerifyEmail(context.Background(), "123456"); err == nil {
		t.Fatal("expected verification error")
	}
	if f.Step() != StepVerifyEmail {
		t.Errorf("failed verify must not advance: got %s", f.Step())
	}

	// A later correct code still works
	api.verifyErr = nil
	if err := f.VerifyEmail(context.Background(), "123456"); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if f.Step() != StepComplete {
		t.Errorf("expected complete step, got %s", f.Step())
	}
}

func TestSignupFlow_OutOfOrderCallsRejected(t *testing.T) {
	api := &mockAPI{}
	ctrl, _, _ := newTestController(api)
	f := NewSignupFlow(ctrl, &manualScheduler{})

	if err := f.VerifyEmail(context.Background(), "123456"); !errors.Is(err, ErrInvalidStep) {
		t.Errorf("verify at form step: expected ErrInvalidStep, got %v", err)
	}
	if _, err := f.StartTOTP(context.Background()); !errors.Is(err, ErrInvalidStep) {
		t.Errorf("totp setup at form step: expected ErrInvalidStep, got %v", err)
	}
	if err := f.ConfirmQRScanned(); !errors.Is(err, ErrInvalidStep) {
		t.Errorf("confirm at form step: expected ErrInvalidStep, got %v", err)
	}
	if api.callCount() != 0 {
		t.Errorf("out-of-order calls must not hit the API, got %d calls", api.callCount())
	}
}

func TestSignupStep_String(t *testing.T) {
	steps := map[SignupStep]string{
		StepForm:        "form",
		StepVerifyEmail: "verify-email",
		StepTOTPSetup:   "totp-setup",
		StepTOTPQR:      "totp-qr",
		StepTOTPVerify:  "totp-verify",
		StepComplete:    "complete",
	}
	for step, want := range steps {
		if got := step.String(); got != want {
			t.Errorf("step %d: expected %q, got %q", step, want, got)
		}
	}
}
