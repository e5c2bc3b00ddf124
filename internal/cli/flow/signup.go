package flow

import (
	"context"
	"sync"
	"time"
)

// SignupStep is a position in the sign-up sequence
type SignupStep int

// Sign-up sequence: form → verify-email → (optional TOTP enrollment:
// totp-setup → totp-qr → totp-verify) → complete. Failures never advance the
// step; the flow stays put and surfaces the error.
const (
	StepForm SignupStep = iota
	StepVerifyEmail
	StepTOTPSetup
	StepTOTPQR
	StepTOTPVerify
	StepComplete
)

func (s SignupStep) String() string {
	switch s {
	case StepForm:
		return "form"
	case StepVerifyEmail:
		return "verify-email"
	case StepTOTPSetup:
		return "totp-setup"
	case StepTOTPQR:
		return "totp-qr"
	case StepTOTPVerify:
		return "totp-verify"
	case StepComplete:
		return "complete"
	}
	return "unknown"
}

// completeDelay is how long the terminal step lingers before the on-complete
// hook fires
const completeDelay = 2 * time.Second

// SignupFlow drives one sign-up sequence from the registration form to
// completion. It is transient: abandoned flows are simply dropped, and the
// embedded verification challenge state is never persisted.
type SignupFlow struct {
	ctrl      *Controller
	scheduler Scheduler

	mu            sync.Mutex
	step          SignupStep
	email         string
	enableTOTP    bool
	totpSecret    string
	totpURI       string
	recoveryCodes []string
	onComplete    func()
}

// NewSignupFlow starts a sign-up flow at the form step
func NewSignupFlow(ctrl *Controller, scheduler Scheduler) *SignupFlow {
	return &SignupFlow{ctrl: ctrl, scheduler: scheduler, step: StepForm}
}

// Step returns the current position in the sequence
func (f *SignupFlow) Step() SignupStep {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.step
}

// OnComplete registers a hook invoked shortly after the flow reaches the
// terminal step
func (f *SignupFlow) OnComplete(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onComplete = fn
}

// Submit sends the registration form. enableTOTP chooses whether the flow
// continues into TOTP enrollment after email verification.
func (f *SignupFlow) Submit(ctx context.Context, in RegisterInput, enableTOTP bool) error {
	if err := f.require(StepForm); err != nil {
		return err
	}

	if _, err := f.ctrl.Register(ctx, in); err != nil {
		return err
	}

	f.advance(StepVerifyEmail, func() {
		f.email = in.Email
		f.enableTOTP = enableTOTP
	})
	return nil
}

// VerifyEmail submits the emailed code
func (f *SignupFlow) VerifyEmail(ctx context.Context, code string) error {
	if err := f.require(StepVerifyEmail); err != nil {
		return err
	}

	if _, err := f.ctrl.VerifyEmail(ctx, VerifyEmailInput{Email: f.email, Code: code}); err != nil {
		return err
	}

	if f.enableTOTP {
		f.advance(StepTOTPSetup, nil)
		return nil
	}
	f.complete()
	return nil
}

// StartTOTP requests a TOTP secret and moves to the QR display step
func (f *SignupFlow) StartTOTP(ctx context.Context) (*TOTPSetupResult, error) {
	if err := f.require(StepTOTPSetup); err != nil {
		return nil, err
	}

	result, err := f.ctrl.SetupTOTP(ctx, TOTPSetupInput{Email: f.email})
	if err != nil {
		return nil, err
	}

	f.advance(StepTOTPQR, func() {
		f.totpSecret = result.Secret
		f.totpURI = result.URI
	})
	return result, nil
}

// ConfirmQRScanned is the explicit user acknowledgement that the authenticator
// app holds the secret; it moves the flow to the code-entry step
func (f *SignupFlow) ConfirmQRScanned() error {
	if err := f.require(StepTOTPQR); err != nil {
		return err
	}
	f.advance(StepTOTPVerify, nil)
	return nil
}

// VerifyTOTP submits the authenticator code and finishes the flow. On a wrong
// code the flow stays at the verify step; the caller clears the entry and the
// user tries again.
func (f *SignupFlow) VerifyTOTP(ctx context.Context, code string) ([]string, error) {
	if err := f.require(StepTOTPVerify); err != nil {
		return nil, err
	}

	result, err := f.ctrl.VerifyTOTP(ctx, TOTPVerifyInput{Email: f.email, Code: code})
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.recoveryCodes = result.RecoveryCodes
	f.mu.Unlock()
	f.complete()
	return result.RecoveryCodes, nil
}

// RecoveryCodes returns the codes issued when TOTP was enabled, if any
func (f *SignupFlow) RecoveryCodes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recoveryCodes
}

func (f *SignupFlow) require(step SignupStep) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.step != step {
		return ErrInvalidStep
	}
	return nil
}

// advance moves to the next step; mutate runs under the lock alongside the
// transition so observers never see a half-updated flow
func (f *SignupFlow) advance(next SignupStep, mutate func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if mutate != nil {
		mutate()
	}
	f.step = next
}

func (f *SignupFlow) complete() {
	f.mu.Lock()
	f.step = StepComplete
	fn := f.onComplete
	f.mu.Unlock()

	if fn != nil {
		f.scheduler.After(completeDelay, fn)
	}
}
