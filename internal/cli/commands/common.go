package commands

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"syscall"

	"github.com/manifoldco/promptui"
	"golang.org/x/term"

	"github.com/stashd-dev/stashd/internal/cli/auth"
	"github.com/stashd-dev/stashd/internal/cli/client"
	"github.com/stashd-dev/stashd/internal/cli/config"
	"github.com/stashd-dev/stashd/internal/cli/endpointselect"
	"github.com/stashd-dev/stashd/internal/cli/flow"
	"github.com/stashd-dev/stashd/internal/cli/session"
	"github.com/stashd-dev/stashd/internal/logger"
)

// env wires the auth core for one command invocation: API client, token store,
// session deriver, and flow controller, all scoped to the selected endpoint
type env struct {
	endpoint *config.Endpoint
	api      *client.Client
	store    auth.TokenStore
	deriver  *session.Deriver
	ctrl     *flow.Controller
}

// newEnv loads the project config, resolves the endpoint, and builds the core
func newEnv(endpointAlias string) (*env, error) {
	cfg, err := config.LoadFromCurrentDir()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w\nRun 'stashd init' to create a configuration file", err)
	}

	endpoint, err := endpointselect.ResolveEndpoint(cfg, endpointAlias)
	if err != nil {
		return nil, err
	}
	if endpoint.URL == "" {
		return nil, fmt.Errorf("endpoint URL is empty. Please edit stashd.json and add a valid URL")
	}

	log := logger.NewCLI()
	api := client.New(endpoint.URL)
	store := auth.NewStore(endpointHost(endpoint.URL), log)
	deriver := session.New(store, api, log)
	ctrl := flow.New(api, deriver, log)

	return &env{
		endpoint: endpoint,
		api:      api,
		store:    store,
		deriver:  deriver,
		ctrl:     ctrl,
	}, nil
}

// endpointHost extracts the host used to key the token store
func endpointHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}

// requireSession resolves the session and fails when not authenticated. This is
// the CLI's route guard: protected commands call it before doing anything.
func requireSession(ctx context.Context, e *env) (*session.User, error) {
	s := e.deriver.Resolve(ctx)
	if s.Err != nil {
		return nil, fmt.Errorf("failed to resolve session: %w", s.Err)
	}
	if !s.Authenticated {
		return nil, fmt.Errorf("not authenticated. Please run 'stashd login' first")
	}
	return s.User, nil
}

// promptPassword reads a password without echo. Non-interactive callers must
// pass the password via flag or environment.
func promptPassword(label string) (string, error) {
	if !term.IsTerminal(int(syscall.Stdin)) {
		return "", fmt.Errorf("%s is required in non-interactive mode", label)
	}

	fmt.Printf("%s: ", label)
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", label, err)
	}
	return string(bytePassword), nil
}

var sixDigits = regexp.MustCompile(`^[0-9]{6}$`)

// promptCode reads a six-digit verification code
func promptCode(label string) (string, error) {
	prompt := promptui.Prompt{
		Label: label,
		Validate: func(input string) error {
			if !sixDigits.MatchString(input) {
				return fmt.Errorf("enter the 6-digit code")
			}
			return nil
		},
	}
	code, err := prompt.Run()
	if err != nil {
		return "", fmt.Errorf("cancelled: %w", err)
	}
	return code, nil
}

// promptConfirm asks a yes/no question, defaulting to no
func promptConfirm(label string) bool {
	prompt := promptui.Prompt{
		Label:     label,
		IsConfirm: true,
	}
	_, err := prompt.Run()
	return err == nil
}

// envOr returns the environment variable when value is empty
func envOr(value, envName string) string {
	if value != "" {
		return value
	}
	return os.Getenv(envName)
}
