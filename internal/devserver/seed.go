package devserver

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/stashd-dev/stashd/internal/auth"
	"github.com/stashd-dev/stashd/internal/models"
)

// SeedFile describes accounts pre-created at startup so flows can be exercised
// without registering first.
type SeedFile struct {
	Accounts []SeedAccount `yaml:"accounts"`
}

// SeedAccount is one pre-created account
type SeedAccount struct {
	Email      string `yaml:"email"`
	Name       string `yaml:"name"`
	Password   string `yaml:"password"`
	Verified   bool   `yaml:"verified"`
	TOTPSecret string `yaml:"totp_secret"` // base32; empty leaves 2FA off
}

// seedFromFile upserts the accounts listed in a YAML seed file
func (s *Server) seedFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read seed file: %w", err)
	}

	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("failed to parse seed file: %w", err)
	}

	for _, account := range seed.Accounts {
		if account.Email == "" || account.Password == "" {
			return fmt.Errorf("seed account needs email and password (got email=%q)", account.Email)
		}

		var existing models.User
		if err := s.db.Where("email = ?", account.Email).First(&existing).Error; err == nil {
			continue // already seeded on a previous run
		}

		hash, err := auth.HashPassword(account.Password)
		if err != nil {
			return err
		}

		user := &models.User{
			Email:         account.Email,
			Name:          account.Name,
			PasswordHash:  hash,
			EmailVerified: account.Verified,
			TOTPEnabled:   account.TOTPSecret != "",
			TOTPSecret:    account.TOTPSecret,
		}
		if err := s.db.Create(user).Error; err != nil {
			return fmt.Errorf("failed to create seed account %s: %w", account.Email, err)
		}
		s.logger.Info().Str("email", account.Email).Msg("Seeded account")
	}

	return nil
}
