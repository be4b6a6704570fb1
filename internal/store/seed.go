package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"digitext/internal/domain"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// SeedAccount is one entry of the accounts.yaml seed file. Accounts must be
// registered before provider traffic starts; the seed file is how a
// deployment declares them.
type SeedAccount struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Platform    string `yaml:"platform"`
	ExternalID  string `yaml:"externalId"`
	AccessToken string `yaml:"accessToken"`
	OperatorID  string `yaml:"operatorId"`
}

type seedFile struct {
	Accounts []SeedAccount `yaml:"accounts"`
}

// SeedAccounts loads accounts.yaml and inserts any accounts not already
// present. A missing file is not an error.
func SeedAccounts(ctx context.Context, s domain.Store, path string, logger *slog.Logger) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Debug("account seed file does not exist, skipping", "path", path)
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}

	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse seed file %s: %w", path, err)
	}

	for _, entry := range f.Accounts {
		platform := domain.Platform(entry.Platform)
		switch platform {
		case domain.PlatformInstagram, domain.PlatformMessenger, domain.PlatformWhatsApp, domain.PlatformLinkedSession:
		default:
			logger.Warn("seed account with unknown platform, skipping", "platform", entry.Platform, "name", entry.Name)
			continue
		}
		if entry.ExternalID == "" || entry.OperatorID == "" {
			logger.Warn("seed account missing externalId or operatorId, skipping", "name", entry.Name)
			continue
		}

		// Reseeding on every start must not duplicate accounts.
		existing, err := s.FindAccountByRoutingKey(ctx, platform, entry.ExternalID)
		if err != nil {
			return fmt.Errorf("seed lookup %s: %w", entry.Name, err)
		}
		if existing != nil {
			continue
		}

		id := entry.ID
		if id == "" {
			id = "acc-" + uuid.NewString()
		}
		if err := s.CreateAccount(ctx, domain.Account{
			ID:          id,
			Name:        entry.Name,
			Platform:    platform,
			ExternalID:  entry.ExternalID,
			AccessToken: entry.AccessToken,
			OperatorID:  entry.OperatorID,
		}); err != nil {
			return fmt.Errorf("seed account %s: %w", entry.Name, err)
		}
		logger.Info("seeded account", "id", id, "platform", platform, "externalId", entry.ExternalID)
	}

	return nil
}
