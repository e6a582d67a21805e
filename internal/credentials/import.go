package credentials

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/iammorganparry/hive-sync/internal/models"
)

// IntegrationUpserter stores integration records.
type IntegrationUpserter interface {
	Upsert(ctx context.Context, in *models.Integration) error
}

// File is the integrations file layout.
type File struct {
	Integrations []Entry `yaml:"integrations"`
}

// Entry configures one category. The token is read from TokenEnv when set,
// otherwise from Token.
type Entry struct {
	Category     string        `yaml:"category"`
	System       models.System `yaml:"system"`
	Organization string        `yaml:"organization"`
	Project      string        `yaml:"project"`
	Owner        string        `yaml:"owner"`
	Repo         string        `yaml:"repo"`
	Token        string        `yaml:"token"`
	TokenEnv     string        `yaml:"token_env"`
}

// ParseFile decodes an integrations file.
func ParseFile(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	for i, e := range f.Integrations {
		if e.Category == "" {
			return nil, fmt.Errorf("integration %d: category is required", i)
		}
		if !e.System.IsValid() {
			return nil, fmt.Errorf("integration %q: unknown system %q", e.Category, e.System)
		}
	}
	return &f, nil
}

// ImportFile seals the tokens of every entry in path and upserts them. It
// returns the number of integrations stored.
func ImportFile(ctx context.Context, path string, dst IntegrationUpserter, box *Box, now time.Time) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read integrations file: %w", err)
	}
	f, err := ParseFile(data)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	return Import(ctx, f, dst, box, now)
}

// Import stores the entries of f.
func Import(ctx context.Context, f *File, dst IntegrationUpserter, box *Box, now time.Time) (int, error) {
	n := 0
	for _, e := range f.Integrations {
		token := e.Token
		if e.TokenEnv != "" {
			token = os.Getenv(e.TokenEnv)
		}

		in := &models.Integration{
			CategoryID:   e.Category,
			System:       e.System,
			Organization: e.Organization,
			Project:      e.Project,
			Owner:        e.Owner,
			Repo:         e.Repo,
			UpdatedAt:    now,
		}
		if token != "" {
			sealed, err := box.Seal(token)
			if err != nil {
				return n, fmt.Errorf("integration %q: %w", e.Category, err)
			}
			in.SealedToken = sealed
		}

		if err := dst.Upsert(ctx, in); err != nil {
			return n, fmt.Errorf("integration %q: %w", e.Category, err)
		}
		n++
	}
	return n, nil
}
