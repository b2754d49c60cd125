// Package config reads and writes the concilia.yaml project file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cleared-dev/concilia/internal/fieldmap"
	"github.com/cleared-dev/concilia/internal/model"
)

// FileName is the project file at the root of a concilia project.
const FileName = "concilia.yaml"

// Config represents the top-level concilia.yaml configuration.
type Config struct {
	Organization OrganizationConfig `yaml:"organization"`
	Paths        PathsConfig        `yaml:"paths"`
	Import       ImportConfig       `yaml:"import"`
	BankAccounts []model.BankAccount `yaml:"bank_accounts,omitempty"`
	// Templates adds to or overrides the built-in field-map templates.
	Templates map[string]model.FieldMap `yaml:"templates,omitempty"`
}

// OrganizationConfig identifies the company whose statements are reconciled.
type OrganizationConfig struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`
}

// PathsConfig locates project files, relative to the project root.
type PathsConfig struct {
	Chart     string `yaml:"chart"`
	Rules     string `yaml:"rules"`
	Database  string `yaml:"database"`
	ImportLog string `yaml:"import_log"`
	Results   string `yaml:"results"`
}

// ImportConfig tunes statement imports.
type ImportConfig struct {
	Workers      int           `yaml:"workers"`
	ParseTimeout time.Duration `yaml:"parse_timeout"`
}

// Load reads a concilia.yaml file from disk and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// Save writes a Config to a YAML file.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Default returns a Config with sensible defaults for a new project.
func Default(orgName, kind string) *Config {
	return &Config{
		Organization: OrganizationConfig{
			Name: orgName,
			Kind: kind,
		},
		Paths: PathsConfig{
			Chart:     "accounts/chart-of-accounts.csv",
			Rules:     "rules/reconciliation-rules.yaml",
			Database:  "concilia.db",
			ImportLog: "logs/imports.csv",
			Results:   "results",
		},
		Import: ImportConfig{
			Workers:      4,
			ParseTimeout: 30 * time.Second,
		},
	}
}

// Validate checks the bank accounts: unique ids, known kinds and known
// templates.
func (c *Config) Validate() error {
	tpls := c.TemplateSet()
	seen := make(map[string]bool, len(c.BankAccounts))
	for _, a := range c.BankAccounts {
		if a.ID == "" {
			return fmt.Errorf("bank account %q has no id", a.Name)
		}
		if seen[a.ID] {
			return fmt.Errorf("duplicate bank account id %q", a.ID)
		}
		seen[a.ID] = true
		if !a.Kind.Valid() {
			return fmt.Errorf("bank account %q: invalid kind %q", a.ID, a.Kind)
		}
		if a.Template != "" {
			if _, ok := tpls[a.Template]; !ok {
				return fmt.Errorf("bank account %q: unknown template %q", a.ID, a.Template)
			}
		}
	}
	if c.Import.Workers < 0 {
		return fmt.Errorf("import workers cannot be negative")
	}
	return nil
}

// Account returns the bank account with the given id.
func (c *Config) Account(id string) (model.BankAccount, bool) {
	for _, a := range c.BankAccounts {
		if a.ID == id {
			return a, true
		}
	}
	return model.BankAccount{}, false
}

// TemplateSet returns the built-in templates merged with the project's own.
func (c *Config) TemplateSet() fieldmap.Templates {
	return fieldmap.Builtin().Merge(fieldmap.Templates(c.Templates))
}

// Resolve returns p joined to root unless p is absolute.
func Resolve(root, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}
