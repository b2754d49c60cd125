package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/concilia/internal/model"
)

func TestRoundTrip(t *testing.T) {
	cfg := Default("Padaria Estrela", "servicos")
	cfg.BankAccounts = []model.BankAccount{
		{ID: "itau-cc", Name: "Itaú Conta Corrente", Agency: "0341", Number: "12345-6", Kind: model.AccountKindChecking, ImportEnabled: true, Template: "ofx"},
		{
			ID: "bb-cc", Name: "BB", Kind: model.AccountKindChecking, ImportEnabled: true,
			FieldMap: model.FieldMap{
				Format: model.FormatCSV,
				Fields: map[model.CanonicalField]string{
					model.FieldPostedDate:  "Data",
					model.FieldAmount:      "Valor",
					model.FieldExternalID:  "Id",
					model.FieldDescription: "Lançamento",
				},
				DecimalSeparator: ",",
				DateFormat:       "dd/MM/yyyy",
				Delimiter:        ";",
				IgnoreDuplicates: true,
			},
		},
	}

	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, Save(path, cfg))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestDefaults(t *testing.T) {
	cfg := Default("Minha Empresa", "servicos")

	assert.Equal(t, "Minha Empresa", cfg.Organization.Name)
	assert.Equal(t, "servicos", cfg.Organization.Kind)
	assert.Equal(t, "rules/reconciliation-rules.yaml", cfg.Paths.Rules)
	assert.Equal(t, "accounts/chart-of-accounts.csv", cfg.Paths.Chart)
	assert.Equal(t, 4, cfg.Import.Workers)
	assert.Equal(t, 30*time.Second, cfg.Import.ParseTimeout)
	assert.Empty(t, cfg.BankAccounts)
	assert.NoError(t, cfg.Validate())
}

func TestLoadNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestYAMLFormat(t *testing.T) {
	cfg := Default("Test Biz", "servicos")
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, Save(path, cfg))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	contents := string(data)

	assert.Contains(t, contents, "name: Test Biz")
	assert.Contains(t, contents, "kind: servicos")
	assert.Contains(t, contents, "parse_timeout: 30s")
	assert.Contains(t, contents, "workers: 4")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		accounts []model.BankAccount
		msg      string
	}{
		{"missing id", []model.BankAccount{{Name: "x", Kind: model.AccountKindChecking}}, "has no id"},
		{"duplicate id", []model.BankAccount{{ID: "a", Kind: model.AccountKindChecking}, {ID: "a", Kind: model.AccountKindSavings}}, "duplicate bank account id"},
		{"bad kind", []model.BankAccount{{ID: "a", Kind: "CREDIT_CARD"}}, "invalid kind"},
		{"unknown template", []model.BankAccount{{ID: "a", Kind: model.AccountKindChecking, Template: "nubank"}}, "unknown template"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default("x", "servicos")
			cfg.BankAccounts = tt.accounts
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestTemplateSet(t *testing.T) {
	cfg := Default("x", "servicos")
	cfg.Templates = map[string]model.FieldMap{
		"nubank": {Format: model.FormatCSV, DateFormat: "yyyy-MM-dd"},
	}
	cfg.BankAccounts = []model.BankAccount{{ID: "nu", Kind: model.AccountKindChecking, Template: "nubank"}}

	tpls := cfg.TemplateSet()
	assert.Contains(t, tpls.Names(), "nubank")
	assert.Contains(t, tpls.Names(), "ofx")
	assert.NoError(t, cfg.Validate())
}

func TestAccount(t *testing.T) {
	cfg := Default("x", "servicos")
	cfg.BankAccounts = []model.BankAccount{{ID: "itau-cc", Name: "Itaú"}}

	a, ok := cfg.Account("itau-cc")
	assert.True(t, ok)
	assert.Equal(t, "Itaú", a.Name)

	_, ok = cfg.Account("nope")
	assert.False(t, ok)
}

func TestResolve(t *testing.T) {
	assert.Equal(t, filepath.Join("/proj", "rules/x.yaml"), Resolve("/proj", "rules/x.yaml"))
	assert.Equal(t, "/abs/x.db", Resolve("/proj", "/abs/x.db"))
}
