package commands_test

import (
	"bytes"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/concilia/internal/accounts"
	"github.com/cleared-dev/concilia/internal/commands"
	"github.com/cleared-dev/concilia/internal/config"
	"github.com/cleared-dev/concilia/internal/importlog"
	"github.com/cleared-dev/concilia/internal/model"
	"github.com/cleared-dev/concilia/internal/results"
	"github.com/cleared-dev/concilia/internal/rules"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func runConcilia(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := commands.NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// newProject initializes a project with one OFX account and two rules.
func newProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	_, err := runConcilia(t, "init", dir, "--name", "Padaria Central")
	require.NoError(t, err)

	cfgPath := filepath.Join(dir, config.FileName)
	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	cfg.BankAccounts = append(cfg.BankAccounts, model.BankAccount{
		ID: "itau-cc", Name: "Itaú CC", Kind: model.AccountKindChecking, ImportEnabled: true, Template: "ofx",
	})
	require.NoError(t, config.Save(cfgPath, cfg))

	require.NoError(t, rules.SaveFile(filepath.Join(dir, cfg.Paths.Rules), []model.Rule{
		{ID: 1, Name: "tarifas", OperationKind: model.OperationDebit, MatchKind: model.MatchContains, Pattern: "tarifa", TargetAccountID: 5030, DefaultNarrative: "Tarifas bancárias", AutoApply: true, Priority: 10, Active: true},
		{ID: 2, Name: "pix", OperationKind: model.OperationCredit, MatchKind: model.MatchStartsWith, Pattern: "PIX", TargetAccountID: 4010, Priority: 10, Active: true},
	}))
	return dir
}

func copyStatement(t *testing.T, dst string) {
	t.Helper()
	data, err := os.ReadFile("../../testdata/itau_extrato.ofx")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(dst, data, 0o644))
}

func TestInit_CreatesStructure(t *testing.T) {
	dir := t.TempDir()
	out, err := runConcilia(t, "init", dir, "--name", "Padaria Central")
	require.NoError(t, err)
	assert.Contains(t, out, "Initialized concilia project for Padaria Central")

	for _, d := range []string{"accounts", "rules", "logs", "import", filepath.Join("import", "processed"), "results"} {
		info, err := os.Stat(filepath.Join(dir, d))
		require.NoError(t, err, "directory %s should exist", d)
		assert.True(t, info.IsDir(), "%s should be a directory", d)
	}

	cfg, err := config.Load(filepath.Join(dir, config.FileName))
	require.NoError(t, err)
	assert.Equal(t, "Padaria Central", cfg.Organization.Name)
	assert.Equal(t, "servicos", cfg.Organization.Kind)

	chart, err := accounts.Load(filepath.Join(dir, cfg.Paths.Chart))
	require.NoError(t, err)
	for _, a := range accounts.DefaultChart("servicos") {
		assert.True(t, chart.Exists(a.ID), "account %d", a.ID)
	}

	rs, err := rules.LoadFile(filepath.Join(dir, cfg.Paths.Rules))
	require.NoError(t, err)
	assert.Empty(t, rs)

	gitignore, err := os.ReadFile(filepath.Join(dir, ".gitignore"))
	require.NoError(t, err)
	assert.Contains(t, string(gitignore), "concilia.db")
}

func TestInit_RequiresName(t *testing.T) {
	_, err := runConcilia(t, "init", t.TempDir())
	require.Error(t, err, "init without --name should fail")
}

func TestInit_RefusesExistingProject(t *testing.T) {
	dir := newProject(t)
	_, err := runConcilia(t, "init", dir, "--name", "Outra")
	assert.ErrorContains(t, err, "already exists")
}

func TestImport_File(t *testing.T) {
	dir := newProject(t)
	stmt := filepath.Join(t.TempDir(), "extrato.ofx")
	copyStatement(t, stmt)

	out, err := runConcilia(t, "import", stmt, "--account", "itau-cc", "-C", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "parsed 4, duplicates 0, rejected 0")
	assert.Contains(t, out, "auto-classified 1")

	entries, err := importlog.Read(filepath.Join(dir, "logs", "imports.csv"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "itau-cc", entries[0].AccountID)
	assert.Equal(t, 4, entries[0].Parsed)

	f, err := os.Open(filepath.Join(dir, "results", entries[0].BatchID+".csv"))
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, strings.Split(results.Header, ","), rows[0])

	out, err = runConcilia(t, "import", stmt, "--account", "itau-cc", "-C", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "parsed 4, duplicates 4, rejected 0")

	out, err = runConcilia(t, "history", "--account", "itau-cc", "-C", dir)
	require.NoError(t, err)
	assert.Contains(t, out, entries[0].BatchID)
	assert.Contains(t, out, "extrato.ofx")
	assert.Equal(t, 3, strings.Count(strings.TrimSpace(out), "\n")+1, "header plus two batches")
}

func TestImport_DryRun(t *testing.T) {
	dir := newProject(t)
	stmt := filepath.Join(t.TempDir(), "extrato.ofx")
	copyStatement(t, stmt)
	outCSV := filepath.Join(t.TempDir(), "preview.csv")

	out, err := runConcilia(t, "import", stmt, "--account", "itau-cc", "--dry-run", "--out", outCSV, "-C", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "(dry run)")
	assert.FileExists(t, outCSV)

	entries, err := importlog.Read(filepath.Join(dir, "logs", "imports.csv"))
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Nothing was committed, so a real import sees no duplicates.
	out, err = runConcilia(t, "import", stmt, "--account", "itau-cc", "-C", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "duplicates 0")
}

func TestImport_All(t *testing.T) {
	dir := newProject(t)
	copyStatement(t, filepath.Join(dir, "import", "extrato-jan.ofx"))

	out, err := runConcilia(t, "import", "--all", "--account", "itau-cc", "-C", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "extrato-jan.ofx")

	assert.NoFileExists(t, filepath.Join(dir, "import", "extrato-jan.ofx"))
	assert.FileExists(t, filepath.Join(dir, "import", "processed", "extrato-jan.ofx"))

	out, err = runConcilia(t, "import", "--all", "--account", "itau-cc", "-C", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "No statements to import.")
}

func TestImport_All_ReportsFailures(t *testing.T) {
	dir := newProject(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "import", "vazio.ofx"), []byte("OFXHEADER:100\n"), 0o644))

	out, err := runConcilia(t, "import", "--all", "--account", "itau-cc", "-C", dir)
	assert.ErrorContains(t, err, "1 of 1 statements failed")
	assert.Contains(t, out, "vazio.ofx")
	assert.FileExists(t, filepath.Join(dir, "import", "vazio.ofx"))
}

func TestImport_Arguments(t *testing.T) {
	dir := newProject(t)

	_, err := runConcilia(t, "import", "--account", "itau-cc", "-C", dir)
	assert.ErrorContains(t, err, "give one statement file or --all")

	_, err = runConcilia(t, "import", "x.ofx", "--all", "--account", "itau-cc", "-C", dir)
	assert.ErrorContains(t, err, "give one statement file or --all")

	_, err = runConcilia(t, "import", "x.ofx", "--account", "nope", "-C", dir)
	assert.ErrorContains(t, err, `unknown bank account "nope"`)
}

func TestRulesValidate(t *testing.T) {
	dir := newProject(t)
	out, err := runConcilia(t, "rules", "validate", "-C", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "2 active rule(s) OK")

	rulesPath := filepath.Join(dir, "rules", "reconciliation-rules.yaml")
	rs, err := rules.LoadFile(rulesPath)
	require.NoError(t, err)
	rs = append(rs, model.Rule{ID: 3, Name: "energia", OperationKind: model.OperationDebit, MatchKind: model.MatchContains, Pattern: "ENERGIA", TargetAccountID: 9999, Active: true})
	require.NoError(t, rules.SaveFile(rulesPath, rs))

	out, err = runConcilia(t, "rules", "validate", "-C", dir)
	assert.ErrorContains(t, err, "1 rule problem(s)")
	assert.Contains(t, out, "rule 3: STALE_ACCOUNT_REFERENCE")
}

func TestRulesTest(t *testing.T) {
	dir := newProject(t)

	out, err := runConcilia(t, "rules", "test", "TARIFA PACOTE SERVICOS", "--kind", "DEBIT", "-C", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "rule 1 -> account 5030 Alimentação (auto)")
	assert.Contains(t, out, "narrative: Tarifas bancárias")

	out, err = runConcilia(t, "rules", "test", "PIX RECEBIDO", "--amount", "150", "-C", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "rule 2 -> account 4010 Receita de Serviços (suggest)")

	out, err = runConcilia(t, "rules", "test", "PIX RECEBIDO", "-C", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "no rule matched")

	_, err = runConcilia(t, "rules", "test", "PIX", "--kind", "SIDEWAYS", "-C", dir)
	assert.ErrorContains(t, err, "invalid kind")
}

func TestRulesTest_StaleTargetMatchesImport(t *testing.T) {
	dir := newProject(t)
	rulesPath := filepath.Join(dir, "rules", "reconciliation-rules.yaml")
	rs, err := rules.LoadFile(rulesPath)
	require.NoError(t, err)
	rs = append(rs, model.Rule{ID: 3, Name: "energia", OperationKind: model.OperationDebit, MatchKind: model.MatchContains, Pattern: "ENERGIA", TargetAccountID: 9999, AutoApply: true, Priority: 20, Active: true})
	require.NoError(t, rules.SaveFile(rulesPath, rs))

	out, err := runConcilia(t, "rules", "test", "PAG BOLETO ENERGIA", "--kind", "DEBIT", "-C", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "rule 3 -> account 9999 (suggest, stale account)")
	assert.Contains(t, out, "rule 3: STALE_ACCOUNT_REFERENCE: target account 9999 does not exist")
	assert.NotContains(t, out, "(auto)")
}

func TestRulesReorder(t *testing.T) {
	dir := newProject(t)
	_, err := runConcilia(t, "rules", "reorder", "2", "-C", dir)
	require.NoError(t, err)

	rs, err := rules.LoadFile(filepath.Join(dir, "rules", "reconciliation-rules.yaml"))
	require.NoError(t, err)
	prio := map[int]int{}
	for _, r := range rs {
		prio[r.ID] = r.Priority
	}
	assert.Equal(t, 20, prio[2])
	assert.Equal(t, 10, prio[1])

	out, err := runConcilia(t, "rules", "list", "-C", dir)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[1], "2 "))
	assert.Contains(t, lines[1], "4010 Receita de Serviços")

	_, err = runConcilia(t, "rules", "reorder", "7", "-C", dir)
	assert.ErrorContains(t, err, "unknown rule id 7")
}

func TestTemplates(t *testing.T) {
	dir := newProject(t)
	out, err := runConcilia(t, "templates", "-C", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "csv-br")
	assert.Contains(t, out, "ofx-name")

	_, err = runConcilia(t, "templates", "apply", "itau-cc", "ofx-name", "-C", dir)
	require.NoError(t, err)

	cfg, err := config.Load(filepath.Join(dir, config.FileName))
	require.NoError(t, err)
	acct, ok := cfg.Account("itau-cc")
	require.True(t, ok)
	assert.Equal(t, "ofx-name", acct.Template)
	assert.Equal(t, "NAME", acct.FieldMap.Source(model.FieldDescription))

	_, err = runConcilia(t, "templates", "apply", "itau-cc", "nope", "-C", dir)
	assert.ErrorContains(t, err, `unknown template "nope"`)
}
