package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/cleared-dev/concilia/internal/accounts"
	"github.com/cleared-dev/concilia/internal/config"
	"github.com/cleared-dev/concilia/internal/importer"
	"github.com/cleared-dev/concilia/internal/model"
	"github.com/cleared-dev/concilia/internal/reconcile"
	"github.com/cleared-dev/concilia/internal/rules"
	"github.com/cleared-dev/concilia/internal/store"
)

// project is an opened concilia project directory.
type project struct {
	root   string
	cfg    *config.Config
	logger *log.Logger
}

func openProject(dir string, logger *log.Logger) (*project, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	cfg, err := config.Load(filepath.Join(root, config.FileName))
	if err != nil {
		return nil, err
	}
	logger.Debug("opened project", "root", root, "accounts", len(cfg.BankAccounts))
	return &project{root: root, cfg: cfg, logger: logger}, nil
}

func (p *project) path(rel string) string {
	return config.Resolve(p.root, rel)
}

// rules loads the project's rule file. A missing file means no rules.
func (p *project) rules() ([]model.Rule, error) {
	rs, err := rules.LoadFile(p.path(p.cfg.Paths.Rules))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return rs, err
}

func (p *project) saveRules(rs []model.Rule) error {
	return rules.SaveFile(p.path(p.cfg.Paths.Rules), rs)
}

func (p *project) chart() (*accounts.Service, error) {
	return accounts.Load(p.path(p.cfg.Paths.Chart))
}

func (p *project) openStore() (*store.SQLite, error) {
	return store.Open(p.path(p.cfg.Paths.Database))
}

// service builds the import pipeline over the project's chart and store.
func (p *project) service(st *store.SQLite) (*reconcile.Service, error) {
	chart, err := p.chart()
	if err != nil {
		return nil, err
	}
	return reconcile.NewService(importer.DefaultRegistry(), chart, st, p.cfg.TemplateSet(), p.logger, reconcile.Options{
		Workers:      p.cfg.Import.Workers,
		ParseTimeout: p.cfg.Import.ParseTimeout,
	}), nil
}

func (p *project) account(id string) (model.BankAccount, error) {
	acct, ok := p.cfg.Account(id)
	if !ok {
		return model.BankAccount{}, fmt.Errorf("unknown bank account %q", id)
	}
	return acct, nil
}
