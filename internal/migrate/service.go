package migrate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/konflux-ci/pipeline-migration-tool/internal/discovery"
	"github.com/konflux-ci/pipeline-migration-tool/internal/executor"
	"github.com/konflux-ci/pipeline-migration-tool/internal/pipeline"
	"github.com/konflux-ci/pipeline-migration-tool/internal/plan"
	"github.com/konflux-ci/pipeline-migration-tool/internal/registry"
	"github.com/konflux-ci/pipeline-migration-tool/internal/version"
)

const defaultConcurrency = 5

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithConcurrency bounds how many pipeline files are migrated in parallel.
func WithConcurrency(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithDryRun makes Migrate stop after planning, leaving every file and
// every step untouched.
func WithDryRun(dryRun bool) ServiceOption {
	return func(s *Service) { s.dryRun = dryRun }
}

// WithLogger sets the service logger.
func WithLogger(logger zerolog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// Service wires discovery, planning, fetching and execution together behind
// the two entry points the CLI exposes: a single explicit migration and a
// Renovate upgrades batch.
type Service struct {
	client      registry.Client
	scripts     executor.ScriptRunner
	concurrency int
	dryRun      bool
	logger      zerolog.Logger

	mu    sync.Mutex
	plans map[string]*plan.Plan
}

// NewService creates a Service over the given registry client and script
// runner.
func NewService(client registry.Client, scripts executor.ScriptRunner, opts ...ServiceOption) *Service {
	s := &Service{
		client:      client,
		scripts:     scripts,
		concurrency: defaultConcurrency,
		logger:      zerolog.Nop(),
		plans:       make(map[string]*plan.Plan),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Request describes one migration of one pipeline file.
type Request struct {
	// Repo is the task bundle repository, e.g.
	// quay.io/konflux-ci/tekton-catalog/task-init.
	Repo string
	From version.Version
	To   version.Version
	// File is the pipeline definition to migrate.
	File string

	// NewTag and NewDigest, when both set, pin the bundle reference in the
	// file to repo:NewTag@NewDigest after all steps applied.
	NewTag    string
	NewDigest string
}

// Plan builds the migration plan for a request without touching the file.
func (s *Service) Plan(ctx context.Context, repo string, from, to version.Version) (*plan.Plan, error) {
	key := fmt.Sprintf("%s|%s|%s", repo, from, to)

	s.mu.Lock()
	cached, ok := s.plans[key]
	s.mu.Unlock()
	if ok {
		return cached, nil
	}

	builder := plan.NewBuilder(
		discovery.NewIndex(s.client, s.logger),
		discovery.NewSelector(s.client, s.logger),
	)
	p, err := builder.Build(ctx, repo, from, to)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.plans[key] = p
	s.mu.Unlock()
	return p, nil
}

// Migrate plans and executes one request. In dry-run mode the returned
// report carries the plan with every step pending.
func (s *Service) Migrate(ctx context.Context, req Request) (*RunReport, error) {
	p, err := s.Plan(ctx, req.Repo, req.From, req.To)
	if err != nil {
		return nil, err
	}

	def, err := pipeline.Load(req.File)
	if err != nil {
		return nil, err
	}

	if s.dryRun {
		report := newReport(p, def.Path)
		return report, nil
	}

	runner := NewRunner(NewFetcher(s.client, s.logger), s.scripts, s.logger)
	report, err := runner.Execute(ctx, p, def)
	if err != nil {
		return report, err
	}

	if req.NewTag != "" && req.NewDigest != "" {
		if def.UpdateBundleReference(req.Repo, req.NewTag, req.NewDigest) {
			if err := def.Save(); err != nil {
				return report, err
			}
		}
	}
	return report, nil
}

// MigrateUpgrades executes a batch of Renovate upgrades. Upgrades are
// grouped by package file; files are processed concurrently up to the
// configured limit while each file's upgrades run sequentially, since a
// pipeline file is owned by exactly one worker at a time. A failing file
// does not stop the others; the joined error reports every failure.
func (s *Service) MigrateUpgrades(ctx context.Context, upgrades []Upgrade) ([]*RunReport, error) {
	byFile := make(map[string][]Upgrade)
	var files []string
	seen := make(map[string]bool)
	for _, u := range upgrades {
		// The same bundle upgrade can appear once per usage in a file;
		// applying its migrations twice to the same file would double-run
		// the scripts.
		key := u.PackageFile + "|" + u.CurrentBundle() + "|" + u.NewDigest
		if seen[key] {
			continue
		}
		seen[key] = true
		if _, ok := byFile[u.PackageFile]; !ok {
			files = append(files, u.PackageFile)
		}
		byFile[u.PackageFile] = append(byFile[u.PackageFile], u)
	}

	var mu sync.Mutex
	var reports []*RunReport
	var failures []error

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, file := range files {
		fileUpgrades := byFile[file]
		g.Go(func() error {
			for _, u := range fileUpgrades {
				report, err := s.migrateUpgrade(ctx, u)
				mu.Lock()
				if report != nil {
					reports = append(reports, report)
				}
				if err != nil {
					failures = append(failures, fmt.Errorf("%s: %w", u.PackageFile, err))
				}
				mu.Unlock()
				if err != nil {
					// Remaining upgrades of this file would run against a
					// partially migrated document.
					return nil
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		failures = append(failures, err)
	}

	return reports, errors.Join(failures...)
}

func (s *Service) migrateUpgrade(ctx context.Context, u Upgrade) (*RunReport, error) {
	from, err := version.Parse(u.CurrentValue)
	if err != nil {
		return nil, err
	}
	to, err := version.Parse(u.NewValue)
	if err != nil {
		return nil, err
	}
	return s.Migrate(ctx, Request{
		Repo:      u.DepName,
		From:      from,
		To:        to,
		File:      u.PackageFile,
		NewTag:    u.NewValue,
		NewDigest: u.NewDigest,
	})
}
