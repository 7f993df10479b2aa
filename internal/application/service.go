package application

import (
	"context"

	"guildlink/internal/integrity"
	"guildlink/internal/matching"
	"guildlink/internal/mitigation"
	"guildlink/internal/repository"
)

type Logger interface {
	Error(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Info(format string, v ...interface{})
	Debug(format string, v ...interface{})
}

// Options configures the engine built by NewService.
type Options struct {
	Thresholds matching.Thresholds
	Matching   matching.Options
	Integrity  integrity.Config
	// Roles may be nil; role issues then stay open.
	Roles mitigation.RoleManager
}

// Service exposes the engine entry points invoked after external syncs.
type Service struct {
	repos    *repository.Repository
	runner   *matching.Runner
	checker  *integrity.Checker
	engine   *mitigation.Engine
	drift    *DriftScanner
	matching matching.Options
	logger   Logger
}

func NewService(repos *repository.Repository, opts Options, logger Logger) (*Service, error) {
	extractor := matching.NewRegexExtractor()
	resolver := matching.NewResolver(opts.Thresholds)

	if opts.Integrity.MinRankLevel == 0 {
		opts.Integrity.MinRankLevel = opts.Matching.MinRankLevel
	}
	opts.Integrity.Thresholds = resolver.Thresholds()
	checker := integrity.NewChecker(repos, extractor, opts.Integrity, logger)

	handlers := mitigation.NewHandlers(repos, extractor, resolver, opts.Roles, opts.Integrity.RankRoles, logger)
	rules, err := mitigation.DefaultRules(handlers)
	if err != nil {
		return nil, err
	}
	registry, err := mitigation.NewRegistry(rules...)
	if err != nil {
		return nil, err
	}
	engine := mitigation.NewEngine(registry, repos.Issues, logger)

	return &Service{
		repos:    repos,
		runner:   matching.NewRunner(repos, extractor, resolver, logger),
		checker:  checker,
		engine:   engine,
		drift:    NewDriftScanner(repos, extractor, resolver, checker, engine, logger),
		matching: opts.Matching,
		logger:   logger,
	}, nil
}

// RunMatchingRules links unlinked characters. Zero fields of opts fall back
// to the configured matching options.
func (s *Service) RunMatchingRules(ctx context.Context, opts matching.Options) (*matching.Result, error) {
	if opts.MinRankLevel == 0 {
		opts.MinRankLevel = s.matching.MinRankLevel
	}
	if opts.MaxPasses == 0 {
		opts.MaxPasses = s.matching.MaxPasses
	}
	return s.runner.Run(ctx, opts)
}

func (s *Service) RunIntegrityCheck(ctx context.Context) (*integrity.Report, error) {
	return s.checker.RunIntegrityCheck(ctx)
}

func (s *Service) RunAutoMitigations(ctx context.Context) (mitigation.BatchResult, error) {
	return s.engine.RunAutoMitigations(ctx)
}

func (s *Service) RunDriftScan(ctx context.Context) (*DriftReport, error) {
	return s.drift.Scan(ctx)
}

// Mitigate runs the handler of one issue on behalf of an administrator.
func (s *Service) Mitigate(ctx context.Context, issueID int64, actor string) (mitigation.Outcome, error) {
	return s.engine.Mitigate(ctx, issueID, actor)
}

func (s *Service) Dismiss(ctx context.Context, issueID int64, actor, resolution string) error {
	return s.engine.Dismiss(ctx, issueID, actor, resolution)
}
