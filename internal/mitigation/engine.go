package mitigation

import (
	"context"
	"errors"
	"fmt"

	"guildlink/internal/models"
	"guildlink/internal/monitoring"
	"guildlink/internal/repository"
)

// BatchResult tallies one auto-mitigation batch.
type BatchResult struct {
	Processed int `json:"processed"`
	Resolved  int `json:"resolved"`
	Failed    int `json:"failed"`
	Open      int `json:"open"`
}

// Engine dispatches open issues to the handlers of their registry rule.
type Engine struct {
	registry *Registry
	issues   repository.Issue
	logger   Logger
}

func NewEngine(registry *Registry, issues repository.Issue, logger Logger) *Engine {
	return &Engine{registry: registry, issues: issues, logger: logger}
}

func (e *Engine) Registry() *Registry {
	return e.registry
}

// RunAutoMitigations handles every open issue whose rule is auto-mitigated,
// oldest first. A failing or panicking handler is counted and skipped.
func (e *Engine) RunAutoMitigations(ctx context.Context) (BatchResult, error) {
	var result BatchResult

	types := e.registry.AutoTypes()
	if len(types) == 0 {
		return result, nil
	}
	issues, err := e.issues.ListOpen(ctx, types...)
	if err != nil {
		return result, fmt.Errorf("failed to load open issues: %w", err)
	}

	for _, issue := range issues {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		rule, _ := e.registry.Rule(issue.IssueType)
		result.Processed++

		outcome, err := e.invoke(ctx, rule, issue)
		if err != nil {
			result.Failed++
			monitoring.Mitigations.WithLabelValues(string(issue.IssueType), "failed").Inc()
			e.logger.Warn("mitigation of issue %d (%s) failed: %v", issue.ID, issue.IssueType, err)
			continue
		}
		if !outcome.Resolved {
			result.Open++
			monitoring.Mitigations.WithLabelValues(string(issue.IssueType), "open").Inc()
			continue
		}

		if err := e.issues.Resolve(ctx, issue.ID, models.ResolvedByMitigation, outcome.Resolution); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				e.logger.Debug("issue %d was resolved concurrently", issue.ID)
				continue
			}
			result.Failed++
			monitoring.Mitigations.WithLabelValues(string(issue.IssueType), "failed").Inc()
			e.logger.Warn("failed to resolve issue %d: %v", issue.ID, err)
			continue
		}
		result.Resolved++
		monitoring.Mitigations.WithLabelValues(string(issue.IssueType), "resolved").Inc()
		e.logger.Info("issue %d (%s) resolved: %s", issue.ID, issue.IssueType, outcome.Resolution)
	}

	e.logger.Info("auto-mitigation processed %d issues: %d resolved, %d failed, %d left open",
		result.Processed, result.Resolved, result.Failed, result.Open)
	return result, nil
}

// Mitigate runs the handler of a single issue on behalf of actor, regardless
// of the rule's auto flag.
func (e *Engine) Mitigate(ctx context.Context, issueID int64, actor string) (Outcome, error) {
	issue, err := e.issues.GetByID(ctx, issueID)
	if err != nil {
		return leftOpen, err
	}
	if !issue.IsOpen() {
		return leftOpen, ErrNotOpen
	}

	rule, ok := e.registry.Rule(issue.IssueType)
	if !ok {
		return leftOpen, fmt.Errorf("%w: %q", ErrUnknownIssueType, issue.IssueType)
	}
	if rule.Handler == nil {
		return leftOpen, fmt.Errorf("%w: %s", ErrNoHandler, issue.IssueType)
	}

	outcome, err := e.invoke(ctx, rule, *issue)
	if err != nil {
		monitoring.Mitigations.WithLabelValues(string(issue.IssueType), "failed").Inc()
		return leftOpen, err
	}
	if !outcome.Resolved {
		monitoring.Mitigations.WithLabelValues(string(issue.IssueType), "open").Inc()
		return outcome, nil
	}

	if err := e.issues.Resolve(ctx, issue.ID, actor, outcome.Resolution); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return leftOpen, ErrNotOpen
		}
		return leftOpen, err
	}
	monitoring.Mitigations.WithLabelValues(string(issue.IssueType), "resolved").Inc()
	e.logger.Info("issue %d resolved by %s: %s", issue.ID, actor, outcome.Resolution)
	return outcome, nil
}

// Dismiss closes an issue without running a handler.
func (e *Engine) Dismiss(ctx context.Context, issueID int64, actor, resolution string) error {
	if resolution == "" {
		resolution = "dismissed"
	}
	if err := e.issues.Resolve(ctx, issueID, actor, resolution); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("issue %d: %w", issueID, ErrNotOpen)
		}
		return err
	}
	return nil
}

func (e *Engine) invoke(ctx context.Context, rule Rule, issue models.AuditIssue) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome, err = leftOpen, fmt.Errorf("handler panic: %v", r)
		}
	}()
	return rule.Handler.Mitigate(ctx, issue)
}
