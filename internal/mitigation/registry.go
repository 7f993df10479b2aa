package mitigation

import (
	"context"
	"errors"
	"fmt"

	"guildlink/internal/models"
)

var (
	ErrNoHandler        = errors.New("issue type has no mitigation handler")
	ErrUnknownIssueType = errors.New("unknown issue type")
	ErrNotOpen          = errors.New("issue is already resolved")
	// ErrChatUnavailable is wrapped by chat platform clients when the platform
	// cannot be reached. Handlers treat it as a recoverable failure.
	ErrChatUnavailable = errors.New("chat platform unavailable")
)

// Outcome is what a handler did with an issue.
type Outcome struct {
	Resolved   bool
	Resolution string
}

func resolved(resolution string) Outcome {
	return Outcome{Resolved: true, Resolution: resolution}
}

var leftOpen = Outcome{}

type Handler interface {
	Mitigate(ctx context.Context, issue models.AuditIssue) (Outcome, error)
}

type HandlerFunc func(ctx context.Context, issue models.AuditIssue) (Outcome, error)

func (f HandlerFunc) Mitigate(ctx context.Context, issue models.AuditIssue) (Outcome, error) {
	return f(ctx, issue)
}

// Rule describes how an issue type is mitigated.
type Rule struct {
	Type         models.IssueType
	Severity     models.Severity
	AutoMitigate bool
	// Handler is nil for flag-only issue types.
	Handler Handler
}

// Registry maps issue types to their mitigation rule.
type Registry struct {
	rules map[models.IssueType]Rule
}

// NewRegistry validates and indexes rules. Auto-mitigated rules need a handler.
func NewRegistry(rules ...Rule) (*Registry, error) {
	known := make(map[models.IssueType]bool, len(models.AllIssueTypes))
	for _, t := range models.AllIssueTypes {
		known[t] = true
	}

	r := &Registry{rules: make(map[models.IssueType]Rule, len(rules))}
	for _, rule := range rules {
		if !known[rule.Type] {
			return nil, fmt.Errorf("%w: %q", ErrUnknownIssueType, rule.Type)
		}
		if _, dup := r.rules[rule.Type]; dup {
			return nil, fmt.Errorf("duplicate mitigation rule for %s", rule.Type)
		}
		if rule.AutoMitigate && rule.Handler == nil {
			return nil, fmt.Errorf("auto-mitigated rule %s has no handler", rule.Type)
		}
		r.rules[rule.Type] = rule
	}
	return r, nil
}

func (r *Registry) Rule(t models.IssueType) (Rule, bool) {
	rule, ok := r.rules[t]
	return rule, ok
}

// AutoTypes lists the auto-mitigated issue types in catalogue order.
func (r *Registry) AutoTypes() []models.IssueType {
	var out []models.IssueType
	for _, t := range models.AllIssueTypes {
		if rule, ok := r.rules[t]; ok && rule.AutoMitigate {
			out = append(out, t)
		}
	}
	return out
}

// DefaultRules builds the rule table for every issue type.
func DefaultRules(h *Handlers) ([]Rule, error) {
	rules := make([]Rule, 0, len(models.AllIssueTypes))
	for _, t := range models.AllIssueTypes {
		var rule Rule
		switch t {
		case models.IssueNoteMismatch:
			rule = Rule{Severity: models.SeverityWarning, AutoMitigate: true, Handler: HandlerFunc(h.NoteMismatch)}
		case models.IssueOrphanCharacter:
			rule = Rule{Severity: models.SeverityWarning, Handler: HandlerFunc(h.OrphanCharacter)}
		case models.IssueOrphanChatAccount:
			rule = Rule{Severity: models.SeverityWarning, Handler: HandlerFunc(h.OrphanChatAccount)}
		case models.IssueRoleMismatch, models.IssueNoGuildRole:
			rule = Rule{Severity: models.SeverityWarning, Handler: HandlerFunc(h.SyncRole)}
		case models.IssueStaleCharacter, models.IssueLowConfidenceMatch:
			rule = Rule{Severity: models.SeverityInfo}
		case models.IssueLinkContradictsNote, models.IssueStaleChatLink:
			rule = Rule{Severity: models.SeverityWarning}
		case models.IssueDuplicateChatLink:
			rule = Rule{Severity: models.SeverityError}
		default:
			return nil, fmt.Errorf("%w: %q has no rule", ErrUnknownIssueType, t)
		}
		rule.Type = t
		rules = append(rules, rule)
	}
	return rules, nil
}
