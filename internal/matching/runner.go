package matching

import (
	"context"
	"fmt"

	"guildlink/internal/models"
	"guildlink/internal/monitoring"
	"guildlink/internal/repository"
)

const DefaultMaxPasses = 5

type Options struct {
	// MinRankLevel excludes characters ranked below this level.
	MinRankLevel int
	// MaxPasses caps the number of passes. Zero means DefaultMaxPasses.
	MaxPasses int
}

type Result struct {
	Passes         int              `json:"passes"`
	Converged      bool             `json:"converged"`
	Totals         Stats            `json:"totals"`
	Rules          map[string]Stats `json:"rules"`
	UnlinkedBefore int              `json:"unlinked_before"`
	UnlinkedAfter  int              `json:"unlinked_after"`
}

// Runner executes the matching rules pass after pass until nothing changes.
type Runner struct {
	repos     *repository.Repository
	extractor NoteExtractor
	rules     []Rule
	logger    Logger
}

// DefaultRules returns the note group and name match rules.
func DefaultRules(linker *Linker, resolver *Resolver, logger Logger) []Rule {
	return []Rule{
		NewNoteGroupRule(linker, resolver, logger),
		NewNameMatchRule(linker, resolver, logger),
	}
}

// NewRunner builds a runner. Without explicit rules the default rules are used.
func NewRunner(repos *repository.Repository, extractor NoteExtractor, resolver *Resolver, logger Logger, rules ...Rule) *Runner {
	if len(rules) == 0 {
		rules = DefaultRules(NewLinker(repos.Players, repos.Issues, logger), resolver, logger)
	}
	sorted := append([]Rule(nil), rules...)
	sortRules(sorted)
	return &Runner{
		repos:     repos,
		extractor: extractor,
		rules:     sorted,
		logger:    logger,
	}
}

// LoadContext snapshots unlinked characters, present chat accounts and the
// existing-player lookups.
func (r *Runner) LoadContext(ctx context.Context, minRankLevel int) (*Context, error) {
	chars, err := r.repos.Characters.ListUnlinked(ctx, minRankLevel)
	if err != nil {
		return nil, err
	}
	accounts, err := r.repos.ChatAccounts.List(ctx)
	if err != nil {
		return nil, err
	}
	players, err := r.repos.Players.List(ctx)
	if err != nil {
		return nil, err
	}
	linked, err := r.repos.Characters.ListLinked(ctx)
	if err != nil {
		return nil, err
	}

	cache := repository.NewPlayerCache()
	cache.LoadAll(players)
	for _, lc := range linked {
		cache.SetKey(CharacterNoteKey(r.extractor, lc.Character), lc.PlayerID)
		cache.SetKey(NormalizeName(lc.Name), lc.PlayerID)
	}

	mc := &Context{
		Keyed:    make(map[string][]models.Character),
		Hints:    make(map[int64][]Hint, len(chars)),
		Accounts: accounts,
		Players:  cache,
	}
	for _, c := range chars {
		mc.Hints[c.ID] = CharacterHints(r.extractor, c)
		if key := CharacterNoteKey(r.extractor, c); key != "" {
			mc.Keyed[key] = append(mc.Keyed[key], c)
		} else {
			mc.Keyless = append(mc.Keyless, c)
		}
	}
	return mc, nil
}

// Run executes passes until a pass changes nothing or MaxPasses is reached.
// Every pass only shrinks the unlinked set.
func (r *Runner) Run(ctx context.Context, opts Options) (*Result, error) {
	maxPasses := opts.MaxPasses
	if maxPasses <= 0 {
		maxPasses = DefaultMaxPasses
	}

	res := &Result{Rules: make(map[string]Stats, len(r.rules))}
	for pass := 1; pass <= maxPasses; pass++ {
		mc, err := r.LoadContext(ctx, opts.MinRankLevel)
		if err != nil {
			return res, fmt.Errorf("failed to load matching context: %w", err)
		}
		if pass == 1 {
			res.UnlinkedBefore = mc.Unlinked()
		}
		res.UnlinkedAfter = mc.Unlinked()
		if mc.Unlinked() == 0 {
			res.Converged = true
			break
		}

		res.Passes = pass
		changed := false
		for _, rule := range r.rules {
			st, err := rule.Run(ctx, mc)
			if err != nil {
				return res, fmt.Errorf("rule %s failed: %w", rule.Name(), err)
			}
			ruleStats := res.Rules[rule.Name()]
			ruleStats.Add(st)
			res.Rules[rule.Name()] = ruleStats
			res.Totals.Add(st)
			changed = changed || st.Changed()
		}

		r.logger.Debug("matching pass %d: %+v", pass, res.Totals)
		if !changed {
			res.Converged = true
			break
		}
	}

	if !res.Converged {
		chars, err := r.repos.Characters.ListUnlinked(ctx, opts.MinRankLevel)
		if err != nil {
			return res, fmt.Errorf("failed to count unlinked characters: %w", err)
		}
		res.UnlinkedAfter = len(chars)
	}

	monitoring.MatchingPasses.Observe(float64(res.Passes))
	r.logger.Info("matching finished after %d passes (converged=%t): created=%d linked=%d stubs=%d skipped=%d",
		res.Passes, res.Converged, res.Totals.PlayersCreated, res.Totals.CharsLinked, res.Totals.StubsCreated, res.Totals.Skipped)
	return res, nil
}
