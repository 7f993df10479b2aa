package matching

import (
	"context"

	"guildlink/internal/models"
)

const NameMatchRuleName = "name_match"

// NameMatchRule links characters without a note key by matching the
// character name against chat usernames and display names. It never
// creates stubs.
type NameMatchRule struct {
	linker   *Linker
	resolver *Resolver
	logger   Logger
}

func NewNameMatchRule(linker *Linker, resolver *Resolver, logger Logger) *NameMatchRule {
	return &NameMatchRule{linker: linker, resolver: resolver, logger: logger}
}

func (r *NameMatchRule) Name() string { return NameMatchRuleName }

func (r *NameMatchRule) Order() int { return 20 }

func (r *NameMatchRule) Run(ctx context.Context, mc *Context) (Stats, error) {
	var st Stats
	for _, c := range mc.Keyless {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		key := NormalizeName(c.Name)
		res := r.resolver.Resolve(key, nil, mc.Accounts)

		if res.Account != nil {
			r.logger.Debug("character %s matched %s via %s (%.2f)", c.Name, res.Account.Username, res.Via, res.Score)
			st.Add(r.linker.LinkToAccount(ctx, r.Name(), mc, key, *res.Account, []models.Character{c}))
			continue
		}

		if res.Suggestion != nil {
			if err := r.linker.Suggest(ctx, r.Name(), c, *res.Suggestion, res.Score); err != nil {
				r.logger.Warn("%v", err)
				st.Failed++
			} else {
				st.Suggestions++
			}
		}
		st.Skipped++
	}
	return st, nil
}
