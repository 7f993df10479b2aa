package matching

import (
	"context"
)

const NoteGroupRuleName = "note_group"

// NoteGroupRule links groups of unlinked characters sharing a note key to
// the player of the chat account the key resolves to, or to a stub player.
type NoteGroupRule struct {
	linker   *Linker
	resolver *Resolver
	logger   Logger
}

func NewNoteGroupRule(linker *Linker, resolver *Resolver, logger Logger) *NoteGroupRule {
	return &NoteGroupRule{linker: linker, resolver: resolver, logger: logger}
}

func (r *NoteGroupRule) Name() string { return NoteGroupRuleName }

func (r *NoteGroupRule) Order() int { return 10 }

func (r *NoteGroupRule) Run(ctx context.Context, mc *Context) (Stats, error) {
	var st Stats
	for _, key := range mc.Keys() {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		chars := mc.Keyed[key]
		res := r.resolver.Resolve(key, mc.GroupHints(chars), mc.Accounts)

		switch {
		case res.Account != nil:
			r.logger.Debug("note key %q resolved to %s via %s", key, res.Account.Username, res.Via)
			st.Add(r.linker.LinkToAccount(ctx, r.Name(), mc, key, *res.Account, chars))

		case res.Suggestion != nil:
			for _, c := range chars {
				if err := r.linker.Suggest(ctx, r.Name(), c, *res.Suggestion, res.Score); err != nil {
					r.logger.Warn("%v", err)
					st.Failed++
					continue
				}
				st.Suggestions++
			}
			st.Skipped += len(chars)

		case res.Ambiguous:
			r.logger.Info("note key %q matches several chat accounts, skipped", key)
			st.Skipped += len(chars)

		default:
			if playerID, ok := mc.Players.ByKey(key); ok {
				st.Add(r.linker.LinkToPlayer(ctx, r.Name(), playerID, chars))
				continue
			}
			st.Add(r.linker.CreateStub(ctx, r.Name(), mc, key, chars))
		}
	}
	return st, nil
}
