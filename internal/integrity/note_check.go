package integrity

import (
	"guildlink/internal/matching"
	"guildlink/internal/models"
)

// MatchOwnedCharacter marks a note pointing at another character of the same player.
const MatchOwnedCharacter matching.MatchKind = "owned_character"

// NoteCheck is the result of re-deriving a character's note identity.
type NoteCheck struct {
	Key     string
	Hints   []matching.Hint
	Via     matching.MatchKind
	Matches bool
}

// Checkable reports whether the note carries any identity to verify.
func (n NoteCheck) Checkable() bool {
	return n.Key != "" || len(n.Hints) > 0
}

// NoteVerifier re-validates existing links against current notes with the
// same resolution the matching rules link by.
type NoteVerifier struct {
	extractor matching.NoteExtractor
	resolver  *matching.Resolver
}

func NewNoteVerifier(extractor matching.NoteExtractor, resolver *matching.Resolver) *NoteVerifier {
	return &NoteVerifier{extractor: extractor, resolver: resolver}
}

// Verify checks whether the current notes of c still identify the chat
// account of its player. owned holds the characters of that player and
// accounts the known chat accounts. The note still matches when it names
// another character of the player, when the resolver resolves it to the
// player's account, or when the account names still contain it.
func (v *NoteVerifier) Verify(c models.Character, account models.ChatAccount, owned []models.Character, accounts []models.ChatAccount) NoteCheck {
	check := NoteCheck{
		Key:   matching.CharacterNoteKey(v.extractor, c),
		Hints: matching.CharacterHints(v.extractor, c),
	}
	if !check.Checkable() {
		return check
	}

	names := make(map[string]bool, len(owned))
	for _, o := range owned {
		if o.ID != c.ID {
			names[matching.NormalizeName(o.Name)] = true
		}
	}
	for _, h := range check.Hints {
		if (h.Kind == matching.HintAltOf || h.Kind == matching.HintMain) && names[h.Value] {
			check.Via, check.Matches = MatchOwnedCharacter, true
			return check
		}
	}
	if check.Key != "" && names[check.Key] {
		check.Via, check.Matches = MatchOwnedCharacter, true
		return check
	}

	if res := v.resolver.Resolve(check.Key, check.Hints, accounts); res.Account != nil && res.Account.ID == account.ID {
		check.Via, check.Matches = res.Via, true
		return check
	}

	check.Via, check.Matches = matching.IdentityMatches(check.Key, check.Hints, account)
	return check
}
