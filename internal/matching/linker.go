package matching

import (
	"context"
	"errors"
	"fmt"

	"guildlink/internal/models"
	"guildlink/internal/monitoring"
	"guildlink/internal/repository"
)

// Linker performs the writes shared by the matching rules.
type Linker struct {
	players repository.Player
	issues  repository.Issue
	logger  Logger
}

func NewLinker(players repository.Player, issues repository.Issue, logger Logger) *Linker {
	return &Linker{players: players, issues: issues, logger: logger}
}

func characterIDs(chars []models.Character) []int64 {
	ids := make([]int64, len(chars))
	for i, c := range chars {
		ids[i] = c.ID
	}
	return ids
}

// highestRank picks the character with the highest rank level, then lowest id.
func highestRank(chars []models.Character) models.Character {
	best := chars[0]
	for _, c := range chars[1:] {
		if c.RankLevel > best.RankLevel || (c.RankLevel == best.RankLevel && c.ID < best.ID) {
			best = c
		}
	}
	return best
}

// LinkToPlayer links chars to an existing player. Characters linked in the
// meantime are counted as conflicts and left alone.
func (l *Linker) LinkToPlayer(ctx context.Context, rule string, playerID int64, chars []models.Character) Stats {
	var st Stats
	n, err := l.players.LinkCharacters(ctx, playerID, characterIDs(chars))
	if errors.Is(err, repository.ErrNotFound) {
		l.logger.Warn("player %d vanished before linking %d characters", playerID, len(chars))
		st.Skipped += len(chars)
		return st
	}
	if err != nil {
		l.logger.Error("failed to link characters to player %d: %v", playerID, err)
		st.Failed += len(chars)
		return st
	}

	st.CharsLinked += n
	if n < len(chars) {
		l.logger.Warn("%d of %d characters already linked elsewhere, skipped for player %d", len(chars)-n, len(chars), playerID)
		st.Conflicts += len(chars) - n
	}
	monitoring.MatchingLinks.WithLabelValues(rule, "character").Add(float64(n))
	return st
}

// LinkToAccount links chars to the player holding the account, creating
// that player when none exists.
func (l *Linker) LinkToAccount(ctx context.Context, rule string, mc *Context, key string, account models.ChatAccount, chars []models.Character) Stats {
	if playerID, ok := mc.Players.ByChatAccount(account.ID); ok {
		st := l.LinkToPlayer(ctx, rule, playerID, chars)
		mc.Players.SetKey(key, playerID)
		return st
	}

	var st Stats
	accountID := account.ID
	draft := models.PlayerDraft{
		DisplayName:   account.Label(),
		ChatAccountID: &accountID,
		RankID:        highestRank(chars).RankID,
	}
	playerID, n, err := l.players.CreateWithCharacters(ctx, draft, characterIDs(chars))
	if errors.Is(err, repository.ErrConflict) {
		l.logger.Warn("skipped player creation for %s: %v", account.Username, err)
		st.Conflicts += len(chars)
		return st
	}
	if err != nil {
		l.logger.Error("failed to create player for %s: %v", account.Username, err)
		st.Failed += len(chars)
		return st
	}

	mc.Players.SetChatAccount(account.ID, playerID)
	mc.Players.SetKey(key, playerID)
	st.PlayersCreated++
	st.ChatLinked++
	st.CharsLinked += n
	st.Conflicts += len(chars) - n
	l.logger.Debug("created player %d for %s with %d characters", playerID, account.Username, n)

	monitoring.MatchingLinks.WithLabelValues(rule, "player").Inc()
	monitoring.MatchingLinks.WithLabelValues(rule, "chat").Inc()
	monitoring.MatchingLinks.WithLabelValues(rule, "character").Add(float64(n))
	return st
}

// CreateStub creates a player without chat account for chars.
func (l *Linker) CreateStub(ctx context.Context, rule string, mc *Context, key string, chars []models.Character) Stats {
	var st Stats
	head := highestRank(chars)
	draft := models.PlayerDraft{DisplayName: head.Name, RankID: head.RankID}
	playerID, n, err := l.players.CreateWithCharacters(ctx, draft, characterIDs(chars))
	if errors.Is(err, repository.ErrConflict) {
		l.logger.Warn("skipped stub creation for key %q: %v", key, err)
		st.Conflicts += len(chars)
		return st
	}
	if err != nil {
		l.logger.Error("failed to create stub for key %q: %v", key, err)
		st.Failed += len(chars)
		return st
	}

	mc.Players.SetKey(key, playerID)
	st.StubsCreated++
	st.CharsLinked += n
	st.Conflicts += len(chars) - n
	l.logger.Debug("created stub player %d for key %q with %d characters", playerID, key, n)

	monitoring.MatchingLinks.WithLabelValues(rule, "stub").Inc()
	monitoring.MatchingLinks.WithLabelValues(rule, "character").Add(float64(n))
	return st
}

// Suggest raises a low-confidence suggestion for a character instead of linking it.
func (l *Linker) Suggest(ctx context.Context, rule string, c models.Character, account models.ChatAccount, score float64) error {
	charID, accountID := c.ID, account.ID
	_, _, err := l.issues.Upsert(ctx, models.IssueDraft{
		IssueType:     models.IssueLowConfidenceMatch,
		Severity:      models.SeverityInfo,
		CharacterID:   &charID,
		ChatAccountID: &accountID,
		Summary:       fmt.Sprintf("%s-%s may belong to %s (score %.2f)", c.Name, c.Realm, account.Username, score),
		Details: map[string]any{
			"rule":          rule,
			"character":     c.Name,
			"realm":         c.Realm,
			"chat_username": account.Username,
			"score":         score,
		},
		Hash: models.IssueHash(models.IssueLowConfidenceMatch, c.ID, account.ID),
	})
	if err != nil {
		return fmt.Errorf("failed to raise suggestion for %s: %w", c.Name, err)
	}
	return nil
}
