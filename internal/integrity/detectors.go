package integrity

import (
	"context"
	"fmt"
	"strings"

	"guildlink/internal/models"
)

// DetectNoteMismatches raises note_mismatch for linked characters whose
// current note no longer identifies their player's chat account.
func (c *Checker) DetectNoteMismatches(ctx context.Context) (Counts, error) {
	var counts Counts
	s, err := c.loadSnapshot(ctx)
	if err != nil {
		return counts, fmt.Errorf("failed to load links: %w", err)
	}

	for _, lc := range s.linked {
		account, ok := s.chatAccountOf(lc.PlayerID)
		if !ok {
			continue
		}
		check := c.verifier.Verify(lc.Character, account, s.owned[lc.PlayerID], s.accountList)
		if !check.Checkable() || check.Matches {
			continue
		}

		charID, playerID, accountID := lc.ID, lc.PlayerID, account.ID
		c.raise(ctx, models.IssueDraft{
			IssueType:     models.IssueNoteMismatch,
			Severity:      models.SeverityWarning,
			CharacterID:   &charID,
			ChatAccountID: &accountID,
			PlayerID:      &playerID,
			Summary: fmt.Sprintf("note of %s (%q) no longer matches chat account %s",
				characterLabel(lc.Character), check.Key, account.Username),
			Details: map[string]any{
				"note_key":          check.Key,
				"guild_note":        lc.GuildNote,
				"officer_note":      lc.OfficerNote,
				"chat_username":     account.Username,
				"chat_display_name": account.DisplayName,
			},
			Hash: models.IssueHash(models.IssueNoteMismatch, lc.ID, lc.PlayerID, check.Key),
		}, &counts)
	}
	return counts, nil
}

// DetectOrphanCharacters raises orphan_character for ranked characters without a player.
func (c *Checker) DetectOrphanCharacters(ctx context.Context) (Counts, error) {
	var counts Counts
	chars, err := c.repos.Characters.ListUnlinked(ctx, c.cfg.MinRankLevel)
	if err != nil {
		return counts, fmt.Errorf("failed to list unlinked characters: %w", err)
	}

	for _, ch := range chars {
		if !ch.HasRank() {
			continue
		}
		charID := ch.ID
		c.raise(ctx, models.IssueDraft{
			IssueType:   models.IssueOrphanCharacter,
			Severity:    models.SeverityWarning,
			CharacterID: &charID,
			Summary:     fmt.Sprintf("character %s (%s) is not linked to a player", characterLabel(ch), ch.RankName),
			Details: map[string]any{
				"character":  ch.Name,
				"realm":      ch.Realm,
				"rank":       ch.RankName,
				"guild_note": ch.GuildNote,
			},
			Hash: models.IssueHash(models.IssueOrphanCharacter, ch.ID),
		}, &counts)
	}
	return counts, nil
}

// DetectOrphanChatAccounts raises orphan_chat_account for present accounts
// holding a guild role that no player references.
func (c *Checker) DetectOrphanChatAccounts(ctx context.Context) (Counts, error) {
	var counts Counts
	s, err := c.loadSnapshot(ctx)
	if err != nil {
		return counts, fmt.Errorf("failed to load links: %w", err)
	}

	for _, a := range sortedAccounts(s.accounts) {
		if !a.IsPresent || !a.HasGuildRole() || len(s.holders[a.ID]) > 0 {
			continue
		}
		accountID := a.ID
		c.raise(ctx, models.IssueDraft{
			IssueType:     models.IssueOrphanChatAccount,
			Severity:      models.SeverityWarning,
			ChatAccountID: &accountID,
			Summary:       fmt.Sprintf("chat account %s (%s) is not linked to a player", a.Username, a.HighestRole),
			Details: map[string]any{
				"chat_username":     a.Username,
				"chat_display_name": a.DisplayName,
				"highest_role":      a.HighestRole,
				"platform_id":       a.PlatformID,
			},
			Hash: models.IssueHash(models.IssueOrphanChatAccount, a.ID),
		}, &counts)
	}
	return counts, nil
}

// DetectRoleIssues compares, per player, the chat role expected for the
// highest rank level across its linked live characters with the highest
// chat role actually held. It returns role_mismatch and no_guild_role counts.
func (c *Checker) DetectRoleIssues(ctx context.Context) (Counts, Counts, error) {
	var mismatch, noRole Counts
	s, err := c.loadSnapshot(ctx)
	if err != nil {
		return mismatch, noRole, fmt.Errorf("failed to load links: %w", err)
	}

	for _, p := range sortedPlayers(s.players) {
		account, ok := s.chatAccountOf(p.ID)
		if !ok || !account.IsPresent {
			continue
		}
		top, ok := HighestRanked(s.owned[p.ID])
		if !ok {
			continue
		}
		expected := c.ExpectedRole(top.RankName)
		if expected == "" {
			continue
		}

		playerID, accountID := p.ID, account.ID
		details := map[string]any{
			"expected_role": expected,
			"actual_role":   account.HighestRole,
			"rank":          top.RankName,
			"rank_level":    top.RankLevel,
			"character":     top.Name,
			"platform_id":   account.PlatformID,
		}

		switch {
		case account.HighestRole == "":
			c.raise(ctx, models.IssueDraft{
				IssueType:     models.IssueNoGuildRole,
				Severity:      models.SeverityWarning,
				ChatAccountID: &accountID,
				PlayerID:      &playerID,
				Summary:       fmt.Sprintf("%s has no guild role, expected %s", account.Username, expected),
				Details:       details,
				Hash:          models.IssueHash(models.IssueNoGuildRole, p.ID, expected),
			}, &noRole)
		case !strings.EqualFold(account.HighestRole, expected):
			c.raise(ctx, models.IssueDraft{
				IssueType:     models.IssueRoleMismatch,
				Severity:      models.SeverityWarning,
				ChatAccountID: &accountID,
				PlayerID:      &playerID,
				Summary: fmt.Sprintf("%s holds %s, expected %s for rank %s",
					account.Username, account.HighestRole, expected, top.RankName),
				Details: details,
				Hash:    models.IssueHash(models.IssueRoleMismatch, p.ID, expected, account.HighestRole),
			}, &mismatch)
		}
	}
	return mismatch, noRole, nil
}

// DetectStaleCharacters raises stale_character for characters whose last
// login is older than the staleness window.
func (c *Checker) DetectStaleCharacters(ctx context.Context) (Counts, error) {
	var counts Counts
	chars, err := c.repos.Characters.ListActive(ctx)
	if err != nil {
		return counts, fmt.Errorf("failed to list characters: %w", err)
	}

	now := c.now()
	for _, ch := range chars {
		if !c.isStale(ch) {
			continue
		}
		charID := ch.ID
		days := int(now.Sub(*ch.LastLoginAt).Hours() / 24)
		c.raise(ctx, models.IssueDraft{
			IssueType:   models.IssueStaleCharacter,
			Severity:    models.SeverityInfo,
			CharacterID: &charID,
			Summary:     fmt.Sprintf("%s has not logged in for %d days", characterLabel(ch), days),
			Details: map[string]any{
				"character":     ch.Name,
				"realm":         ch.Realm,
				"last_login_at": ch.LastLoginAt.UTC().Format("2006-01-02T15:04:05Z"),
			},
			Hash: models.IssueHash(models.IssueStaleCharacter, ch.ID),
		}, &counts)
	}
	return counts, nil
}

func (c *Checker) isStale(ch models.Character) bool {
	return ch.LastLoginAt != nil && c.now().Sub(*ch.LastLoginAt) > c.cfg.StaleAfter
}

// ExpectedRole returns the chat role granted by a rank, "" when unmapped.
func (c *Checker) ExpectedRole(rankName string) string {
	return ExpectedRole(c.cfg.RankRoles, rankName)
}

func ExpectedRole(rankRoles map[string]string, rankName string) string {
	return rankRoles[strings.ToLower(strings.TrimSpace(rankName))]
}

// HighestRanked returns the ranked character with the highest rank level.
func HighestRanked(chars []models.Character) (models.Character, bool) {
	var (
		best  models.Character
		found bool
	)
	for _, ch := range chars {
		if !ch.HasRank() || ch.IsRemoved() {
			continue
		}
		if !found || ch.RankLevel > best.RankLevel {
			best, found = ch, true
		}
	}
	return best, found
}
