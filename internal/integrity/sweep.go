package integrity

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"guildlink/internal/models"
	"guildlink/internal/monitoring"
	"guildlink/internal/repository"
)

var sweptTypes = []models.IssueType{
	models.IssueOrphanCharacter,
	models.IssueOrphanChatAccount,
	models.IssueStaleCharacter,
	models.IssueLowConfidenceMatch,
}

// AutoResolve closes open orphan, stale and suggestion issues whose
// condition no longer holds.
func (c *Checker) AutoResolve(ctx context.Context) (map[models.IssueType]int, error) {
	resolved := make(map[models.IssueType]int)
	issues, err := c.repos.Issues.ListOpen(ctx, sweptTypes...)
	if err != nil {
		return resolved, fmt.Errorf("failed to list open issues: %w", err)
	}

	for _, issue := range issues {
		reason, err := c.clearedReason(ctx, issue)
		if err != nil {
			c.logger.Warn("failed to re-check issue %d: %v", issue.ID, err)
			continue
		}
		if reason == "" {
			continue
		}
		if err := c.repos.Issues.Resolve(ctx, issue.ID, models.ResolvedBySweep, reason); err != nil {
			if !errors.Is(err, repository.ErrNotFound) {
				c.logger.Warn("failed to auto-resolve issue %d: %v", issue.ID, err)
			}
			continue
		}
		resolved[issue.IssueType]++
		monitoring.IssuesAutoResolved.WithLabelValues(string(issue.IssueType)).Inc()
		c.logger.Debug("auto-resolved %s issue %d: %s", issue.IssueType, issue.ID, reason)
	}
	return resolved, nil
}

// clearedReason returns why an issue no longer applies, "" when it still does.
func (c *Checker) clearedReason(ctx context.Context, issue models.AuditIssue) (string, error) {
	switch issue.IssueType {
	case models.IssueOrphanCharacter, models.IssueLowConfidenceMatch:
		if issue.CharacterID == nil {
			return "no_target", nil
		}
		return c.characterCleared(ctx, *issue.CharacterID, false)

	case models.IssueStaleCharacter:
		if issue.CharacterID == nil {
			return "no_target", nil
		}
		return c.characterCleared(ctx, *issue.CharacterID, true)

	case models.IssueOrphanChatAccount:
		if issue.ChatAccountID == nil {
			return "no_target", nil
		}
		return c.chatAccountCleared(ctx, *issue.ChatAccountID)
	}
	return "", nil
}

func (c *Checker) characterCleared(ctx context.Context, characterID int64, staleness bool) (string, error) {
	ch, err := c.repos.Characters.GetByID(ctx, characterID)
	if errors.Is(err, repository.ErrNotFound) {
		return "character_removed", nil
	}
	if err != nil {
		return "", err
	}
	if ch.IsRemoved() {
		return "character_removed", nil
	}

	if staleness {
		if !c.isStale(*ch) {
			return "recent_login", nil
		}
		return "", nil
	}

	_, err = c.repos.Players.GetByCharacter(ctx, characterID)
	switch {
	case err == nil:
		return "linked", nil
	case errors.Is(err, repository.ErrNotFound):
		return "", nil
	default:
		return "", err
	}
}

func (c *Checker) chatAccountCleared(ctx context.Context, accountID int64) (string, error) {
	account, err := c.repos.ChatAccounts.GetByID(ctx, accountID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && !account.IsPresent) {
		return "account_gone", nil
	}
	if err != nil {
		return "", err
	}

	holders, err := c.repos.Players.ListByChatAccount(ctx, accountID)
	if err != nil {
		return "", err
	}
	if len(holders) > 0 {
		return "linked", nil
	}
	if !account.HasGuildRole() {
		return "role_removed", nil
	}
	return "", nil
}

func sortedAccounts(m map[int64]models.ChatAccount) []models.ChatAccount {
	out := make([]models.ChatAccount, 0, len(m))
	for _, a := range m {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortedPlayers(m map[int64]models.Player) []models.Player {
	out := make([]models.Player, 0, len(m))
	for _, p := range m {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
