package mitigation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"guildlink/internal/integrity"
	"guildlink/internal/matching"
	"guildlink/internal/models"
	"guildlink/internal/repository"
)

type Logger interface {
	Error(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Info(format string, v ...interface{})
	Debug(format string, v ...interface{})
}

// RoleManager is the chat platform handle used by role mitigation.
type RoleManager interface {
	AddRole(ctx context.Context, platformUserID, roleName string) error
	RemoveRole(ctx context.Context, platformUserID, roleName string) error
}

// Handlers holds the mitigation handlers and their collaborators.
type Handlers struct {
	repos     *repository.Repository
	extractor matching.NoteExtractor
	resolver  *matching.Resolver
	verifier  *integrity.NoteVerifier
	roles     RoleManager
	rankRoles map[string]string
	logger    Logger
}

// NewHandlers builds the default handlers. roles may be nil when no chat
// platform is configured; role issues then stay open.
func NewHandlers(repos *repository.Repository, extractor matching.NoteExtractor, resolver *matching.Resolver,
	roles RoleManager, rankRoles map[string]string, logger Logger) *Handlers {
	return &Handlers{
		repos:     repos,
		extractor: extractor,
		resolver:  resolver,
		verifier:  integrity.NewNoteVerifier(extractor, resolver),
		roles:     roles,
		rankRoles: rankRoles,
		logger:    logger,
	}
}

// NoteMismatch re-validates a drifted link. A false alarm is resolved as is;
// otherwise the character is unlinked, relinked to the player its note now
// points at when one exists, and the issue is resolved either way.
func (h *Handlers) NoteMismatch(ctx context.Context, issue models.AuditIssue) (Outcome, error) {
	if issue.CharacterID == nil {
		return resolved("no_target"), nil
	}
	ch, err := h.repos.Characters.GetByID(ctx, *issue.CharacterID)
	if errors.Is(err, repository.ErrNotFound) {
		return resolved("character_removed"), nil
	}
	if err != nil {
		return leftOpen, err
	}
	if ch.IsRemoved() {
		return resolved("character_removed"), nil
	}

	owner, err := h.repos.Players.GetByCharacter(ctx, ch.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return resolved("already_unlinked"), nil
	}
	if err != nil {
		return leftOpen, err
	}
	if issue.PlayerID != nil && owner.ID != *issue.PlayerID {
		return resolved("owner_changed"), nil
	}
	if owner.ChatAccountID == nil {
		return resolved("no_chat_account"), nil
	}

	account, err := h.repos.ChatAccounts.GetByID(ctx, *owner.ChatAccountID)
	if errors.Is(err, repository.ErrNotFound) {
		return resolved("no_chat_account"), nil
	}
	if err != nil {
		return leftOpen, err
	}
	owned, err := h.repos.Players.ListCharacters(ctx, owner.ID)
	if err != nil {
		return leftOpen, err
	}
	accounts, err := h.repos.ChatAccounts.List(ctx)
	if err != nil {
		return leftOpen, err
	}

	check := h.verifier.Verify(*ch, *account, owned, accounts)
	if !check.Checkable() || check.Matches {
		return resolved("false_alarm"), nil
	}

	if err := h.repos.Players.UnlinkCharacter(ctx, owner.ID, ch.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return resolved("already_unlinked"), nil
		}
		return leftOpen, fmt.Errorf("failed to unlink %s from player %d: %w", ch.Name, owner.ID, err)
	}
	h.logger.Info("unlinked %s from player %d (%s)", ch.Name, owner.ID, account.Username)

	target, found, err := h.findPlayer(ctx, check.Key, check.Hints, owner.ID)
	if err != nil {
		h.logger.Warn("lookup for %s failed, leaving it unlinked: %v", ch.Name, err)
		return resolved("orphaned"), nil
	}
	if !found {
		return resolved("orphaned"), nil
	}

	n, err := h.repos.Players.LinkCharacters(ctx, target, []int64{ch.ID})
	if err != nil || n == 0 {
		h.logger.Warn("could not relink %s to player %d: %v", ch.Name, target, err)
		return resolved("orphaned"), nil
	}
	h.logger.Info("relinked %s to player %d", ch.Name, target)
	return resolved(fmt.Sprintf("relinked_to_%d", target)), nil
}

// OrphanCharacter repeats the initial-link lookup for an unlinked character.
// The issue stays open when no player is found.
func (h *Handlers) OrphanCharacter(ctx context.Context, issue models.AuditIssue) (Outcome, error) {
	if issue.CharacterID == nil {
		return resolved("no_target"), nil
	}
	ch, err := h.repos.Characters.GetByID(ctx, *issue.CharacterID)
	if errors.Is(err, repository.ErrNotFound) {
		return resolved("character_removed"), nil
	}
	if err != nil {
		return leftOpen, err
	}
	if ch.IsRemoved() {
		return resolved("character_removed"), nil
	}

	if _, err := h.repos.Players.GetByCharacter(ctx, ch.ID); err == nil {
		return resolved("already_linked"), nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return leftOpen, err
	}

	key := matching.CharacterNoteKey(h.extractor, *ch)
	hints := matching.CharacterHints(h.extractor, *ch)
	if key == "" && len(hints) == 0 {
		key = matching.NormalizeName(ch.Name)
	}

	target, found, err := h.findPlayer(ctx, key, hints, 0)
	if err != nil {
		return leftOpen, err
	}
	if !found {
		return leftOpen, nil
	}

	n, err := h.repos.Players.LinkCharacters(ctx, target, []int64{ch.ID})
	if err != nil {
		return leftOpen, err
	}
	if n == 0 {
		return resolved("already_linked"), nil
	}
	return resolved(fmt.Sprintf("linked_to_%d", target)), nil
}

// OrphanChatAccount attaches an unlinked chat account to the single stub
// player whose characters' notes identify it.
func (h *Handlers) OrphanChatAccount(ctx context.Context, issue models.AuditIssue) (Outcome, error) {
	if issue.ChatAccountID == nil {
		return resolved("no_target"), nil
	}
	account, err := h.repos.ChatAccounts.GetByID(ctx, *issue.ChatAccountID)
	if errors.Is(err, repository.ErrNotFound) {
		return resolved("account_gone"), nil
	}
	if err != nil {
		return leftOpen, err
	}

	holders, err := h.repos.Players.ListByChatAccount(ctx, account.ID)
	if err != nil {
		return leftOpen, err
	}
	if len(holders) > 0 {
		return resolved("already_linked"), nil
	}

	players, err := h.repos.Players.List(ctx)
	if err != nil {
		return leftOpen, err
	}

	var candidates []int64
	only := []models.ChatAccount{*account}
	for _, p := range players {
		if !p.IsStub() {
			continue
		}
		chars, err := h.repos.Players.ListCharacters(ctx, p.ID)
		if err != nil {
			return leftOpen, err
		}
		for _, ch := range chars {
			key := matching.CharacterNoteKey(h.extractor, ch)
			hints := matching.CharacterHints(h.extractor, ch)
			if res := h.resolver.Resolve(key, hints, only); res.Account != nil {
				candidates = append(candidates, p.ID)
				break
			}
		}
	}
	if len(candidates) != 1 {
		if len(candidates) > 1 {
			h.logger.Info("chat account %s matches %d stub players, left for review", account.Username, len(candidates))
		}
		return leftOpen, nil
	}

	if err := h.repos.Players.AttachChatAccount(ctx, candidates[0], account.ID); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			h.logger.Warn("attach of %s to player %d conflicted: %v", account.Username, candidates[0], err)
			return leftOpen, nil
		}
		return leftOpen, err
	}
	return resolved(fmt.Sprintf("attached_to_%d", candidates[0])), nil
}

// SyncRole grants the expected rank role on the chat platform and, for a
// mismatch, removes the wrong rank role. An unreachable platform leaves the
// issue open.
func (h *Handlers) SyncRole(ctx context.Context, issue models.AuditIssue) (Outcome, error) {
	if h.roles == nil {
		h.logger.Warn("issue %d needs the chat platform, which is not configured", issue.ID)
		return leftOpen, nil
	}
	if issue.ChatAccountID == nil {
		return resolved("no_target"), nil
	}
	expected := issue.DetailString("expected_role")
	if expected == "" {
		return leftOpen, fmt.Errorf("issue %d has no expected role", issue.ID)
	}

	account, err := h.repos.ChatAccounts.GetByID(ctx, *issue.ChatAccountID)
	if errors.Is(err, repository.ErrNotFound) {
		return resolved("account_gone"), nil
	}
	if err != nil {
		return leftOpen, err
	}
	if !account.IsPresent {
		return resolved("account_gone"), nil
	}

	if issue.IssueType == models.IssueRoleMismatch && account.HighestRole != "" && h.isRankRole(account.HighestRole) {
		if err := h.roles.RemoveRole(ctx, account.PlatformID, account.HighestRole); err != nil {
			return h.roleFailure(issue, err)
		}
	}
	if err := h.roles.AddRole(ctx, account.PlatformID, expected); err != nil {
		return h.roleFailure(issue, err)
	}

	h.logger.Info("granted %s to %s", expected, account.Username)
	return resolved("role_granted_" + expected), nil
}

func (h *Handlers) roleFailure(issue models.AuditIssue, err error) (Outcome, error) {
	if errors.Is(err, ErrChatUnavailable) {
		h.logger.Warn("chat platform unavailable for issue %d: %v", issue.ID, err)
		return leftOpen, nil
	}
	return leftOpen, err
}

func (h *Handlers) isRankRole(role string) bool {
	for _, r := range h.rankRoles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// findPlayer resolves a note identity to an existing player other than
// exclude: through the chat account it names, then through the owner of
// the character an alt-of or main hint names.
func (h *Handlers) findPlayer(ctx context.Context, key string, hints []matching.Hint, exclude int64) (int64, bool, error) {
	accounts, err := h.repos.ChatAccounts.List(ctx)
	if err != nil {
		return 0, false, err
	}

	if res := h.resolver.Resolve(key, hints, accounts); res.Account != nil {
		players, err := h.repos.Players.ListByChatAccount(ctx, res.Account.ID)
		if err != nil {
			return 0, false, err
		}
		for _, p := range players {
			if p.ID != exclude {
				return p.ID, true, nil
			}
		}
	}

	var names []string
	for _, hint := range hints {
		if hint.Kind == matching.HintAltOf || hint.Kind == matching.HintMain {
			names = append(names, hint.Value)
		}
	}
	if len(names) == 0 {
		return 0, false, nil
	}

	linked, err := h.repos.Characters.ListLinked(ctx)
	if err != nil {
		return 0, false, err
	}
	for _, name := range names {
		for _, lc := range linked {
			if lc.PlayerID != exclude && matching.NormalizeName(lc.Name) == name {
				return lc.PlayerID, true, nil
			}
		}
	}
	return 0, false, nil
}
