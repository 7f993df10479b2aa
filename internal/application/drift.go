package application

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"guildlink/internal/integrity"
	"guildlink/internal/matching"
	"guildlink/internal/mitigation"
	"guildlink/internal/models"
	"guildlink/internal/repository"

	"github.com/google/uuid"
)

// DriftReport summarizes one drift scan.
type DriftReport struct {
	RunID               string                 `json:"run_id"`
	NoteMismatches      integrity.Counts       `json:"note_mismatches"`
	LinkContradictsNote integrity.Counts       `json:"link_contradicts_note"`
	DuplicateChatLinks  integrity.Counts       `json:"duplicate_chat_links"`
	StaleChatLinks      integrity.Counts       `json:"stale_chat_links"`
	Mitigations         mitigation.BatchResult `json:"mitigations"`
}

// NewIssues sums the issues inserted by the scan.
func (r *DriftReport) NewIssues() int {
	return r.NoteMismatches.New + r.LinkContradictsNote.New + r.DuplicateChatLinks.New + r.StaleChatLinks.New
}

// DriftScanner detects links that were right once and have gone wrong since.
type DriftScanner struct {
	repos     *repository.Repository
	extractor matching.NoteExtractor
	resolver  *matching.Resolver
	checker   *integrity.Checker
	engine    *mitigation.Engine
	logger    Logger
}

func NewDriftScanner(repos *repository.Repository, extractor matching.NoteExtractor, resolver *matching.Resolver,
	checker *integrity.Checker, engine *mitigation.Engine, logger Logger) *DriftScanner {
	return &DriftScanner{
		repos:     repos,
		extractor: extractor,
		resolver:  resolver,
		checker:   checker,
		engine:    engine,
		logger:    logger,
	}
}

// Scan runs note_mismatch detection, the flag-only link checks and then the
// auto-mitigation batch that repairs the mismatches just raised.
func (d *DriftScanner) Scan(ctx context.Context) (*DriftReport, error) {
	report := &DriftReport{RunID: uuid.NewString()}

	var err error
	if report.NoteMismatches, err = d.checker.DetectNoteMismatches(ctx); err != nil {
		return report, err
	}
	if report.LinkContradictsNote, err = d.DetectLinkContradictsNote(ctx); err != nil {
		return report, err
	}
	if report.DuplicateChatLinks, report.StaleChatLinks, err = d.DetectChatLinkDrift(ctx); err != nil {
		return report, err
	}
	if report.Mitigations, err = d.engine.RunAutoMitigations(ctx); err != nil {
		return report, err
	}

	d.logger.Info("drift scan %s: %d new issues, %d mitigated", report.RunID, report.NewIssues(), report.Mitigations.Resolved)
	return report, nil
}

// DetectLinkContradictsNote flags characters of stub players whose note
// names, by an exact or hinted match, a chat account another player holds.
func (d *DriftScanner) DetectLinkContradictsNote(ctx context.Context) (integrity.Counts, error) {
	var counts integrity.Counts

	players, err := d.repos.Players.List(ctx)
	if err != nil {
		return counts, fmt.Errorf("failed to list players: %w", err)
	}
	accounts, err := d.repos.ChatAccounts.List(ctx)
	if err != nil {
		return counts, fmt.Errorf("failed to list chat accounts: %w", err)
	}
	linked, err := d.repos.Characters.ListLinked(ctx)
	if err != nil {
		return counts, fmt.Errorf("failed to list linked characters: %w", err)
	}

	stubs := make(map[int64]bool)
	holder := make(map[int64]int64)
	for _, p := range players {
		if p.IsStub() {
			stubs[p.ID] = true
			continue
		}
		if _, taken := holder[*p.ChatAccountID]; !taken {
			holder[*p.ChatAccountID] = p.ID
		}
	}

	for _, lc := range linked {
		if !stubs[lc.PlayerID] {
			continue
		}
		key := matching.CharacterNoteKey(d.extractor, lc.Character)
		hints := matching.CharacterHints(d.extractor, lc.Character)
		res := d.resolver.Resolve(key, hints, accounts)
		if res.Account == nil || (res.Via != matching.MatchExact && res.Via != matching.MatchHint) {
			continue
		}
		other, ok := holder[res.Account.ID]
		if !ok || other == lc.PlayerID {
			continue
		}

		charID, playerID, accountID := lc.ID, lc.PlayerID, res.Account.ID
		counts.Add(d.raise(ctx, models.IssueDraft{
			IssueType:     models.IssueLinkContradictsNote,
			Severity:      models.SeverityWarning,
			CharacterID:   &charID,
			ChatAccountID: &accountID,
			PlayerID:      &playerID,
			Summary: fmt.Sprintf("%s is linked to stub player %d but its note names %s, held by player %d",
				lc.Name, lc.PlayerID, res.Account.Username, other),
			Details: map[string]any{
				"note_key":       key,
				"chat_username":  res.Account.Username,
				"matched_via":    string(res.Via),
				"note_player_id": other,
				"guild_note":     lc.GuildNote,
				"linked_player":  lc.PlayerID,
			},
			Hash: models.IssueHash(models.IssueLinkContradictsNote, lc.ID, lc.PlayerID, other),
		}))
	}
	return counts, nil
}

// DetectChatLinkDrift flags chat accounts held by more than one player and
// players whose chat account has left the guild.
func (d *DriftScanner) DetectChatLinkDrift(ctx context.Context) (integrity.Counts, integrity.Counts, error) {
	var duplicates, stale integrity.Counts

	players, err := d.repos.Players.List(ctx)
	if err != nil {
		return duplicates, stale, fmt.Errorf("failed to list players: %w", err)
	}
	accounts, err := d.repos.ChatAccounts.List(ctx)
	if err != nil {
		return duplicates, stale, fmt.Errorf("failed to list chat accounts: %w", err)
	}

	byID := make(map[int64]models.ChatAccount, len(accounts))
	for _, a := range accounts {
		byID[a.ID] = a
	}
	holders := make(map[int64][]int64)
	var order []int64
	for _, p := range players {
		if p.ChatAccountID == nil {
			continue
		}
		id := *p.ChatAccountID
		if len(holders[id]) == 0 {
			order = append(order, id)
		}
		holders[id] = append(holders[id], p.ID)
	}

	for _, accountID := range order {
		pids := holders[accountID]
		account := byID[accountID]

		if len(pids) > 1 {
			slices.Sort(pids)
			id := accountID
			joined := joinIDs(pids)
			duplicates.Add(d.raise(ctx, models.IssueDraft{
				IssueType:     models.IssueDuplicateChatLink,
				Severity:      models.SeverityError,
				ChatAccountID: &id,
				Summary:       fmt.Sprintf("chat account %s is linked to players %s", account.Label(), joined),
				Details: map[string]any{
					"chat_username": account.Username,
					"player_ids":    pids,
				},
				Hash: models.IssueHash(models.IssueDuplicateChatLink, accountID, joined),
			}))
		}

		if _, known := byID[accountID]; known && account.IsPresent {
			continue
		}
		for _, pid := range pids {
			id, playerID := accountID, pid
			stale.Add(d.raise(ctx, models.IssueDraft{
				IssueType:     models.IssueStaleChatLink,
				Severity:      models.SeverityWarning,
				ChatAccountID: &id,
				PlayerID:      &playerID,
				Summary:       fmt.Sprintf("player %d is linked to chat account %s, which is no longer in the guild", pid, account.Label()),
				Details: map[string]any{
					"chat_username": account.Username,
					"platform_id":   account.PlatformID,
				},
				Hash: models.IssueHash(models.IssueStaleChatLink, pid, accountID),
			}))
		}
	}
	return duplicates, stale, nil
}

func (d *DriftScanner) raise(ctx context.Context, draft models.IssueDraft) integrity.Counts {
	counts := integrity.Counts{Found: 1}
	created, err := d.checker.UpsertIssue(ctx, draft)
	if err != nil {
		d.logger.Warn("failed to record %s issue: %v", draft.IssueType, err)
		counts.Failed++
		return counts
	}
	if created {
		counts.New++
		d.logger.Info("new %s issue: %s", draft.IssueType, draft.Summary)
	}
	return counts
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, ",")
}
