package mitigation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"guildlink/internal/integrity"
	"guildlink/internal/matching"
	"guildlink/internal/models"
	"guildlink/internal/repository"
	"guildlink/internal/repository/repotest"
	"guildlink/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var rankRoles = map[string]string{"officer": "Officer", "raider": "Raider"}

type fakeRoles struct {
	err     error
	added   []string
	removed []string
}

func (f *fakeRoles) AddRole(_ context.Context, userID, role string) error {
	if f.err != nil {
		return f.err
	}
	f.added = append(f.added, userID+":"+role)
	return nil
}

func (f *fakeRoles) RemoveRole(_ context.Context, userID, role string) error {
	if f.err != nil {
		return f.err
	}
	f.removed = append(f.removed, userID+":"+role)
	return nil
}

type fixture struct {
	store   *repotest.Store
	repos   *repository.Repository
	checker *integrity.Checker
	roles   *fakeRoles
	engine  *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repotest.New()
	repos := store.Repository()
	log := logger.Discard()
	ex := matching.NewRegexExtractor()
	roles := &fakeRoles{}

	rules, err := DefaultRules(NewHandlers(repos, ex, matching.NewResolver(matching.DefaultThresholds()), roles, rankRoles, log))
	require.NoError(t, err)
	registry, err := NewRegistry(rules...)
	require.NoError(t, err)

	return &fixture{
		store:   store,
		repos:   repos,
		checker: integrity.NewChecker(repos, ex, integrity.Config{RankRoles: rankRoles}, log),
		roles:   roles,
		engine:  NewEngine(registry, repos.Issues, log),
	}
}

func raider(name, note string) models.Character {
	rank := 3
	login := time.Now()
	return models.Character{Name: name, Realm: "Ravencrest", RankID: &rank, RankName: "Raider", RankLevel: 3, GuildNote: note, LastLoginAt: &login}
}

func (f *fixture) account(username, role string) int64 {
	return f.store.AddChatAccount(models.ChatAccount{PlatformID: "id-" + username, Username: username, HighestRole: role, IsPresent: true})
}

func (f *fixture) playerFor(accountID int64) int64 {
	return f.store.AddPlayer(models.Player{DisplayName: fmt.Sprint("player-", accountID), ChatAccountID: &accountID})
}

func TestNoteMismatch_RelinksToNewOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	trogAccount := f.account("trog", "Raider")
	charID := f.store.AddCharacter(raider("Trogmoon", "Discord: trog"))
	trogPlayer := f.store.AddPlayer(models.Player{DisplayName: "trog", ChatAccountID: &trogAccount, MainCharacterID: &charID})
	f.store.Link(trogPlayer, charID)
	newPlayer := f.playerFor(f.account("newowner", "Raider"))

	f.store.UpdateCharacter(charID, func(c *models.Character) { c.GuildNote = "Discord: newowner" })
	counts, err := f.checker.DetectNoteMismatches(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, counts.New)

	res, err := f.engine.RunAutoMitigations(ctx)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Processed: 1, Resolved: 1}, res)

	assert.Equal(t, newPlayer, f.store.Owner(charID))
	assert.Nil(t, f.store.Player(trogPlayer).MainCharacterID)

	issues := f.store.Issues(models.IssueNoteMismatch)
	require.Len(t, issues, 1)
	assert.False(t, issues[0].IsOpen())
	assert.Equal(t, fmt.Sprintf("relinked_to_%d", newPlayer), issues[0].Resolution)
	assert.Equal(t, models.ResolvedByMitigation, issues[0].ResolvedBy)

	// nothing left to detect or mitigate
	counts, err = f.checker.DetectNoteMismatches(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts.Found)
	res, err = f.engine.RunAutoMitigations(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Processed)
}

func TestNoteMismatch_LeavesOrphanWhenNoOwnerFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	player := f.playerFor(f.account("trog", "Raider"))
	charID := f.store.AddCharacter(raider("Trogmoon", "Discord: ghost"))
	f.store.Link(player, charID)

	_, err := f.checker.DetectNoteMismatches(ctx)
	require.NoError(t, err)
	res, err := f.engine.RunAutoMitigations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Resolved)

	assert.Zero(t, f.store.Owner(charID))
	assert.Equal(t, "orphaned", f.store.Issues(models.IssueNoteMismatch)[0].Resolution)
}

func TestNoteMismatch_FalseAlarm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	player := f.playerFor(f.account("trog", "Raider"))
	charID := f.store.AddCharacter(raider("Trogmoon", "Discord: newowner"))
	f.store.Link(player, charID)

	_, err := f.checker.DetectNoteMismatches(ctx)
	require.NoError(t, err)
	f.store.UpdateCharacter(charID, func(c *models.Character) { c.GuildNote = "Discord: trog" })

	res, err := f.engine.RunAutoMitigations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Resolved)
	assert.Equal(t, player, f.store.Owner(charID))
	assert.Equal(t, "false_alarm", f.store.Issues(models.IssueNoteMismatch)[0].Resolution)
}

func TestRunAutoMitigations_OnlyTouchesAutoTypes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.store.AddCharacter(raider("Zzyx", "Discord: trog"))
	f.playerFor(f.account("trog", "Raider"))
	p := f.playerFor(f.account("bigguy", ""))
	drifted := f.store.AddCharacter(raider("Sold", "Discord: ghost"))
	f.store.Link(p, drifted)

	_, err := f.checker.RunIntegrityCheck(ctx)
	require.NoError(t, err)
	require.Len(t, f.store.OpenIssues(models.IssueOrphanCharacter), 1)
	require.Len(t, f.store.OpenIssues(models.IssueNoGuildRole), 1)

	res, err := f.engine.RunAutoMitigations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)

	assert.Len(t, f.store.OpenIssues(models.IssueOrphanCharacter), 1)
	assert.Len(t, f.store.OpenIssues(models.IssueNoGuildRole), 1)
	assert.Empty(t, f.store.OpenIssues(models.IssueNoteMismatch))
	assert.Empty(t, f.roles.added)
}

func TestRunAutoMitigations_IsolatesFailures(t *testing.T) {
	store := repotest.New()
	repos := store.Repository()
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 3; i++ {
		id, _, err := repos.Issues.Upsert(ctx, models.IssueDraft{
			IssueType: models.IssueNoteMismatch,
			Severity:  models.SeverityWarning,
			Summary:   fmt.Sprint("issue ", i),
			Hash:      models.IssueHash(models.IssueNoteMismatch, i),
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	handler := HandlerFunc(func(_ context.Context, issue models.AuditIssue) (Outcome, error) {
		switch issue.ID {
		case ids[0]:
			panic("boom")
		case ids[1]:
			return leftOpen, errors.New("storage hiccup")
		}
		return resolved("fixed"), nil
	})
	registry, err := NewRegistry(Rule{Type: models.IssueNoteMismatch, Severity: models.SeverityWarning, AutoMitigate: true, Handler: handler})
	require.NoError(t, err)

	res, err := NewEngine(registry, repos.Issues, logger.Discard()).RunAutoMitigations(ctx)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Processed: 3, Resolved: 1, Failed: 2}, res)
	assert.Len(t, store.OpenIssues(models.IssueNoteMismatch), 2)
}

func TestRegistry(t *testing.T) {
	rules, err := DefaultRules(&Handlers{})
	require.NoError(t, err)
	require.Len(t, rules, len(models.AllIssueTypes))

	registry, err := NewRegistry(rules...)
	require.NoError(t, err)
	assert.Equal(t, []models.IssueType{models.IssueNoteMismatch}, registry.AutoTypes())

	for _, typ := range models.AllIssueTypes {
		_, ok := registry.Rule(typ)
		assert.True(t, ok, typ)
	}
	dup, _ := registry.Rule(models.IssueDuplicateChatLink)
	assert.Equal(t, models.SeverityError, dup.Severity)
	assert.Nil(t, dup.Handler)

	_, err = NewRegistry(Rule{Type: "bogus"})
	assert.ErrorIs(t, err, ErrUnknownIssueType)
	_, err = NewRegistry(Rule{Type: models.IssueStaleCharacter}, Rule{Type: models.IssueStaleCharacter})
	assert.Error(t, err)
	_, err = NewRegistry(Rule{Type: models.IssueStaleCharacter, AutoMitigate: true})
	assert.Error(t, err)
}

func TestMitigate_OrphanCharacter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	charID := f.store.AddCharacter(raider("Zzyx", "Discord: trog"))
	player := f.playerFor(f.account("trog", "Raider"))
	_, err := f.checker.DetectOrphanCharacters(ctx)
	require.NoError(t, err)
	issue := f.store.OpenIssues(models.IssueOrphanCharacter)[0]

	outcome, err := f.engine.Mitigate(ctx, issue.ID, "admin:alice")
	require.NoError(t, err)
	assert.True(t, outcome.Resolved)
	assert.Equal(t, fmt.Sprintf("linked_to_%d", player), outcome.Resolution)
	assert.Equal(t, player, f.store.Owner(charID))

	closed := f.store.Issues(models.IssueOrphanCharacter)[0]
	assert.Equal(t, "admin:alice", closed.ResolvedBy)

	_, err = f.engine.Mitigate(ctx, issue.ID, "admin:alice")
	assert.ErrorIs(t, err, ErrNotOpen)
}

func TestMitigate_OrphanCharacterStaysOpenWithoutMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.store.AddCharacter(raider("Zzyx", ""))
	f.playerFor(f.account("trog", "Raider"))
	_, err := f.checker.DetectOrphanCharacters(ctx)
	require.NoError(t, err)
	issue := f.store.OpenIssues(models.IssueOrphanCharacter)[0]

	outcome, err := f.engine.Mitigate(ctx, issue.ID, "admin:alice")
	require.NoError(t, err)
	assert.False(t, outcome.Resolved)
	assert.Len(t, f.store.OpenIssues(models.IssueOrphanCharacter), 1)
}

func TestMitigate_OrphanChatAccountAttachesStub(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	accountID := f.account("lurker", "Raider")
	stub := f.store.AddPlayer(models.Player{DisplayName: "Lurkalot"})
	charID := f.store.AddCharacter(raider("Lurkalot", "Discord: lurker"))
	f.store.Link(stub, charID)

	_, err := f.checker.DetectOrphanChatAccounts(ctx)
	require.NoError(t, err)
	issue := f.store.OpenIssues(models.IssueOrphanChatAccount)[0]

	outcome, err := f.engine.Mitigate(ctx, issue.ID, "admin:alice")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("attached_to_%d", stub), outcome.Resolution)
	p := f.store.Player(stub)
	require.NotNil(t, p.ChatAccountID)
	assert.Equal(t, accountID, *p.ChatAccountID)
}

func TestMitigate_RoleSync(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	accountID := f.account("trog", "Raider")
	player := f.playerFor(accountID)
	boss := raider("Trogboss", "")
	officer := 5
	boss.RankID, boss.RankName, boss.RankLevel = &officer, "Officer", 5
	f.store.Link(player, f.store.AddCharacter(boss))

	_, _, err := f.checker.DetectRoleIssues(ctx)
	require.NoError(t, err)
	issue := f.store.OpenIssues(models.IssueRoleMismatch)[0]

	f.roles.err = fmt.Errorf("gateway timeout: %w", ErrChatUnavailable)
	outcome, err := f.engine.Mitigate(ctx, issue.ID, "admin:alice")
	require.NoError(t, err)
	assert.False(t, outcome.Resolved)
	assert.Len(t, f.store.OpenIssues(models.IssueRoleMismatch), 1)

	f.roles.err = nil
	outcome, err = f.engine.Mitigate(ctx, issue.ID, "admin:alice")
	require.NoError(t, err)
	assert.Equal(t, "role_granted_Officer", outcome.Resolution)
	assert.Equal(t, []string{"id-trog:Raider"}, f.roles.removed)
	assert.Equal(t, []string{"id-trog:Officer"}, f.roles.added)
}

func TestMitigate_RoleSyncWithoutPlatform(t *testing.T) {
	store := repotest.New()
	repos := store.Repository()
	h := NewHandlers(repos, matching.NewRegexExtractor(), matching.NewResolver(matching.DefaultThresholds()), nil, rankRoles, logger.Discard())

	accountID := int64(1)
	outcome, err := h.SyncRole(context.Background(), models.AuditIssue{
		ID:            9,
		IssueType:     models.IssueNoGuildRole,
		ChatAccountID: &accountID,
		Details:       map[string]any{"expected_role": "Raider"},
	})
	require.NoError(t, err)
	assert.False(t, outcome.Resolved)
}

func TestMitigate_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Mitigate(ctx, 404, "admin:alice")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	old := raider("Oldtimer", "")
	longAgo := time.Now().Add(-90 * 24 * time.Hour)
	old.LastLoginAt = &longAgo
	f.store.AddCharacter(old)
	_, err = f.checker.DetectStaleCharacters(ctx)
	require.NoError(t, err)
	stale := f.store.OpenIssues(models.IssueStaleCharacter)[0]

	_, err = f.engine.Mitigate(ctx, stale.ID, "admin:alice")
	assert.ErrorIs(t, err, ErrNoHandler)

	require.NoError(t, f.engine.Dismiss(ctx, stale.ID, "admin:alice", ""))
	assert.Equal(t, "dismissed", f.store.Issues(models.IssueStaleCharacter)[0].Resolution)
	assert.ErrorIs(t, f.engine.Dismiss(ctx, stale.ID, "admin:alice", ""), ErrNotOpen)
}

func TestMitigate_RoleSyncMatchesRankRolesCaseInsensitively(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	player := f.playerFor(f.account("trog", "raider"))
	boss := raider("Trogboss", "")
	officer := 5
	boss.RankID, boss.RankName, boss.RankLevel = &officer, "Officer", 5
	f.store.Link(player, f.store.AddCharacter(boss))

	_, _, err := f.checker.DetectRoleIssues(ctx)
	require.NoError(t, err)
	issue := f.store.OpenIssues(models.IssueRoleMismatch)[0]

	outcome, err := f.engine.Mitigate(ctx, issue.ID, "admin:alice")
	require.NoError(t, err)
	assert.Equal(t, "role_granted_Officer", outcome.Resolution)
	assert.Equal(t, []string{"id-trog:raider"}, f.roles.removed)
	assert.Equal(t, []string{"id-trog:Officer"}, f.roles.added)
}

func TestNoteMismatch_NoteNamingOwnedCharacterIsFalseAlarm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	player := f.playerFor(f.account("xyzzy", "Raider"))
	main := f.store.AddCharacter(raider("Trogmoon", "Discord: xyzzy"))
	alt := f.store.AddCharacter(raider("Trogalt", "Discord: ghost"))
	f.store.Link(player, main)
	f.store.Link(player, alt)

	counts, err := f.checker.DetectNoteMismatches(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, counts.New)
	f.store.UpdateCharacter(alt, func(c *models.Character) { c.GuildNote = "Trogmoon" })

	res, err := f.engine.RunAutoMitigations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Resolved)
	assert.Equal(t, player, f.store.Owner(alt))
	assert.Equal(t, "false_alarm", f.store.Issues(models.IssueNoteMismatch)[0].Resolution)

	counts, err = f.checker.DetectNoteMismatches(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts.Found)
}
