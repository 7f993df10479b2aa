package matching

import (
	"context"
	"testing"

	"guildlink/internal/models"
	"guildlink/internal/repository/repotest"
	"guildlink/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rankID(id int) *int { return &id }

func raider(name, note string) models.Character {
	return models.Character{
		Name:      name,
		Realm:     "Ravencrest",
		RankID:    rankID(3),
		RankName:  "Raider",
		RankLevel: 3,
		GuildNote: note,
	}
}

func member(username string) models.ChatAccount {
	return models.ChatAccount{PlatformID: "id-" + username, Username: username, HighestRole: "Raider", IsPresent: true}
}

type fixture struct {
	store  *repotest.Store
	runner *Runner
	linker *Linker
	notes  *NoteGroupRule
	names  *NameMatchRule
}

func newFixture() *fixture {
	store := repotest.New()
	repos := store.Repository()
	log := logger.Discard()
	resolver := NewResolver(DefaultThresholds())
	linker := NewLinker(repos.Players, repos.Issues, log)
	notes := NewNoteGroupRule(linker, resolver, log)
	names := NewNameMatchRule(linker, resolver, log)
	return &fixture{
		store:  store,
		runner: NewRunner(repos, NewRegexExtractor(), resolver, log, names, notes),
		linker: linker,
		notes:  notes,
		names:  names,
	}
}

func (f *fixture) runRule(t *testing.T, rule Rule) Stats {
	t.Helper()
	mc, err := f.runner.LoadContext(context.Background(), 0)
	require.NoError(t, err)
	st, err := rule.Run(context.Background(), mc)
	require.NoError(t, err)
	return st
}

func TestNoteGroupRule_CreatesPlayerForChatNote(t *testing.T) {
	f := newFixture()
	charID := f.store.AddCharacter(raider("Trogmoon", "Discord: trog"))
	accountID := f.store.AddChatAccount(member("trog"))

	st := f.runRule(t, f.notes)

	assert.Equal(t, 1, st.PlayersCreated)
	assert.Equal(t, 1, st.CharsLinked)
	assert.Equal(t, 1, st.ChatLinked)
	owner := f.store.Owner(charID)
	require.NotZero(t, owner)
	p := f.store.Player(owner)
	require.NotNil(t, p.ChatAccountID)
	assert.Equal(t, accountID, *p.ChatAccountID)
	assert.Equal(t, 3, *p.RankID)
}

func TestNoteGroupRule_GroupsCharactersSharingAKey(t *testing.T) {
	f := newFixture()
	main := f.store.AddCharacter(raider("Trogmoon", "Discord: trog"))
	alt := f.store.AddCharacter(raider("Trogbank", "Trog's alt"))
	f.store.AddChatAccount(member("trog"))

	st := f.runRule(t, f.notes)

	assert.Equal(t, 1, st.PlayersCreated)
	assert.Equal(t, 2, st.CharsLinked)
	assert.Equal(t, f.store.Owner(main), f.store.Owner(alt))
	assert.Equal(t, 1, f.store.PlayerCount())
}

func TestNoteGroupRule_JoinsExistingPlayerOfAccount(t *testing.T) {
	f := newFixture()
	accountID := f.store.AddChatAccount(member("trog"))
	playerID := f.store.AddPlayer(models.Player{DisplayName: "trog", ChatAccountID: &accountID})
	charID := f.store.AddCharacter(raider("Trogalt", "@trog"))

	st := f.runRule(t, f.notes)

	assert.Equal(t, 0, st.PlayersCreated)
	assert.Equal(t, 1, st.CharsLinked)
	assert.Equal(t, playerID, f.store.Owner(charID))
}

func TestNoteGroupRule_StubCreationAndReuse(t *testing.T) {
	f := newFixture()
	first := f.store.AddCharacter(raider("Bigguy", "Bigguy"))

	st := f.runRule(t, f.notes)
	assert.Equal(t, 1, st.StubsCreated)
	stub := f.store.Owner(first)
	require.NotZero(t, stub)
	assert.True(t, f.store.Player(stub).IsStub())

	second := f.store.AddCharacter(raider("Bigbank", "bigguy - bank"))
	st = f.runRule(t, f.notes)

	assert.Equal(t, 0, st.StubsCreated)
	assert.Equal(t, 1, st.CharsLinked)
	assert.Equal(t, stub, f.store.Owner(second))
	assert.Equal(t, 1, f.store.PlayerCount())
}

func TestNoteGroupRule_AltOfJoinsOwnerOfMain(t *testing.T) {
	f := newFixture()
	accountID := f.store.AddChatAccount(member("trog"))
	playerID := f.store.AddPlayer(models.Player{DisplayName: "trog", ChatAccountID: &accountID})
	mainID := f.store.AddCharacter(raider("Bigmain", "Discord: trog"))
	f.store.Link(playerID, mainID)
	alt := f.store.AddCharacter(raider("Smallalt", "alt of Bigmain"))

	st := f.runRule(t, f.notes)

	assert.Equal(t, 0, st.StubsCreated)
	assert.Equal(t, playerID, f.store.Owner(alt))
}

func TestNoteGroupRule_LowConfidenceOnlySuggests(t *testing.T) {
	f := newFixture()
	charID := f.store.AddCharacter(raider("Trogmoon", "Discord: trogmn"))
	f.store.AddChatAccount(member("trogmoon"))

	st := f.runRule(t, f.notes)

	assert.Equal(t, 1, st.Suggestions)
	assert.Equal(t, 1, st.Skipped)
	assert.False(t, st.Changed())
	assert.Zero(t, f.store.Owner(charID))
	assert.Zero(t, f.store.PlayerCount())

	issues := f.store.OpenIssues(models.IssueLowConfidenceMatch)
	require.Len(t, issues, 1)
	assert.Equal(t, charID, *issues[0].CharacterID)
	assert.Equal(t, models.SeverityInfo, issues[0].Severity)

	// a repeated suggestion refreshes the same issue
	f.runRule(t, f.notes)
	assert.Len(t, f.store.Issues(models.IssueLowConfidenceMatch), 1)
}

func TestNoteGroupRule_AmbiguousKeyIsSkipped(t *testing.T) {
	f := newFixture()
	charID := f.store.AddCharacter(raider("Trogmoon", "Trog"))
	a := member("trog_a")
	a.DisplayName = "Trog"
	b := member("trog_b")
	b.DisplayName = "Trog"
	f.store.AddChatAccount(a)
	f.store.AddChatAccount(b)

	st := f.runRule(t, f.notes)

	assert.Equal(t, 1, st.Skipped)
	assert.Zero(t, f.store.Owner(charID))
	assert.Zero(t, f.store.PlayerCount())
}

func TestNameMatchRule(t *testing.T) {
	f := newFixture()
	linked := f.store.AddCharacter(raider("Trogmoon", ""))
	orphan := f.store.AddCharacter(raider("Zzyx", ""))
	acc := member("trog_discord")
	acc.DisplayName = "Trogmoon"
	f.store.AddChatAccount(acc)

	st := f.runRule(t, f.names)

	assert.Equal(t, 1, st.PlayersCreated)
	assert.Equal(t, 1, st.CharsLinked)
	assert.Equal(t, 1, st.Skipped)
	assert.Zero(t, st.StubsCreated)
	assert.NotZero(t, f.store.Owner(linked))
	assert.Zero(t, f.store.Owner(orphan))
}

func TestLinker_LinkToPlayerSkipsOwnedCharacters(t *testing.T) {
	f := newFixture()
	owner := f.store.AddPlayer(models.Player{DisplayName: "first"})
	other := f.store.AddPlayer(models.Player{DisplayName: "second"})
	taken := raider("Taken", "")
	taken.ID = f.store.AddCharacter(taken)
	free := raider("Free", "")
	free.ID = f.store.AddCharacter(free)
	f.store.Link(owner, taken.ID)

	st := f.linker.LinkToPlayer(context.Background(), "test", other, []models.Character{taken, free})

	assert.Equal(t, 1, st.CharsLinked)
	assert.Equal(t, 1, st.Conflicts)
	assert.Equal(t, owner, f.store.Owner(taken.ID))
	assert.Equal(t, other, f.store.Owner(free.ID))
}

func TestLinker_ChatAccountAlreadyHeldIsConflict(t *testing.T) {
	f := newFixture()
	accountID := f.store.AddChatAccount(member("trog"))
	f.store.AddPlayer(models.Player{DisplayName: "trog", ChatAccountID: &accountID})
	c := raider("Trogmoon", "")
	c.ID = f.store.AddCharacter(c)

	mc, err := f.runner.LoadContext(context.Background(), 0)
	require.NoError(t, err)
	mc.Players.Clear() // stale cache: the holder is unknown to this pass

	acc := member("trog")
	acc.ID = accountID
	st := f.linker.LinkToAccount(context.Background(), "test", mc, "trog", acc, []models.Character{c})

	assert.Equal(t, 1, st.Conflicts)
	assert.Zero(t, st.PlayersCreated)
	assert.Zero(t, f.store.Owner(c.ID))
	assert.Equal(t, 1, f.store.PlayerCount())
}

func TestHighestRank_TiesGoToLowestID(t *testing.T) {
	chars := []models.Character{
		{ID: 5, Name: "Later", RankLevel: 3},
		{ID: 2, Name: "Earlier", RankLevel: 3},
		{ID: 1, Name: "Junior", RankLevel: 1},
	}
	assert.Equal(t, "Earlier", highestRank(chars).Name)

	chars = append(chars, models.Character{ID: 9, Name: "Officer", RankLevel: 5})
	assert.Equal(t, "Officer", highestRank(chars).Name)
}
