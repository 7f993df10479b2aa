package application

import (
	"bytes"
	"context"
	"testing"
	"time"

	"guildlink/internal/integrity"
	"guildlink/internal/matching"
	"guildlink/internal/models"
	"guildlink/internal/repository/repotest"
	"guildlink/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func newService(t *testing.T) (*Service, *repotest.Store) {
	t.Helper()
	store := repotest.New()
	svc, err := NewService(store.Repository(), Options{
		Thresholds: matching.DefaultThresholds(),
		Integrity:  integrity.Config{RankRoles: map[string]string{"raider": "Raider"}},
	}, logger.Discard())
	require.NoError(t, err)
	return svc, store
}

func raider(name, note string) models.Character {
	rank := 3
	login := time.Now()
	return models.Character{Name: name, Realm: "Ravencrest", RankID: &rank, RankName: "Raider", RankLevel: 3, GuildNote: note, LastLoginAt: &login}
}

func member(store *repotest.Store, username string) int64 {
	return store.AddChatAccount(models.ChatAccount{PlatformID: "id-" + username, Username: username, HighestRole: "Raider", IsPresent: true})
}

func TestDriftScan_RepairsAndIsIdempotent(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	member(store, "trog")
	member(store, "newowner")
	trogmoon := store.AddCharacter(raider("Trogmoon", "Discord: trog"))
	newchar := store.AddCharacter(raider("Newchar", "Discord: newowner"))

	_, err := svc.RunMatchingRules(ctx, matching.Options{})
	require.NoError(t, err)
	first, second := store.Owner(trogmoon), store.Owner(newchar)
	require.NotZero(t, first)
	require.NotZero(t, second)
	require.NotEqual(t, first, second)

	report, err := svc.RunDriftScan(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.NewIssues())

	store.UpdateCharacter(trogmoon, func(c *models.Character) { c.GuildNote = "Discord: newowner" })

	report, err = svc.RunDriftScan(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 1, report.NoteMismatches.New)
	assert.Equal(t, 1, report.Mitigations.Resolved)
	assert.Equal(t, second, store.Owner(trogmoon))

	again, err := svc.RunDriftScan(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.NewIssues())
	assert.Zero(t, again.Mitigations.Processed)
	assert.NotEqual(t, report.RunID, again.RunID)
}

func TestMatchAndDrift_LinksSurviveRepeatedCycles(t *testing.T) {
	tests := []struct {
		name  string
		setup func(store *repotest.Store) []int64
	}{
		{
			name: "plain key reuses stub",
			setup: func(store *repotest.Store) []int64 {
				member(store, "trog")
				big := store.AddCharacter(raider("Bigguy", "Bigguy"))
				store.Link(store.AddPlayer(models.Player{DisplayName: "Bigguy"}), big)
				return []int64{big, store.AddCharacter(raider("Bigalt", "Bigguy - tank"))}
			},
		},
		{
			name: "plain key names owned character",
			setup: func(store *repotest.Store) []int64 {
				account := member(store, "xyzzy")
				main := store.AddCharacter(raider("Trogmoon", "Discord: xyzzy"))
				store.Link(store.AddPlayer(models.Player{DisplayName: "xyzzy", ChatAccountID: &account}), main)
				return []int64{main, store.AddCharacter(raider("Trogalt", "Trogmoon"))}
			},
		},
		{
			name: "fuzzy auto-link",
			setup: func(store *repotest.Store) []int64 {
				member(store, "trogmoon")
				return []int64{store.AddCharacter(raider("Trogzilla", "Discord: trogmon"))}
			},
		},
		{
			name: "keyless name match",
			setup: func(store *repotest.Store) []int64 {
				member(store, "zanzibar")
				return []int64{store.AddCharacter(raider("Zanzibar", ""))}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store := newService(t)
			ctx := context.Background()
			chars := tt.setup(store)

			var owner int64
			for cycle := 1; cycle <= 2; cycle++ {
				res, err := svc.RunMatchingRules(ctx, matching.Options{})
				require.NoError(t, err)
				if cycle == 2 {
					assert.False(t, res.Totals.Changed(), "cycle %d", cycle)
				}

				report, err := svc.RunDriftScan(ctx)
				require.NoError(t, err)
				assert.Zero(t, report.NewIssues(), "cycle %d", cycle)
				assert.Zero(t, report.Mitigations.Processed, "cycle %d", cycle)

				if owner == 0 {
					owner = store.Owner(chars[0])
					require.NotZero(t, owner)
				}
				for _, id := range chars {
					assert.Equal(t, owner, store.Owner(id), "cycle %d character %d", cycle, id)
				}
			}
			assert.Empty(t, store.OpenIssues(models.IssueNoteMismatch))
		})
	}
}

func TestDriftScan_DuplicateChatLinkIsFlagOnly(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	account := member(store, "shared")
	store.AddPlayer(models.Player{DisplayName: "one", ChatAccountID: &account})
	store.AddPlayer(models.Player{DisplayName: "two", ChatAccountID: &account})

	report, err := svc.RunDriftScan(ctx)
	require.NoError(t, err)
	assert.Equal(t, integrity.Counts{Found: 1, New: 1}, report.DuplicateChatLinks)

	_, err = svc.RunIntegrityCheck(ctx)
	require.NoError(t, err)
	_, err = svc.RunAutoMitigations(ctx)
	require.NoError(t, err)

	open := store.OpenIssues(models.IssueDuplicateChatLink)
	require.Len(t, open, 1)
	assert.Equal(t, models.SeverityError, open[0].Severity)

	again, err := svc.RunDriftScan(ctx)
	require.NoError(t, err)
	assert.Equal(t, integrity.Counts{Found: 1}, again.DuplicateChatLinks)
}

func TestDriftScan_StaleChatLink(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	gone := store.AddChatAccount(models.ChatAccount{PlatformID: "id-gone", Username: "gone", IsPresent: false})
	missing := int64(999)
	left := store.AddPlayer(models.Player{DisplayName: "left", ChatAccountID: &gone})
	store.AddPlayer(models.Player{DisplayName: "vanished", ChatAccountID: &missing})

	report, err := svc.RunDriftScan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.StaleChatLinks.New)
	assert.Zero(t, report.DuplicateChatLinks.Found)

	issues := store.OpenIssues(models.IssueStaleChatLink)
	require.Len(t, issues, 2)
	require.NotNil(t, issues[0].PlayerID)
	assert.Equal(t, left, *issues[0].PlayerID)
}

func TestDriftScan_LinkContradictsNote(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	account := member(store, "trog")
	owner := store.AddPlayer(models.Player{DisplayName: "trog", ChatAccountID: &account})
	stub := store.AddPlayer(models.Player{DisplayName: "Trogalt"})
	alt := store.AddCharacter(raider("Trogalt", "Discord: trog"))
	store.Link(stub, alt)
	vague := store.AddCharacter(raider("Trogish", "Discord: trogg"))
	store.Link(stub, vague)

	report, err := svc.RunDriftScan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.LinkContradictsNote.New)

	issues := store.OpenIssues(models.IssueLinkContradictsNote)
	require.Len(t, issues, 1)
	assert.Equal(t, alt, *issues[0].CharacterID)
	assert.Equal(t, stub, *issues[0].PlayerID)
	assert.Equal(t, owner, issues[0].Details["note_player_id"])
	assert.Equal(t, stub, store.Owner(alt))
}

func TestExportIssues(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	store.AddCharacter(raider("Zzyx", ""))
	account := member(store, "shared")
	store.AddPlayer(models.Player{DisplayName: "one", ChatAccountID: &account})
	store.AddPlayer(models.Player{DisplayName: "two", ChatAccountID: &account})

	_, err := svc.RunIntegrityCheck(ctx)
	require.NoError(t, err)
	_, err = svc.RunDriftScan(ctx)
	require.NoError(t, err)

	data, err := svc.ExportIssues(ctx)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Open issues", "Summary"}, f.GetSheetList())

	rows, err := f.GetRows("Open issues")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, issueHeaders, rows[0])
	assert.Equal(t, "orphan_character", rows[1][1])
	assert.Equal(t, "duplicate_chat_link", rows[2][1])
	assert.Equal(t, "error", rows[2][2])

	summary, err := f.GetRows("Summary")
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"Type", "Open"},
		{"duplicate_chat_link", "1"},
		{"orphan_character", "1"},
	}, summary)
}

func TestBuildIssueReport_Empty(t *testing.T) {
	data, err := BuildIssueReport(nil)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Open issues")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
