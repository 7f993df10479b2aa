// Package integrity detects data-quality problems in the linked identity
// graph and records them as deduplicated audit issues.
package integrity

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"guildlink/internal/matching"
	"guildlink/internal/models"
	"guildlink/internal/monitoring"
	"guildlink/internal/repository"
)

const DefaultStaleAfter = 30 * 24 * time.Hour

type Logger interface {
	Error(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Info(format string, v ...interface{})
	Debug(format string, v ...interface{})
}

type Config struct {
	// StaleAfter is the inactivity window after which a character is stale.
	StaleAfter time.Duration
	// RankRoles maps lowercase rank names to the expected chat role.
	RankRoles map[string]string
	// MinRankLevel is the lowest rank level considered guild-relevant.
	MinRankLevel int
	// Thresholds are the resolver thresholds links are re-validated with.
	// They must match the ones the matching rules link with.
	Thresholds matching.Thresholds
}

type Counts struct {
	Found  int `json:"found"`
	New    int `json:"new"`
	Failed int `json:"failed"`
}

func (c *Counts) Add(o Counts) {
	c.Found += o.Found
	c.New += o.New
	c.Failed += o.Failed
}

type Report struct {
	Counts       map[models.IssueType]Counts `json:"counts"`
	AutoResolved map[models.IssueType]int    `json:"auto_resolved"`
}

// NewIssues sums the issues inserted by the run.
func (r *Report) NewIssues() int {
	n := 0
	for _, c := range r.Counts {
		n += c.New
	}
	return n
}

type Checker struct {
	repos    *repository.Repository
	verifier *NoteVerifier
	cfg      Config
	now      func() time.Time
	logger   Logger
}

func NewChecker(repos *repository.Repository, extractor matching.NoteExtractor, cfg Config, logger Logger) *Checker {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	return &Checker{
		repos:    repos,
		verifier: NewNoteVerifier(extractor, matching.NewResolver(cfg.Thresholds)),
		cfg:      cfg,
		now:      time.Now,
		logger:   logger,
	}
}

// WithClock replaces the time source used for staleness.
func (c *Checker) WithClock(now func() time.Time) *Checker {
	c.now = now
	return c
}

// UpsertIssue refreshes the open issue sharing the draft's hash or inserts a
// new one, reporting whether a row was inserted.
func (c *Checker) UpsertIssue(ctx context.Context, draft models.IssueDraft) (bool, error) {
	_, created, err := c.repos.Issues.Upsert(ctx, draft)
	if err != nil {
		return false, err
	}
	monitoring.IssuesDetected.WithLabelValues(string(draft.IssueType), strconv.FormatBool(created)).Inc()
	return created, nil
}

func (c *Checker) raise(ctx context.Context, draft models.IssueDraft, counts *Counts) {
	counts.Found++
	created, err := c.UpsertIssue(ctx, draft)
	if err != nil {
		c.logger.Warn("failed to record %s issue: %v", draft.IssueType, err)
		counts.Failed++
		return
	}
	if created {
		counts.New++
		c.logger.Info("new %s issue: %s", draft.IssueType, draft.Summary)
	}
}

// RunIntegrityCheck runs every detector once and then the auto-resolve sweep.
func (c *Checker) RunIntegrityCheck(ctx context.Context) (*Report, error) {
	report := &Report{Counts: make(map[models.IssueType]Counts)}

	noteMismatch, err := c.DetectNoteMismatches(ctx)
	if err != nil {
		return report, err
	}
	report.Counts[models.IssueNoteMismatch] = noteMismatch

	orphanChars, err := c.DetectOrphanCharacters(ctx)
	if err != nil {
		return report, err
	}
	report.Counts[models.IssueOrphanCharacter] = orphanChars

	orphanAccounts, err := c.DetectOrphanChatAccounts(ctx)
	if err != nil {
		return report, err
	}
	report.Counts[models.IssueOrphanChatAccount] = orphanAccounts

	roleMismatch, noRole, err := c.DetectRoleIssues(ctx)
	if err != nil {
		return report, err
	}
	report.Counts[models.IssueRoleMismatch] = roleMismatch
	report.Counts[models.IssueNoGuildRole] = noRole

	stale, err := c.DetectStaleCharacters(ctx)
	if err != nil {
		return report, err
	}
	report.Counts[models.IssueStaleCharacter] = stale

	resolved, err := c.AutoResolve(ctx)
	if err != nil {
		return report, err
	}
	report.AutoResolved = resolved

	c.logger.Info("integrity check finished: %d new issues, %d auto-resolved", report.NewIssues(), sumValues(resolved))
	return report, nil
}

func sumValues(m map[models.IssueType]int) int {
	n := 0
	for _, v := range m {
		n += v
	}
	return n
}

// snapshot is the linked state shared by the detectors.
type snapshot struct {
	players     map[int64]models.Player
	accounts    map[int64]models.ChatAccount
	accountList []models.ChatAccount
	linked      []models.LinkedCharacter
	owned       map[int64][]models.Character
	holders     map[int64][]int64 // chat account id -> player ids
}

func (c *Checker) loadSnapshot(ctx context.Context) (*snapshot, error) {
	players, err := c.repos.Players.List(ctx)
	if err != nil {
		return nil, err
	}
	accounts, err := c.repos.ChatAccounts.List(ctx)
	if err != nil {
		return nil, err
	}
	linked, err := c.repos.Characters.ListLinked(ctx)
	if err != nil {
		return nil, err
	}

	s := &snapshot{
		players:     make(map[int64]models.Player, len(players)),
		accounts:    make(map[int64]models.ChatAccount, len(accounts)),
		accountList: accounts,
		linked:      linked,
		owned:       make(map[int64][]models.Character),
		holders:     make(map[int64][]int64),
	}
	for _, p := range players {
		s.players[p.ID] = p
		if p.ChatAccountID != nil {
			s.holders[*p.ChatAccountID] = append(s.holders[*p.ChatAccountID], p.ID)
		}
	}
	for _, a := range accounts {
		s.accounts[a.ID] = a
	}
	for _, lc := range linked {
		s.owned[lc.PlayerID] = append(s.owned[lc.PlayerID], lc.Character)
	}
	return s, nil
}

// chatAccountOf returns the chat account of a player when it has one.
func (s *snapshot) chatAccountOf(playerID int64) (models.ChatAccount, bool) {
	p, ok := s.players[playerID]
	if !ok || p.ChatAccountID == nil {
		return models.ChatAccount{}, false
	}
	a, ok := s.accounts[*p.ChatAccountID]
	return a, ok
}

func characterLabel(c models.Character) string {
	if c.Realm == "" {
		return c.Name
	}
	return fmt.Sprintf("%s-%s", c.Name, c.Realm)
}
