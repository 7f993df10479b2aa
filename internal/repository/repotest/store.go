// Package repotest provides an in-memory implementation of the repository
// interfaces that enforces the same link and issue invariants as the schema.
package repotest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"guildlink/internal/models"
	"guildlink/internal/repository"
)

type Store struct {
	mu sync.Mutex

	characters map[int64]*models.Character
	accounts   map[int64]*models.ChatAccount
	players    map[int64]*models.Player
	links      map[int64]int64 // character id -> player id
	issues     []*models.AuditIssue

	nextID int64
	clock  time.Time
}

func New() *Store {
	return &Store{
		characters: make(map[int64]*models.Character),
		accounts:   make(map[int64]*models.ChatAccount),
		players:    make(map[int64]*models.Player),
		links:      make(map[int64]int64),
		clock:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// Repository returns the store wired into the repository aggregate.
func (s *Store) Repository() *repository.Repository {
	return &repository.Repository{
		Characters:   characterRepo{s},
		ChatAccounts: chatAccountRepo{s},
		Players:      playerRepo{s},
		Issues:       issueRepo{s},
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *Store) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

// AddCharacter stores c and returns its id.
func (s *Store) AddCharacter(c models.Character) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		c.ID = s.id()
	}
	s.characters[c.ID] = &c
	return c.ID
}

func (s *Store) AddChatAccount(a models.ChatAccount) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == 0 {
		a.ID = s.id()
	}
	s.accounts[a.ID] = &a
	return a.ID
}

func (s *Store) AddPlayer(p models.Player) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		p.ID = s.id()
	}
	s.players[p.ID] = &p
	return p.ID
}

// Link writes a bridge row directly, bypassing the ownership check.
func (s *Store) Link(playerID, characterID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[characterID] = playerID
}

func (s *Store) UpdateCharacter(id int64, fn func(c *models.Character)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.characters[id]; ok {
		fn(c)
	}
}

func (s *Store) UpdateChatAccount(id int64, fn func(a *models.ChatAccount)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[id]; ok {
		fn(a)
	}
}

// Owner returns the player owning a character, 0 when unlinked.
func (s *Store) Owner(characterID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.links[characterID]
}

func (s *Store) Player(id int64) models.Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.players[id]; ok {
		return *p
	}
	return models.Player{}
}

func (s *Store) PlayerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.players)
}

// Issues returns every issue row of the given type, resolved ones included.
func (s *Store) Issues(t models.IssueType) []models.AuditIssue {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AuditIssue
	for _, i := range s.issues {
		if i.IssueType == t {
			out = append(out, *i)
		}
	}
	return out
}

// OpenIssues returns unresolved issues of the given type.
func (s *Store) OpenIssues(t models.IssueType) []models.AuditIssue {
	var out []models.AuditIssue
	for _, i := range s.Issues(t) {
		if i.IsOpen() {
			out = append(out, i)
		}
	}
	return out
}

func (s *Store) liveCharacter(id int64) (*models.Character, bool) {
	c, ok := s.characters[id]
	if !ok || c.IsRemoved() {
		return nil, false
	}
	return c, true
}

func sortedCharacters(m map[int64]*models.Character, keep func(c *models.Character) bool) []models.Character {
	var out []models.Character
	for _, c := range m {
		if keep(c) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type characterRepo struct{ s *Store }

func (r characterRepo) ListUnlinked(_ context.Context, minRankLevel int) ([]models.Character, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return sortedCharacters(r.s.characters, func(c *models.Character) bool {
		_, linked := r.s.links[c.ID]
		return !c.IsRemoved() && !linked && c.RankLevel >= minRankLevel
	}), nil
}

func (r characterRepo) ListLinked(_ context.Context) ([]models.LinkedCharacter, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	chars := sortedCharacters(r.s.characters, func(c *models.Character) bool {
		_, linked := r.s.links[c.ID]
		return !c.IsRemoved() && linked
	})
	out := make([]models.LinkedCharacter, 0, len(chars))
	for _, c := range chars {
		out = append(out, models.LinkedCharacter{Character: c, PlayerID: r.s.links[c.ID]})
	}
	return out, nil
}

func (r characterRepo) ListActive(_ context.Context) ([]models.Character, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return sortedCharacters(r.s.characters, func(c *models.Character) bool { return !c.IsRemoved() }), nil
}

func (r characterRepo) GetByID(_ context.Context, id int64) (*models.Character, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.characters[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

type chatAccountRepo struct{ s *Store }

func (r chatAccountRepo) List(_ context.Context) ([]models.ChatAccount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.ChatAccount
	for _, a := range r.s.accounts {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r chatAccountRepo) GetByID(_ context.Context, id int64) (*models.ChatAccount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.accounts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

type playerRepo struct{ s *Store }

func (r playerRepo) List(_ context.Context) ([]models.Player, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Player
	for _, p := range r.s.players {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r playerRepo) GetByID(_ context.Context, id int64) (*models.Player, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.players[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r playerRepo) ListByChatAccount(_ context.Context, chatAccountID int64) ([]models.Player, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Player
	for _, p := range r.s.players {
		if p.ChatAccountID != nil && *p.ChatAccountID == chatAccountID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r playerRepo) GetByCharacter(_ context.Context, characterID int64) (*models.Player, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	pid, ok := r.s.links[characterID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *r.s.players[pid]
	return &cp, nil
}

func (r playerRepo) ListCharacters(_ context.Context, playerID int64) ([]models.Character, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return sortedCharacters(r.s.characters, func(c *models.Character) bool {
		return !c.IsRemoved() && r.s.links[c.ID] == playerID
	}), nil
}

func (r playerRepo) chatHeld(chatAccountID int64) bool {
	for _, p := range r.s.players {
		if p.ChatAccountID != nil && *p.ChatAccountID == chatAccountID {
			return true
		}
	}
	return false
}

func (r playerRepo) linkable(characterIDs []int64) []int64 {
	var out []int64
	for _, id := range characterIDs {
		if _, ok := r.s.liveCharacter(id); !ok {
			continue
		}
		if _, owned := r.s.links[id]; owned {
			continue
		}
		out = append(out, id)
	}
	return out
}

func (r playerRepo) CreateWithCharacters(_ context.Context, draft models.PlayerDraft, characterIDs []int64) (int64, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if draft.ChatAccountID != nil && r.chatHeld(*draft.ChatAccountID) {
		return 0, 0, fmt.Errorf("chat account %d: %w", *draft.ChatAccountID, repository.ErrConflict)
	}
	ids := r.linkable(characterIDs)
	if len(ids) == 0 {
		return 0, 0, fmt.Errorf("no linkable characters for %q: %w", draft.DisplayName, repository.ErrConflict)
	}
	now := r.s.tick()
	p := &models.Player{
		ID:            r.s.id(),
		DisplayName:   draft.DisplayName,
		ChatAccountID: draft.ChatAccountID,
		RankID:        draft.RankID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	r.s.players[p.ID] = p
	for _, id := range ids {
		r.s.links[id] = p.ID
	}
	return p.ID, len(ids), nil
}

func (r playerRepo) LinkCharacters(_ context.Context, playerID int64, characterIDs []int64) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.players[playerID]; !ok {
		return 0, fmt.Errorf("player %d: %w", playerID, repository.ErrNotFound)
	}
	ids := r.linkable(characterIDs)
	for _, id := range ids {
		r.s.links[id] = playerID
	}
	return len(ids), nil
}

func (r playerRepo) UnlinkCharacter(_ context.Context, playerID, characterID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if owner, ok := r.s.links[characterID]; !ok || owner != playerID {
		return fmt.Errorf("link %d/%d: %w", playerID, characterID, repository.ErrNotFound)
	}
	delete(r.s.links, characterID)
	if p, ok := r.s.players[playerID]; ok {
		if p.MainCharacterID != nil && *p.MainCharacterID == characterID {
			p.MainCharacterID = nil
		}
		if p.OffspecCharacterID != nil && *p.OffspecCharacterID == characterID {
			p.OffspecCharacterID = nil
		}
	}
	return nil
}

func (r playerRepo) AttachChatAccount(_ context.Context, playerID, chatAccountID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.chatHeld(chatAccountID) {
		return fmt.Errorf("chat account %d: %w", chatAccountID, repository.ErrConflict)
	}
	p, ok := r.s.players[playerID]
	if !ok {
		return fmt.Errorf("player %d: %w", playerID, repository.ErrNotFound)
	}
	if p.ChatAccountID != nil {
		return fmt.Errorf("player %d already has a chat account: %w", playerID, repository.ErrConflict)
	}
	id := chatAccountID
	p.ChatAccountID = &id
	return nil
}

type issueRepo struct{ s *Store }

func (r issueRepo) Upsert(_ context.Context, draft models.IssueDraft) (int64, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.tick()
	for _, i := range r.s.issues {
		if i.IsOpen() && i.IssueType == draft.IssueType && i.Hash == draft.Hash {
			i.Severity = draft.Severity
			i.CharacterID = draft.CharacterID
			i.ChatAccountID = draft.ChatAccountID
			i.PlayerID = draft.PlayerID
			i.Summary = draft.Summary
			i.Details = draft.Details
			i.UpdatedAt = now
			return i.ID, false, nil
		}
	}
	i := &models.AuditIssue{
		ID:            r.s.id(),
		IssueType:     draft.IssueType,
		Severity:      draft.Severity,
		CharacterID:   draft.CharacterID,
		ChatAccountID: draft.ChatAccountID,
		PlayerID:      draft.PlayerID,
		Summary:       draft.Summary,
		Details:       draft.Details,
		Hash:          draft.Hash,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	r.s.issues = append(r.s.issues, i)
	return i.ID, true, nil
}

func (r issueRepo) GetByID(_ context.Context, id int64) (*models.AuditIssue, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, i := range r.s.issues {
		if i.ID == id {
			cp := *i
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r issueRepo) ListOpen(_ context.Context, types ...models.IssueType) ([]models.AuditIssue, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	want := make(map[models.IssueType]bool, len(types))
	for _, t := range types {
		want[t] = true
	}
	var out []models.AuditIssue
	for _, i := range r.s.issues {
		if !i.IsOpen() {
			continue
		}
		if len(want) > 0 && !want[i.IssueType] {
			continue
		}
		out = append(out, *i)
	}
	return out, nil
}

func (r issueRepo) Resolve(_ context.Context, id int64, resolvedBy, resolution string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, i := range r.s.issues {
		if i.ID == id && i.IsOpen() {
			now := r.s.tick()
			i.ResolvedAt = &now
			i.ResolvedBy = resolvedBy
			i.Resolution = resolution
			return nil
		}
	}
	return fmt.Errorf("open issue %d: %w", id, repository.ErrNotFound)
}
