package matching

import (
	"context"
	"sort"

	"guildlink/internal/models"
	"guildlink/internal/repository"
)

type Logger interface {
	Error(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Info(format string, v ...interface{})
	Debug(format string, v ...interface{})
}

// Rule is one linking strategy executed by the Runner in ascending Order.
type Rule interface {
	Name() string
	Order() int
	Run(ctx context.Context, mc *Context) (Stats, error)
}

type Stats struct {
	PlayersCreated int `json:"players_created"`
	CharsLinked    int `json:"chars_linked"`
	ChatLinked     int `json:"chat_linked"`
	StubsCreated   int `json:"stubs_created"`
	Skipped        int `json:"skipped"`
	Suggestions    int `json:"suggestions"`
	Conflicts      int `json:"conflicts"`
	Failed         int `json:"failed"`
}

// Changed reports whether the stats record any write to players or links.
func (s Stats) Changed() bool {
	return s.PlayersCreated+s.CharsLinked+s.ChatLinked+s.StubsCreated > 0
}

func (s *Stats) Add(o Stats) {
	s.PlayersCreated += o.PlayersCreated
	s.CharsLinked += o.CharsLinked
	s.ChatLinked += o.ChatLinked
	s.StubsCreated += o.StubsCreated
	s.Skipped += o.Skipped
	s.Suggestions += o.Suggestions
	s.Conflicts += o.Conflicts
	s.Failed += o.Failed
}

// Context is the snapshot a single pass runs against.
type Context struct {
	// Keyed groups unlinked characters by note key.
	Keyed map[string][]models.Character
	// Keyless holds unlinked characters whose notes yield no key.
	Keyless  []models.Character
	Hints    map[int64][]Hint
	Accounts []models.ChatAccount
	Players  *repository.PlayerCache
}

func (c *Context) Unlinked() int {
	n := len(c.Keyless)
	for _, chars := range c.Keyed {
		n += len(chars)
	}
	return n
}

// Keys returns the note keys in sorted order.
func (c *Context) Keys() []string {
	keys := make([]string, 0, len(c.Keyed))
	for k := range c.Keyed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// GroupHints merges the hints of a group of characters.
func (c *Context) GroupHints(chars []models.Character) []Hint {
	var hints []Hint
	for _, ch := range chars {
		for _, h := range c.Hints[ch.ID] {
			if !hasHint(hints, h) {
				hints = append(hints, h)
			}
		}
	}
	return hints
}

func sortRules(rules []Rule) {
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Order() < rules[j].Order() })
}
