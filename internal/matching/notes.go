package matching

import (
	"regexp"
	"strings"

	"guildlink/internal/models"
)

type HintKind string

const (
	// HintChat names a chat account ("Discord: X", "@X").
	HintChat HintKind = "chat"
	// HintAltOf names the main character of an alt ("alt of X").
	HintAltOf HintKind = "alt_of"
	// HintMain names the main character ("main: X").
	HintMain HintKind = "main"
)

type Hint struct {
	Kind  HintKind
	Value string
}

// NoteExtractor derives identity hints from free-text roster notes.
// Unparseable notes yield no key and no hints.
type NoteExtractor interface {
	NoteKey(note string) string
	Hints(note string) []Hint
}

var (
	discordHintRe = regexp.MustCompile(`(?i)\bdiscord(?:\s*[:=\-]\s*|\s+)@?([\p{L}\p{N}._]{2,32})`)
	handleHintRe  = regexp.MustCompile(`(?:^|\s)@([\p{L}\p{N}._]{2,32})`)
	altOfHintRe   = regexp.MustCompile(`(?i)\balts?(?:\s+(?:of|de|von)\s+|\s*[:=\-]\s*)([\p{L}\p{N}]{2,})`)
	mainHintRe    = regexp.MustCompile(`(?i)\bmain\s*[:=\-]\s*([\p{L}\p{N}]{2,})`)
	possessiveRe  = regexp.MustCompile(`(?i)['’]s$`)
)

var commentarySeparators = []string{" - ", "(", "[", "/", ",", "|", ";", ":"}

var altWords = map[string]bool{
	"alt":   true,
	"alts":  true,
	"twink": true,
	"bank":  true,
}

// RegexExtractor is the default pattern-based NoteExtractor.
type RegexExtractor struct{}

func NewRegexExtractor() *RegexExtractor {
	return &RegexExtractor{}
}

func (e *RegexExtractor) Hints(note string) []Hint {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil
	}

	var hints []Hint
	seen := make(map[Hint]bool)
	add := func(kind HintKind, raw string) {
		v := NormalizeName(strings.TrimRight(raw, "._"))
		h := Hint{Kind: kind, Value: v}
		if len([]rune(v)) < 2 || seen[h] {
			return
		}
		seen[h] = true
		hints = append(hints, h)
	}

	for _, m := range discordHintRe.FindAllStringSubmatch(note, -1) {
		add(HintChat, m[1])
	}
	for _, m := range handleHintRe.FindAllStringSubmatch(note, -1) {
		add(HintChat, m[1])
	}
	for _, m := range altOfHintRe.FindAllStringSubmatch(note, -1) {
		add(HintAltOf, m[1])
	}
	for _, m := range mainHintRe.FindAllStringSubmatch(note, -1) {
		add(HintMain, m[1])
	}
	return hints
}

// NoteKey returns the canonical identity key of a note: an explicit chat
// hint, then an alt-of/main reference, then the leading word with alt
// suffixes and trailing commentary removed.
func (e *RegexExtractor) NoteKey(note string) string {
	hints := e.Hints(note)
	for _, kind := range []HintKind{HintChat, HintAltOf, HintMain} {
		for _, h := range hints {
			if h.Kind == kind {
				return h.Value
			}
		}
	}

	text := strings.TrimSpace(note)
	for _, sep := range commentarySeparators {
		if idx := strings.Index(text, sep); idx >= 0 {
			text = text[:idx]
		}
	}

	var words []string
	for _, w := range strings.Fields(text) {
		w = possessiveRe.ReplaceAllString(w, "")
		if altWords[strings.ToLower(w)] {
			continue
		}
		words = append(words, w)
	}
	if len(words) == 0 {
		return ""
	}

	key := NormalizeName(words[0])
	if len([]rune(key)) < 2 || !containsLetter(key) {
		return ""
	}
	return key
}

func containsLetter(s string) bool {
	for _, r := range s {
		if ('a' <= r && r <= 'z') || r > 127 {
			return true
		}
	}
	return false
}

// CharacterNoteKey keys a character by its guild note, falling back to the officer note.
func CharacterNoteKey(ex NoteExtractor, c models.Character) string {
	if key := ex.NoteKey(c.GuildNote); key != "" {
		return key
	}
	return ex.NoteKey(c.OfficerNote)
}

// CharacterHints collects the hints of both notes of a character.
func CharacterHints(ex NoteExtractor, c models.Character) []Hint {
	hints := ex.Hints(c.GuildNote)
	for _, h := range ex.Hints(c.OfficerNote) {
		if !hasHint(hints, h) {
			hints = append(hints, h)
		}
	}
	return hints
}

func hasHint(hints []Hint, h Hint) bool {
	for _, x := range hints {
		if x == h {
			return true
		}
	}
	return false
}

// ChatHintValues returns the values of the chat hints.
func ChatHintValues(hints []Hint) []string {
	var out []string
	for _, h := range hints {
		if h.Kind == HintChat {
			out = append(out, h.Value)
		}
	}
	return out
}
