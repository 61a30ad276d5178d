// Package classifier decides whether a chat message is addressed to the
// assistant and, if so, whether it carries a profile update command.
package classifier

import (
	"regexp"
	"strings"

	"github.com/BanjoBob15/gabby-discord-bot/internal/profile"
)

// Trigger holds the phrases that address the assistant.
type Trigger struct {
	Name     string // matched anywhere, case-insensitive
	Greeting string // matched as a prefix, case-insensitive
}

// Matches reports whether text is addressed to the assistant. mentioned is
// the gateway's own notion of an explicit mention.
func (t Trigger) Matches(text string, mentioned bool) bool {
	if mentioned {
		return true
	}
	lower := strings.ToLower(text)
	if g := strings.ToLower(t.Greeting); g != "" && strings.HasPrefix(lower, g) {
		return true
	}
	if n := strings.ToLower(t.Name); n != "" && strings.Contains(lower, n) {
		return true
	}
	return false
}

// Kind tags the outcome of Classify.
type Kind int

const (
	FreeForm Kind = iota
	NameUpdate
	ConditionUpdate
	MoodUpdate
)

func (k Kind) String() string {
	switch k {
	case NameUpdate:
		return "name"
	case ConditionUpdate:
		return "condition"
	case MoodUpdate:
		return "mood"
	default:
		return "free_form"
	}
}

// Command is the classified intent of a triggered message. Value is empty
// for FreeForm.
type Command struct {
	Kind  Kind
	Value string
}

// Patch converts an update command into a profile patch. FreeForm yields an
// empty patch.
func (c Command) Patch() profile.Patch {
	v := c.Value
	switch c.Kind {
	case NameUpdate:
		return profile.Patch{Name: &v}
	case ConditionUpdate:
		return profile.Patch{Condition: &v}
	case MoodUpdate:
		return profile.Patch{Mood: &v}
	default:
		return profile.Patch{}
	}
}

type rule struct {
	kind      Kind
	pattern   *regexp.Regexp
	normalize func(string) string
}

// rules are evaluated in order; the first match wins. Condition precedes
// mood so "i feel stable" is a condition while "i feel happy" is a mood.
var rules = []rule{
	{
		kind:      NameUpdate,
		pattern:   regexp.MustCompile(`(?i)(?:my name is|call me)\s+([a-zA-Z' -]{2,30})`),
		normalize: strings.TrimSpace,
	},
	{
		kind:      ConditionUpdate,
		pattern:   vocabPattern(`i feel|i am|my condition is`, profile.Conditions),
		normalize: strings.ToLower,
	},
	{
		kind:      MoodUpdate,
		pattern:   vocabPattern(`i feel|mood is`, profile.Moods),
		normalize: strings.ToLower,
	},
}

func vocabPattern(lead string, vocab []string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(?:` + lead + `)\s+(` + strings.Join(vocab, "|") + `)[.!]*`)
}

// Classify extracts the first matching update command from text, or returns
// a FreeForm command.
func Classify(text string) Command {
	for _, r := range rules {
		m := r.pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		v := r.normalize(m[1])
		if v == "" {
			continue
		}
		return Command{Kind: r.kind, Value: v}
	}
	return Command{Kind: FreeForm}
}
