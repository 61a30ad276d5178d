package profile

import (
	"fmt"
	"slices"
	"unicode/utf8"
)

// DefaultName is the sentinel name for a user who has not introduced themselves.
const DefaultName = "First Liner"

// MaxNameLength bounds a name set through the CLI, the admin API or MCP.
const MaxNameLength = 30

// Moods and Conditions are the only values the classifier will ever write.
var (
	Moods      = []string{"happy", "sad", "frustrated", "neutral", "hopeful", "angry", "afraid"}
	Conditions = []string{"stable", "weak", "anxious", "confused", "strong", "disoriented"}
)

// UserProfile is the small mutable record kept per user. The JSON layout is
// the persisted layout.
type UserProfile struct {
	Name      string   `json:"name"`
	Mood      string   `json:"mood"`
	Condition string   `json:"condition"`
	Notes     []string `json:"notes"`
}

// Default returns the record used for users that have never been written.
func Default() UserProfile {
	return UserProfile{
		Name:      DefaultName,
		Mood:      "neutral",
		Condition: "stable",
		Notes:     []string{},
	}
}

// Clone returns a deep copy.
func (p UserProfile) Clone() UserProfile {
	cp := p
	cp.Notes = make([]string, len(p.Notes))
	copy(cp.Notes, p.Notes)
	return cp
}

// Equal reports whether two profiles hold the same values.
func (p UserProfile) Equal(o UserProfile) bool {
	return p.Name == o.Name && p.Mood == o.Mood && p.Condition == o.Condition && slices.Equal(p.Notes, o.Notes)
}

// ValidMood reports whether m belongs to the mood vocabulary.
func ValidMood(m string) bool { return slices.Contains(Moods, m) }

// ValidCondition reports whether c belongs to the condition vocabulary.
func ValidCondition(c string) bool { return slices.Contains(Conditions, c) }

// Patch is a partial update. Nil fields are left as they are. Notes are
// append-only and never part of a patch.
type Patch struct {
	Name      *string
	Mood      *string
	Condition *string
}

// Apply shallow-merges the patch into p and returns the result.
func (pt Patch) Apply(p UserProfile) UserProfile {
	out := p.Clone()
	if pt.Name != nil {
		out.Name = *pt.Name
	}
	if pt.Mood != nil {
		out.Mood = *pt.Mood
	}
	if pt.Condition != nil {
		out.Condition = *pt.Condition
	}
	return out
}

// Empty reports whether the patch changes nothing.
func (pt Patch) Empty() bool {
	return pt.Name == nil && pt.Mood == nil && pt.Condition == nil
}

// FieldPatch builds a single-field patch from a field name as used by the
// CLI, admin API and MCP tools.
func FieldPatch(field, value string) (Patch, error) {
	switch field {
	case "name":
		if n := utf8.RuneCountInString(value); n == 0 || n > MaxNameLength {
			return Patch{}, fmt.Errorf("invalid name %q (want 1 to %d characters)", value, MaxNameLength)
		}
		return Patch{Name: &value}, nil
	case "mood":
		if !ValidMood(value) {
			return Patch{}, fmt.Errorf("invalid mood %q (want one of %v)", value, Moods)
		}
		return Patch{Mood: &value}, nil
	case "condition":
		if !ValidCondition(value) {
			return Patch{}, fmt.Errorf("invalid condition %q (want one of %v)", value, Conditions)
		}
		return Patch{Condition: &value}, nil
	default:
		return Patch{}, fmt.Errorf("unknown profile field %q", field)
	}
}

// NoteLine renders a transcript line the way it is stored in Notes.
func NoteLine(text string) string {
	return `User said: "` + text + `"`
}
