// Package composer renders the system prompt sent with every free-form turn.
package composer

import (
	"strings"

	"github.com/BanjoBob15/gabby-discord-bot/internal/profile"
)

const (
	// DefaultGuidance closes the profile block.
	DefaultGuidance = "Use this data to guide a helpful and naturally conversational response."
	// DefaultNoteWindow is how many trailing notes are included.
	DefaultNoteWindow = 5
	noteSeparator     = "; "
)

// Composer merges persona text with a profile snapshot. The zero value uses
// DefaultGuidance and DefaultNoteWindow.
type Composer struct {
	Guidance   string
	NoteWindow int
}

// New creates a Composer with the given guidance line. An empty guidance
// uses DefaultGuidance.
func New(guidance string) *Composer {
	return &Composer{Guidance: guidance}
}

// Compose returns persona followed by the rendered profile block. It never
// fails and never mutates p.
func (c *Composer) Compose(persona string, p profile.UserProfile) string {
	guidance := c.Guidance
	if guidance == "" {
		guidance = DefaultGuidance
	}
	window := c.NoteWindow
	if window <= 0 {
		window = DefaultNoteWindow
	}

	var sb strings.Builder
	sb.WriteString(persona)
	sb.WriteString("\n\nUser profile:\n")
	sb.WriteString("- Name: " + p.Name + "\n")
	sb.WriteString("- Condition: " + p.Condition + "\n")
	sb.WriteString("- Mood: " + p.Mood + "\n")
	sb.WriteString("- Session Notes: " + strings.Join(lastN(p.Notes, window), noteSeparator) + "\n")
	sb.WriteString("\n")
	sb.WriteString(guidance)
	sb.WriteString("\n")
	return sb.String()
}

// lastN returns the trailing n entries in their original order.
func lastN(notes []string, n int) []string {
	if len(notes) <= n {
		return notes
	}
	return notes[len(notes)-n:]
}
