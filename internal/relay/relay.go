// Package relay handles one inbound chat message end to end: trigger
// detection, cooldown, profile commands, and language-model turns.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/BanjoBob15/gabby-discord-bot/internal/classifier"
	"github.com/BanjoBob15/gabby-discord-bot/internal/completion"
	"github.com/BanjoBob15/gabby-discord-bot/internal/composer"
	"github.com/BanjoBob15/gabby-discord-bot/internal/persona"
	"github.com/BanjoBob15/gabby-discord-bot/internal/profile"
)

// Message is a gateway-neutral inbound chat event.
type Message struct {
	ID         string
	ChannelID  string
	AuthorID   string
	AuthorName string
	Text       string
	Mentioned  bool // the gateway saw an explicit mention of the assistant
	FromSelf   bool // authored by the assistant's own account
}

// ProfileStore is the subset of profile.Manager the relay uses.
type ProfileStore interface {
	Get(ctx context.Context, userID string) (profile.UserProfile, error)
	Update(ctx context.Context, userID string, patch profile.Patch) (profile.UserProfile, error)
	AppendNote(ctx context.Context, userID, text string) error
}

// Limiter gates accepted turns.
type Limiter interface {
	TryAcquire(now time.Time) bool
}

// Completer sends one chat completion.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Deps wires a Relay. Clock and Logger are optional.
type Deps struct {
	Profiles  ProfileStore
	Limiter   Limiter
	Completer Completer
	Persona   *persona.Persona
	Composer  *composer.Composer
	Clock     func() time.Time
	Logger    *slog.Logger
}

// Stats are cumulative counters since start.
type Stats struct {
	Ignored     int64 `json:"ignored"`
	Throttled   int64 `json:"throttled"`
	Commands    int64 `json:"commands"`
	Completions int64 `json:"completions"`
	Failures    int64 `json:"failures"`
}

// Relay is safe for concurrent use; gateways may call Handle from many
// goroutines.
type Relay struct {
	profiles  ProfileStore
	limiter   Limiter
	completer Completer
	persona   *persona.Persona
	composer  *composer.Composer
	trigger   classifier.Trigger
	now       func() time.Time
	logger    *slog.Logger

	ignored, throttled, commands, completions, failures atomic.Int64
}

// New creates a Relay.
func New(d Deps) *Relay {
	r := &Relay{
		profiles:  d.Profiles,
		limiter:   d.Limiter,
		completer: d.Completer,
		persona:   d.Persona,
		composer:  d.Composer,
		now:       d.Clock,
		logger:    d.Logger,
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With("component", "relay")
	if r.composer == nil {
		r.composer = composer.New(d.Persona.Guidance)
	}
	r.trigger = classifier.Trigger{Name: d.Persona.Name, Greeting: d.Persona.Greeting}
	return r
}

// Stats returns a snapshot of the counters.
func (r *Relay) Stats() Stats {
	return Stats{
		Ignored:     r.ignored.Load(),
		Throttled:   r.throttled.Load(),
		Commands:    r.commands.Load(),
		Completions: r.completions.Load(),
		Failures:    r.failures.Load(),
	}
}

// Handle processes msg and returns the reply to send. ok is false when the
// message is not for the assistant and nothing should be sent.
func (r *Relay) Handle(ctx context.Context, msg Message) (reply string, ok bool) {
	if msg.FromSelf || !r.trigger.Matches(msg.Text, msg.Mentioned) {
		r.ignored.Add(1)
		return "", false
	}

	if !r.limiter.TryAcquire(r.now()) {
		r.throttled.Add(1)
		r.logger.Debug("turn throttled", "user", msg.AuthorID, "channel", msg.ChannelID)
		return r.persona.Reply(persona.ReplyCooldown, profile.Default()), true
	}

	log := r.logger.With("turn", uuid.New().String(), "user", msg.AuthorID, "channel", msg.ChannelID)

	defer func() {
		if rec := recover(); rec != nil {
			r.failures.Add(1)
			log.Error("turn panicked", "panic", fmt.Sprint(rec))
			reply, ok = r.persona.Reply(persona.ReplyFailure, profile.Default()), true
		}
	}()

	return r.turn(ctx, log, msg), true
}

func (r *Relay) turn(ctx context.Context, log *slog.Logger, msg Message) string {
	snapshot, err := r.profiles.Get(ctx, msg.AuthorID)
	if err != nil {
		return r.fail(log, "loading profile", err)
	}

	cmd := classifier.Classify(msg.Text)
	if cmd.Kind != classifier.FreeForm {
		updated, err := r.profiles.Update(ctx, msg.AuthorID, cmd.Patch())
		if err != nil {
			return r.fail(log, "updating profile", err)
		}
		r.commands.Add(1)
		log.Info("profile updated", "field", cmd.Kind.String(), "value", cmd.Value)
		return r.persona.Reply(ackKind(cmd.Kind), updated)
	}

	if err := r.profiles.AppendNote(ctx, msg.AuthorID, profile.NoteLine(msg.Text)); err != nil {
		return r.fail(log, "appending note", err)
	}

	system := r.composer.Compose(r.persona.Prompt, snapshot)
	start := r.now()
	text, err := r.completer.Complete(ctx, system, msg.Text)
	if err != nil {
		r.failures.Add(1)
		if errors.Is(err, completion.ErrRateLimited) {
			log.Warn("completion rate limited upstream", "error", err)
			return r.persona.Reply(persona.ReplyOverloaded, snapshot)
		}
		log.Error("completion failed", "error", err)
		return r.persona.Reply(persona.ReplyFailure, snapshot)
	}

	r.completions.Add(1)
	log.Info("completion sent", "duration", r.now().Sub(start), "chars", len(text))
	return text
}

func (r *Relay) fail(log *slog.Logger, op string, err error) string {
	r.failures.Add(1)
	log.Error("turn failed", "op", op, "error", err)
	return r.persona.Reply(persona.ReplyFailure, profile.Default())
}

func ackKind(k classifier.Kind) persona.ReplyKind {
	switch k {
	case classifier.NameUpdate:
		return persona.ReplyName
	case classifier.ConditionUpdate:
		return persona.ReplyCondition
	default:
		return persona.ReplyMood
	}
}
