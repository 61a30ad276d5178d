// Package persona loads the assistant's character: its system prompt,
// trigger phrases, and the canned replies that bypass the language model.
package persona

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/BanjoBob15/gabby-discord-bot/internal/profile"
)

// Default is the built-in persona used when none is configured.
const Default = "station12"

//go:embed personas/*.yaml
var builtinFS embed.FS

// ReplyKind selects one of the canned replies.
type ReplyKind string

const (
	ReplyCooldown   ReplyKind = "cooldown"
	ReplyName       ReplyKind = "name"
	ReplyCondition  ReplyKind = "condition"
	ReplyMood       ReplyKind = "mood"
	ReplyOverloaded ReplyKind = "overloaded"
	ReplyFailure    ReplyKind = "failure"
)

var replyKinds = []ReplyKind{ReplyCooldown, ReplyName, ReplyCondition, ReplyMood, ReplyOverloaded, ReplyFailure}

// Replies holds text/template sources rendered against the user's profile.
type Replies struct {
	Cooldown   string `yaml:"cooldown"`
	Name       string `yaml:"name"`
	Condition  string `yaml:"condition"`
	Mood       string `yaml:"mood"`
	Overloaded string `yaml:"overloaded"`
	Failure    string `yaml:"failure"`
}

func (r *Replies) field(k ReplyKind) *string {
	switch k {
	case ReplyCooldown:
		return &r.Cooldown
	case ReplyName:
		return &r.Name
	case ReplyCondition:
		return &r.Condition
	case ReplyMood:
		return &r.Mood
	case ReplyOverloaded:
		return &r.Overloaded
	case ReplyFailure:
		return &r.Failure
	}
	return nil
}

// Persona is a loaded, validated persona.
type Persona struct {
	Ref      string  `yaml:"-"`
	Name     string  `yaml:"name"`
	Greeting string  `yaml:"greeting"`
	Activity string  `yaml:"activity"`
	Guidance string  `yaml:"guidance"`
	Prompt   string  `yaml:"prompt"`
	Replies  Replies `yaml:"replies"`

	tmpls map[ReplyKind]*template.Template
}

// Builtins lists the names of the embedded personas.
func Builtins() []string {
	entries, err := fs.ReadDir(builtinFS, "personas")
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".yaml" {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names
}

// Load resolves ref as a built-in persona name or, failing that, as a path
// to a YAML file. An empty ref loads Default. Fields missing from a file
// persona are taken from Default.
func Load(ref string) (*Persona, error) {
	if ref == "" {
		ref = Default
	}

	base, err := readBuiltin(Default)
	if err != nil {
		return nil, err
	}

	var data []byte
	if b, err := builtinFS.ReadFile("personas/" + ref + ".yaml"); err == nil {
		data = b
	} else {
		b, err := os.ReadFile(ref)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("unknown persona %q (built-ins: %s)", ref, strings.Join(Builtins(), ", "))
			}
			return nil, fmt.Errorf("reading persona file: %w", err)
		}
		data = b
	}

	p, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("persona %q: %w", ref, err)
	}
	p.fillFrom(base)
	p.Ref = ref
	if err := p.compile(); err != nil {
		return nil, fmt.Errorf("persona %q: %w", ref, err)
	}
	return p, nil
}

// MustLoad is Load for built-in personas known to be valid.
func MustLoad(ref string) *Persona {
	p, err := Load(ref)
	if err != nil {
		panic(err)
	}
	return p
}

func readBuiltin(name string) (*Persona, error) {
	data, err := builtinFS.ReadFile("personas/" + name + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("reading built-in persona %s: %w", name, err)
	}
	return parse(data)
}

func parse(data []byte) (*Persona, error) {
	var p Persona
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("parsing yaml: %w", err)
	}
	p.Prompt = strings.TrimRight(p.Prompt, "\n")
	return &p, nil
}

func (p *Persona) fillFrom(base *Persona) {
	set := func(dst *string, src string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = src
		}
	}
	set(&p.Name, base.Name)
	set(&p.Greeting, base.Greeting)
	set(&p.Activity, base.Activity)
	set(&p.Guidance, base.Guidance)
	set(&p.Prompt, base.Prompt)
	for _, k := range replyKinds {
		set(p.Replies.field(k), *base.Replies.field(k))
	}
}

func (p *Persona) compile() error {
	p.tmpls = make(map[ReplyKind]*template.Template, len(replyKinds))
	for _, k := range replyKinds {
		t, err := template.New(string(k)).Option("missingkey=error").Parse(*p.Replies.field(k))
		if err != nil {
			return fmt.Errorf("reply %s: %w", k, err)
		}
		if err := t.Execute(new(bytes.Buffer), profile.Default()); err != nil {
			return fmt.Errorf("reply %s: %w", k, err)
		}
		p.tmpls[k] = t
	}
	return nil
}

// Reply renders the canned reply of the given kind for the user's profile.
func (p *Persona) Reply(kind ReplyKind, u profile.UserProfile) string {
	t, ok := p.tmpls[kind]
	if !ok {
		return ""
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, u); err != nil {
		return *p.Replies.field(kind)
	}
	return buf.String()
}

// Operational is the liveness body, e.g. "Gabby is operational.".
func (p *Persona) Operational() string {
	return p.Name + " is operational."
}
