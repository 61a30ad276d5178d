package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/chzyer/readline"

	"github.com/BanjoBob15/gabby-discord-bot/internal/relay"
)

// ConsoleConfig configures the interactive terminal gateway.
type ConsoleConfig struct {
	UserID string // profile key used for every line; defaults to "console"
	Name   string // assistant name printed before replies
}

type lineReader interface {
	Readline() (string, error)
	Close() error
}

// Console reads lines from the terminal and prints replies. Every line is
// treated as a direct mention, so no trigger word is needed.
type Console struct {
	cfg ConsoleConfig

	// open is replaced in tests.
	open func() (lineReader, io.Writer, error)
}

// NewConsole creates a terminal gateway backed by readline.
func NewConsole(cfg ConsoleConfig) *Console {
	if cfg.UserID == "" {
		cfg.UserID = "console"
	}
	if cfg.Name == "" {
		cfg.Name = "gabby"
	}
	return &Console{
		cfg: cfg,
		open: func() (lineReader, io.Writer, error) {
			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "you> ",
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
			})
			if err != nil {
				return nil, nil, err
			}
			return rl, rl.Stdout(), nil
		},
	}
}

func (c *Console) Name() string { return "console" }

func (c *Console) Run(ctx context.Context, h Handler) error {
	rl, out, err := c.open()
	if err != nil {
		return fmt.Errorf("opening terminal: %w", err)
	}

	var closeOnce sync.Once
	closeReader := func() { closeOnce.Do(func() { rl.Close() }) }
	defer closeReader()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			closeReader()
		case <-stop:
		}
	}()

	prefix := strings.ToLower(c.cfg.Name) + "> "
	for seq := 1; ; seq++ {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading line: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		reply, ok := h(ctx, relay.Message{
			ID:         strconv.Itoa(seq),
			ChannelID:  "console",
			AuthorID:   c.cfg.UserID,
			AuthorName: c.cfg.UserID,
			Text:       line,
			Mentioned:  true,
		})
		if ok {
			fmt.Fprintln(out, prefix+reply)
		}
	}
}
