package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/BanjoBob15/gabby-discord-bot/internal/relay"
)

// StateStore persists small gateway values such as the sync position.
// Implemented by storage.Store.
type StateStore interface {
	SaveState(ctx context.Context, scope, key, value string) error
	LoadState(ctx context.Context, scope, key string) (string, error)
}

// MatrixConfig configures the Matrix gateway.
type MatrixConfig struct {
	Homeserver  string
	UserID      string
	AccessToken string
	Rooms       []string   // joined on start; empty means only rooms already joined
	State       StateStore // optional; without it history replays on restart
}

// Matrix relays room messages over the client-server sync API.
type Matrix struct {
	cfg    MatrixConfig
	client *mautrix.Client
	logger *slog.Logger

	inflight sync.WaitGroup
}

// NewMatrix creates a Matrix gateway.
func NewMatrix(cfg MatrixConfig, logger *slog.Logger) (*Matrix, error) {
	if cfg.AccessToken == "" {
		return nil, errors.New("matrix access token is empty")
	}
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Matrix{cfg: cfg, client: client, logger: logger.With("component", "matrix")}
	if cfg.State != nil {
		client.Store = &syncStore{state: cfg.State}
	} else {
		m.logger.Warn("no state store configured; room history will replay on restart")
	}
	return m, nil
}

func (m *Matrix) Name() string { return "matrix" }

func (m *Matrix) Run(ctx context.Context, h Handler) error {
	syncer, ok := m.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return errors.New("matrix client has no default syncer")
	}
	syncer.OnSync(m.client.DontProcessOldEvents)
	defer m.inflight.Wait()
	syncer.OnEventType(event.EventMessage, func(_ context.Context, evt *event.Event) {
		m.dispatch(ctx, h, evt)
	})

	for _, room := range m.cfg.Rooms {
		if _, err := m.client.JoinRoomByID(ctx, id.RoomID(room)); err != nil && !errors.Is(err, mautrix.MForbidden) {
			return fmt.Errorf("joining room %s: %w", room, err)
		}
	}

	const (
		backoffMin = 2 * time.Second
		backoffMax = 5 * time.Minute
	)
	backoff := backoffMin
	for {
		err := m.client.SyncWithContext(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			return nil
		}
		m.logger.Error("sync stopped; reconnecting", "error", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, backoffMax)
	}
}

// dispatch handles evt on its own goroutine so a slow turn does not hold up
// the sync loop.
func (m *Matrix) dispatch(ctx context.Context, h Handler, evt *event.Event) {
	msg, ok := m.message(evt)
	if !ok {
		return
	}
	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		reply, ok := h(ctx, msg)
		if !ok {
			return
		}
		if err := m.reply(ctx, evt.RoomID, evt.ID, reply); err != nil {
			m.logger.Error("sending reply failed", "room", evt.RoomID, "error", err)
		}
	}()
}

func (m *Matrix) message(evt *event.Event) (relay.Message, bool) {
	content := evt.Content.AsMessage()
	if content == nil || content.MsgType != event.MsgText {
		return relay.Message{}, false
	}
	self := id.UserID(m.cfg.UserID)
	return relay.Message{
		ID:         evt.ID.String(),
		ChannelID:  evt.RoomID.String(),
		AuthorID:   evt.Sender.String(),
		AuthorName: evt.Sender.Localpart(),
		Text:       content.Body,
		Mentioned:  mentions(content, self),
		FromSelf:   evt.Sender == self,
	}, true
}

func (m *Matrix) reply(ctx context.Context, room id.RoomID, to id.EventID, text string) error {
	content := event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    text,
		RelatesTo: &event.RelatesTo{
			InReplyTo: &event.InReplyTo{EventID: to},
		},
	}
	_, err := m.client.SendMessageEvent(ctx, room, event.EventMessage, &content)
	return err
}

// mentions reports whether the message explicitly mentions self, either
// through intentional mentions or a matrix.to pill in the HTML body.
func mentions(content *event.MessageEventContent, self id.UserID) bool {
	if content.Mentions != nil {
		for _, u := range content.Mentions.UserIDs {
			if u == self {
				return true
			}
		}
	}
	if content.Format != event.FormatHTML || content.FormattedBody == "" {
		return false
	}
	return htmlMentions(content.FormattedBody, self.String())
}

func htmlMentions(body, self string) bool {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return false
	}
	var walk func(n *html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, a := range n.Attr {
				if a.Key == "href" && pillTarget(a.Val) == self {
					return true
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				return true
			}
		}
		return false
	}
	return walk(doc)
}

// pillTarget extracts the user id from https://matrix.to/#/@user:server.
func pillTarget(href string) string {
	const prefix = "https://matrix.to/#/"
	if !strings.HasPrefix(href, prefix) {
		return ""
	}
	target := strings.TrimPrefix(href, prefix)
	if i := strings.IndexAny(target, "?/"); i >= 0 {
		target = target[:i]
	}
	if dec, err := url.PathUnescape(target); err == nil {
		target = dec
	}
	return target
}

// syncStore keeps the filter id and next_batch token in a StateStore.
type syncStore struct {
	state StateStore
}

var _ mautrix.SyncStore = (*syncStore)(nil)

func (s *syncStore) scope(userID id.UserID) string { return "matrix:" + userID.String() }

func (s *syncStore) SaveFilterID(ctx context.Context, userID id.UserID, filterID string) error {
	return s.state.SaveState(ctx, s.scope(userID), "filter_id", filterID)
}

func (s *syncStore) LoadFilterID(ctx context.Context, userID id.UserID) (string, error) {
	return s.state.LoadState(ctx, s.scope(userID), "filter_id")
}

func (s *syncStore) SaveNextBatch(ctx context.Context, userID id.UserID, nextBatchToken string) error {
	return s.state.SaveState(ctx, s.scope(userID), "next_batch", nextBatchToken)
}

func (s *syncStore) LoadNextBatch(ctx context.Context, userID id.UserID) (string, error) {
	return s.state.LoadState(ctx, s.scope(userID), "next_batch")
}
