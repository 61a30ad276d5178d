// Package gateway connects the relay to chat platforms. Each gateway turns
// platform events into relay.Message values and sends replies back into the
// conversation that produced them.
package gateway

import (
	"context"

	"github.com/BanjoBob15/gabby-discord-bot/internal/relay"
)

// Handler produces the reply for one inbound message. ok is false when
// nothing should be sent.
type Handler func(ctx context.Context, msg relay.Message) (reply string, ok bool)

// Gateway is a running connection to a chat platform.
type Gateway interface {
	Name() string
	// Run connects and dispatches messages to h until ctx is done. A
	// returned error means the connection could not be established or
	// was lost for good.
	Run(ctx context.Context, h Handler) error
}
