// Package notify implements the callback channel (component C8, spec
// §4.8): a best-effort completion notification path layered on top of
// the operation monitor, which remains the only authoritative record.
package notify

import (
	"github.com/rs/zerolog"

	"github.com/paulirotta/ahma-mcp-go/internal/opmon"
)

// ExcerptBytes bounds the combined_output_excerpt carried on a
// CompletionNotification (spec §4.8 payload fields).
const ExcerptBytes = 4096

// CompletionNotification is posted once per completed asynchronous
// operation; synchronous calls and sequences return their result directly
// and post none.
type CompletionNotification struct {
	OperationID           string
	TerminalStatus        opmon.Status
	ExitCode              int
	CombinedOutputExcerpt string
}

// ListChangedNotification signals a successful hot-reload (spec §4.9:
// "emit a tools/list_changed signal on the callback channel").
type ListChangedNotification struct{}

// Channel is the bounded, send-only-from-the-executor's-perspective
// transport for notifications. Delivery is best-effort: when the channel
// is full, the new notification is dropped (the pending ones are kept)
// rather than blocking the executor, since C4 (the monitor) is always the authoritative fallback
// (spec §4.8: "a caller that missed the notification recovers via await
// or status").
type Channel struct {
	completions chan CompletionNotification
	listChanged chan ListChangedNotification
	log         zerolog.Logger
}

// NewChannel creates a Channel with the given buffer depth.
func NewChannel(depth int, log zerolog.Logger) *Channel {
	if depth <= 0 {
		depth = 256
	}
	return &Channel{
		completions: make(chan CompletionNotification, depth),
		listChanged: make(chan ListChangedNotification, 8),
		log:         log,
	}
}

// PostCompletion delivers a completion notification, best-effort: if the
// channel is full, the notification is dropped and logged rather than
// blocking the executor (spec §4.8 "Delivery is best-effort").
func (c *Channel) PostCompletion(n CompletionNotification) {
	select {
	case c.completions <- n:
	default:
		c.log.Warn().Str("operation_id", n.OperationID).Msg("notify: completion channel full, dropping notification")
	}
}

// PostListChanged signals that the tool registry snapshot changed (C9).
func (c *Channel) PostListChanged() {
	select {
	case c.listChanged <- ListChangedNotification{}:
	default:
	}
}

// Completions exposes the receive side for the transport layer to
// forward as MCP progress notifications.
func (c *Channel) Completions() <-chan CompletionNotification { return c.completions }

// ListChanged exposes the receive side for tools/list_changed signals.
func (c *Channel) ListChanged() <-chan ListChangedNotification { return c.listChanged }

// Excerpt truncates combined output to ExcerptBytes for notification
// payloads; the full output remains retrievable via status/await from C4.
func Excerpt(combinedOutput string) string {
	if len(combinedOutput) <= ExcerptBytes {
		return combinedOutput
	}
	return combinedOutput[:ExcerptBytes]
}
