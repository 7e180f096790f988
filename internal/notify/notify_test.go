package notify

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paulirotta/ahma-mcp-go/internal/opmon"
)

func TestChannel_PostAndReceiveCompletion(t *testing.T) {
	ch := NewChannel(4, zerolog.Nop())
	ch.PostCompletion(CompletionNotification{OperationID: "op-1", TerminalStatus: opmon.StatusCompleted, ExitCode: 0})

	select {
	case n := <-ch.Completions():
		assert.Equal(t, "op-1", n.OperationID)
	default:
		t.Fatal("expected a buffered notification")
	}
}

func TestChannel_DropsRatherThanBlocksWhenFull(t *testing.T) {
	ch := NewChannel(1, zerolog.Nop())
	ch.PostCompletion(CompletionNotification{OperationID: "first"})
	ch.PostCompletion(CompletionNotification{OperationID: "second"}) // must not block

	n := <-ch.Completions()
	assert.Equal(t, "first", n.OperationID)
}

func TestChannel_PostListChangedIsNonBlocking(t *testing.T) {
	ch := NewChannel(1, zerolog.Nop())
	for i := 0; i < 20; i++ {
		ch.PostListChanged()
	}
	require.NotEmpty(t, ch.ListChanged())
}

func TestExcerpt_TruncatesLongOutput(t *testing.T) {
	long := strings.Repeat("a", ExcerptBytes+100)
	assert.Equal(t, ExcerptBytes, len(Excerpt(long)))
}

func TestExcerpt_PassesThroughShortOutput(t *testing.T) {
	assert.Equal(t, "short", Excerpt("short"))
}
