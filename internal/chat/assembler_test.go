package chat

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/openclaw-chat/internal/protocol"
)

func delta(session, run, text string) protocol.ChatEvent {
	msg, _ := json.Marshal(map[string]interface{}{"role": "assistant", "content": text})
	return protocol.ChatEvent{SessionKey: session, RunID: run, State: protocol.ChatStateDelta, Message: msg}
}

func terminal(session, run, state string) protocol.ChatEvent {
	return protocol.ChatEvent{SessionKey: session, RunID: run, State: state}
}

func TestDeltasAssembleIntoOneMessage(t *testing.T) {
	a := NewAssembler()
	a.Apply(delta("main", "r1", "Hel"))
	a.Apply(delta("main", "r1", "lo"))
	a.Apply(terminal("main", "r1", protocol.ChatStateFinal))

	msgs := a.Messages("main")
	require.Len(t, msgs, 1)
	assert.Equal(t, RoleAssistant, msgs[0].Role)
	assert.Equal(t, "Hello", msgs[0].Content)
	assert.Equal(t, "r1", msgs[0].RunID)
	assert.False(t, msgs[0].Partial)
	assert.False(t, msgs[0].Aborted)

	_, streaming := a.StreamingRunID("main")
	assert.False(t, streaming)
}

func TestDeltaConcatenationPreservesArrivalOrder(t *testing.T) {
	a := NewAssembler()
	var want strings.Builder
	for i := 0; i < 50; i++ {
		chunk := fmt.Sprintf("<%d>", i)
		want.WriteString(chunk)
		a.Apply(delta("s", "run", chunk))
	}

	msgs := a.Messages("s")
	require.Len(t, msgs, 1)
	assert.Equal(t, want.String(), msgs[0].Content)
	assert.True(t, msgs[0].Partial)
}

func TestDeltaWithSegmentedContent(t *testing.T) {
	a := NewAssembler()
	a.Apply(protocol.ChatEvent{
		SessionKey: "s", RunID: "r", State: protocol.ChatStateDelta,
		Message: json.RawMessage(`{"role":"assistant","content":[{"type":"text","text":"foo"},{"type":"thinking","text":"skip"},{"type":"text","text":"bar"}]}`),
	})
	assert.Equal(t, "foobar", a.Messages("s")[0].Content)
}

func TestEmptyFirstDeltaCreatesNothing(t *testing.T) {
	a := NewAssembler()
	assert.False(t, a.Apply(delta("s", "r", "")))
	assert.Empty(t, a.Messages("s"))

	run, ok := a.StreamingRunID("s")
	assert.True(t, ok)
	assert.Equal(t, "r", run)
}

func TestNewRunStartsNewMessage(t *testing.T) {
	a := NewAssembler()
	a.Apply(delta("s", "r1", "first"))
	a.Apply(delta("s", "r2", "second"))

	msgs := a.Messages("s")
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Content)
	assert.True(t, msgs[0].Partial)
	assert.Equal(t, "second", msgs[1].Content)
	assert.Equal(t, "r2", msgs[1].RunID)

	run, _ := a.StreamingRunID("s")
	assert.Equal(t, "r2", run)

	// finalizing the older run must not clear the newer marker
	a.Apply(terminal("s", "r1", protocol.ChatStateFinal))
	run, ok := a.StreamingRunID("s")
	assert.True(t, ok)
	assert.Equal(t, "r2", run)
	assert.False(t, a.Messages("s")[0].Partial)
	assert.True(t, a.Messages("s")[1].Partial)
}

func TestDeltaAfterFinalStartsNewMessage(t *testing.T) {
	a := NewAssembler()
	a.Apply(delta("s", "r1", "a"))
	a.Apply(terminal("s", "r1", protocol.ChatStateFinal))
	a.Apply(delta("s", "r1", "b"))

	msgs := a.Messages("s")
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", msgs[0].Content)
	assert.Equal(t, "b", msgs[1].Content)
}

func TestAbortedFreezesAndFlags(t *testing.T) {
	a := NewAssembler()
	a.Apply(delta("s", "r1", "partial answer"))
	a.Apply(terminal("s", "r1", protocol.ChatStateAborted))

	m := a.Messages("s")[0]
	assert.False(t, m.Partial)
	assert.True(t, m.Aborted)
	assert.Equal(t, "partial answer", m.Content)
}

func TestErrorAppendsAnnotation(t *testing.T) {
	a := NewAssembler()
	a.Apply(delta("s", "r1", "half"))
	ev := terminal("s", "r1", protocol.ChatStateError)
	ev.ErrorMessage = "model overloaded"
	a.Apply(ev)

	m := a.Messages("s")[0]
	assert.False(t, m.Partial)
	assert.Equal(t, "half\n\n[error] model overloaded", m.Content)
}

func TestTerminalEventsWithoutMessageAreNoOps(t *testing.T) {
	for _, state := range []string{protocol.ChatStateFinal, protocol.ChatStateAborted, protocol.ChatStateError} {
		t.Run(state, func(t *testing.T) {
			a := NewAssembler()
			a.AppendUser("s", "r1", "question")
			assert.False(t, a.Apply(terminal("s", "r1", state)))

			msgs := a.Messages("s")
			require.Len(t, msgs, 1)
			assert.Equal(t, RoleUser, msgs[0].Role)
			assert.Equal(t, "question", msgs[0].Content)
			assert.False(t, msgs[0].Aborted)
		})
	}
}

func TestTerminalEventWithoutRunIDLeavesUserMessage(t *testing.T) {
	for _, state := range []string{protocol.ChatStateFinal, protocol.ChatStateAborted, protocol.ChatStateError} {
		t.Run(state, func(t *testing.T) {
			a := NewAssembler()
			a.AppendUser("main", "r1", "hi")
			ev := terminal("main", "", state)
			ev.ErrorMessage = "boom"
			assert.False(t, a.Apply(ev))

			msgs := a.Messages("main")
			require.Len(t, msgs, 1)
			assert.Equal(t, "hi", msgs[0].Content)
			assert.False(t, msgs[0].Aborted)

			runID, ok := a.StreamingRunID("main")
			require.True(t, ok)
			assert.Equal(t, "r1", runID)
		})
	}
}

func TestSessionsAreIndependent(t *testing.T) {
	a := NewAssembler()
	a.Apply(delta("a", "r1", "alpha"))
	a.Apply(delta("b", "r1", "beta"))
	a.Apply(terminal("a", "r1", protocol.ChatStateFinal))

	assert.False(t, a.Messages("a")[0].Partial)
	assert.True(t, a.Messages("b")[0].Partial)
	assert.Equal(t, "beta", a.Messages("b")[0].Content)
	assert.Equal(t, []string{"a", "b"}, a.Sessions())
}

func TestConcurrentSessions(t *testing.T) {
	a := NewAssembler()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("s%d", i)
			for j := 0; j < 100; j++ {
				a.Apply(delta(key, "r", "x"))
			}
			a.Apply(terminal(key, "r", protocol.ChatStateFinal))
		}(i)
	}
	wg.Wait()

	for i := 0; i < 20; i++ {
		msgs := a.Messages(fmt.Sprintf("s%d", i))
		require.Len(t, msgs, 1)
		assert.Len(t, msgs[0].Content, 100)
		assert.False(t, msgs[0].Partial)
	}
}

func TestAppendUserAndEndRun(t *testing.T) {
	a := NewAssembler()
	a.AppendUser("s", "r1", "hi")

	run, ok := a.StreamingRunID("s")
	require.True(t, ok)
	assert.Equal(t, "r1", run)

	a.EndRun("s", "other")
	_, ok = a.StreamingRunID("s")
	assert.True(t, ok)

	a.EndRun("s", "r1")
	_, ok = a.StreamingRunID("s")
	assert.False(t, ok)
}

func TestRenameRunFollowsGatewayID(t *testing.T) {
	a := NewAssembler()
	a.AppendUser("s", "local", "hi")
	a.RenameRun("s", "local", "server")

	run, ok := a.StreamingRunID("s")
	require.True(t, ok)
	assert.Equal(t, "server", run)

	a.Apply(delta("s", "server", "yo"))
	assert.True(t, a.Apply(terminal("s", "server", protocol.ChatStateFinal)))
	_, ok = a.StreamingRunID("s")
	assert.False(t, ok)

	msgs := a.Messages("s")
	require.Len(t, msgs, 2)
	assert.Equal(t, "yo", msgs[1].Content)
	assert.Equal(t, "server", msgs[1].RunID)

	// unknown sessions and no-op renames are ignored
	a.RenameRun("other", "local", "server")
	a.RenameRun("s", "server", "")
	assert.Nil(t, a.Messages("other"))
}

func TestReplaceFreezesHistory(t *testing.T) {
	a := NewAssembler()
	a.Apply(delta("s", "r1", "stale"))
	a.Replace("s", []Message{
		{Role: RoleUser, Content: "q"},
		{Role: RoleAssistant, Content: "a", Partial: true},
	})

	msgs := a.Messages("s")
	require.Len(t, msgs, 2)
	assert.False(t, msgs[1].Partial)

	// the live run keeps streaming after a reload
	run, ok := a.StreamingRunID("s")
	assert.True(t, ok)
	assert.Equal(t, "r1", run)
}

func TestMessagesReturnsCopy(t *testing.T) {
	a := NewAssembler()
	a.Apply(delta("s", "r1", "x"))
	msgs := a.Messages("s")
	msgs[0].Content = "mutated"
	assert.Equal(t, "x", a.Messages("s")[0].Content)
}

func TestDrop(t *testing.T) {
	a := NewAssembler()
	a.Apply(delta("s", "r1", "x"))
	a.Drop("s")
	assert.Nil(t, a.Messages("s"))
	_, ok := a.StreamingRunID("s")
	assert.False(t, ok)
}
