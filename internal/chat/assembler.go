// Package chat folds streamed chat events into per-session message logs.
package chat

import (
	"sort"
	"sync"
	"time"

	"github.com/openclaw/openclaw-chat/internal/protocol"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry of a session log. Partial messages are still
// receiving deltas; everything else is frozen.
type Message struct {
	Role    Role
	Content string
	RunID   string
	Partial bool
	Aborted bool
	TS      time.Time
}

type sessionState struct {
	messages       []Message
	streamingRunID string
}

// Assembler owns the message logs of every session seen by one client.
type Assembler struct {
	mu       sync.RWMutex
	sessions map[string]*sessionState
	now      func() time.Time
}

func NewAssembler() *Assembler {
	return &Assembler{
		sessions: make(map[string]*sessionState),
		now:      time.Now,
	}
}

func (a *Assembler) session(key string) *sessionState {
	s, ok := a.sessions[key]
	if !ok {
		s = &sessionState{}
		a.sessions[key] = s
	}
	return s
}

// Apply folds one chat event into its session log. It reports whether the
// log changed.
func (a *Assembler) Apply(ev protocol.ChatEvent) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := a.session(ev.SessionKey)
	switch ev.State {
	case protocol.ChatStateDelta:
		return a.applyDelta(s, ev)
	case protocol.ChatStateFinal:
		return s.finish(ev.RunID, func(m *Message) {})
	case protocol.ChatStateAborted:
		return s.finish(ev.RunID, func(m *Message) { m.Aborted = true })
	case protocol.ChatStateError:
		return s.finish(ev.RunID, func(m *Message) { m.Content += errorAnnotation(ev.ErrorMessage) })
	}
	return false
}

func (a *Assembler) applyDelta(s *sessionState, ev protocol.ChatEvent) bool {
	text := protocol.ExtractText(ev.Message)
	s.streamingRunID = ev.RunID

	if n := len(s.messages); n > 0 {
		last := &s.messages[n-1]
		if last.Role == RoleAssistant && last.RunID == ev.RunID && last.Partial {
			last.Content += text
			return text != ""
		}
	}
	if text == "" {
		return false
	}
	s.messages = append(s.messages, Message{
		Role:    RoleAssistant,
		Content: text,
		RunID:   ev.RunID,
		Partial: true,
		TS:      a.now(),
	})
	return true
}

// finish freezes the most recent assistant message of runID. Terminal events
// without a prior message are ignored.
func (s *sessionState) finish(runID string, mutate func(*Message)) bool {
	if runID == "" {
		return false
	}
	if s.streamingRunID == runID {
		s.streamingRunID = ""
	}
	for i := len(s.messages) - 1; i >= 0; i-- {
		m := &s.messages[i]
		if m.Role != RoleAssistant || m.RunID != runID {
			continue
		}
		m.Partial = false
		mutate(m)
		return true
	}
	return false
}

func errorAnnotation(text string) string {
	if text == "" {
		text = "unknown error"
	}
	return "\n\n[error] " + text
}

// AppendUser records locally typed input and marks runID as streaming. The
// user message itself carries no run id so terminal events only ever match
// assistant output.
func (a *Assembler) AppendUser(sessionKey, runID, text string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := a.session(sessionKey)
	s.messages = append(s.messages, Message{
		Role:    RoleUser,
		Content: text,
		TS:      a.now(),
	})
	s.streamingRunID = runID
}

// EndRun clears the streaming marker if it still points at runID.
func (a *Assembler) EndRun(sessionKey, runID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.sessions[sessionKey]; ok && s.streamingRunID == runID {
		s.streamingRunID = ""
	}
}

// RenameRun rekeys a run once the gateway acknowledges it under its own id.
func (a *Assembler) RenameRun(sessionKey, from, to string) {
	if from == to || to == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[sessionKey]
	if !ok {
		return
	}
	if s.streamingRunID == from {
		s.streamingRunID = to
	}
	for i := range s.messages {
		if s.messages[i].RunID == from {
			s.messages[i].RunID = to
		}
	}
}

// Replace swaps the session log for a loaded transcript. All messages are
// stored frozen; the streaming marker survives so an in-flight run keeps
// assembling.
func (a *Assembler) Replace(sessionKey string, msgs []Message) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := a.session(sessionKey)
	s.messages = make([]Message, len(msgs))
	for i, m := range msgs {
		m.Partial = false
		s.messages[i] = m
	}
}

// Drop forgets a session entirely.
func (a *Assembler) Drop(sessionKey string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.sessions, sessionKey)
}

// Messages returns a copy of the session log.
func (a *Assembler) Messages(sessionKey string) []Message {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.sessions[sessionKey]
	if !ok {
		return nil
	}
	return append([]Message(nil), s.messages...)
}

// StreamingRunID returns the run currently streaming into the session.
func (a *Assembler) StreamingRunID(sessionKey string) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.sessions[sessionKey]
	if !ok || s.streamingRunID == "" {
		return "", false
	}
	return s.streamingRunID, true
}

// Sessions returns the keys of all known sessions, sorted.
func (a *Assembler) Sessions() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	keys := make([]string, 0, len(a.sessions))
	for k := range a.sessions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
