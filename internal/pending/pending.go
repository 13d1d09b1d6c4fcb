// Package pending implements the Pending-turn Tracker (SPEC_FULL.md §4.2):
// the state machine of a "turn" from a user prompt (or agent-initiated
// activity) through to completion, keyed per channel with an ACTIVE /
// RECENTLY_COMPLETED pair and a bounded TTL on the latter.
package pending

import (
	"sync"
	"time"
)

const recentlyCompletedTTL = 30 * time.Second

// Key identifies one turn: a project and the instance (or bare agent type)
// running within it.
type Key struct {
	ProjectName string
	InstanceKey string
}

// Reactor posts and swaps chat reactions/messages. The tracker depends on
// this narrow slice of the messaging client interface (SPEC_FULL.md §4.1)
// so it can be unit tested against a fake.
type Reactor interface {
	AddReaction(channelID, messageID, emoji string) error
	ReplaceReaction(channelID, messageID, from, to string) error
	SendToChannelWithID(channelID, text string) (string, error)
}

// Entry is the turn state tracked per Key.
type Entry struct {
	ChannelID      string
	MessageID      string // the user's triggering message; empty for agent-initiated turns
	StartMessageID string // the "📝 Prompt" anchor, lazily created
	HookActive     bool
	PromptPreview  string
	Completed      bool // true once in RECENTLY_COMPLETED
}

type slot struct {
	entry      Entry
	completing *time.Timer
}

// Tracker owns all PendingEntry state. Safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	entries map[Key]*slot
	react   Reactor
	ttl     time.Duration
}

// New builds a Tracker. react may be nil in tests that don't exercise
// reaction side effects.
func New(react Reactor) *Tracker {
	return &Tracker{
		entries: make(map[Key]*slot),
		react:   react,
		ttl:     recentlyCompletedTTL,
	}
}

// MarkPending creates an ACTIVE entry for key, clearing any
// RECENTLY_COMPLETED entry (and its TTL timer) first, and adds a ⏳
// reaction to the user's message if one is present. Reaction failures are
// logged by the caller (via the returned error) but never prevent the
// state transition — the entry is created regardless.
func (t *Tracker) MarkPending(key Key, channelID, messageID string) error {
	t.mu.Lock()
	if s, ok := t.entries[key]; ok && s.completing != nil {
		s.completing.Stop()
	}
	t.entries[key] = &slot{entry: Entry{ChannelID: channelID, MessageID: messageID}}
	t.mu.Unlock()

	if t.react == nil || messageID == "" {
		return nil
	}
	return t.react.AddReaction(channelID, messageID, "⏳")
}

// EnsurePending creates an ACTIVE entry with no user message if one does
// not already exist for key. No-op if already ACTIVE.
func (t *Tracker) EnsurePending(key Key, channelID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.entries[key]; ok && !s.entry.Completed {
		return
	}
	t.entries[key] = &slot{entry: Entry{ChannelID: channelID}}
}

// EnsureStartMessage posts the "📝 Prompt: <preview>" anchor the first time
// it's called for an ACTIVE key that has a user message or a preview;
// subsequent calls are idempotent no-ops that just return the existing id.
func (t *Tracker) EnsureStartMessage(key Key, agentType, promptPreview string) (string, error) {
	t.mu.Lock()
	s, ok := t.entries[key]
	if !ok {
		t.mu.Unlock()
		return "", nil
	}
	if promptPreview != "" {
		s.entry.PromptPreview = promptPreview
	}
	if s.entry.StartMessageID != "" {
		id := s.entry.StartMessageID
		t.mu.Unlock()
		return id, nil
	}
	if s.entry.MessageID == "" && s.entry.PromptPreview == "" {
		t.mu.Unlock()
		return "", nil
	}
	channelID := s.entry.ChannelID
	preview := s.entry.PromptPreview
	t.mu.Unlock()

	text := "📝 Prompt (" + agentType + ")"
	if preview != "" {
		text = "📝 Prompt: " + preview
	}
	if t.react == nil {
		return "", nil
	}
	id, err := t.react.SendToChannelWithID(channelID, text)
	if err != nil {
		return "", err
	}

	t.mu.Lock()
	if s, ok := t.entries[key]; ok && s.entry.StartMessageID == "" {
		s.entry.StartMessageID = id
	}
	t.mu.Unlock()
	return id, nil
}

// SetPromptPreview stores or updates a preview without creating the anchor.
func (t *Tracker) SetPromptPreview(key Key, preview string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.entries[key]; ok {
		s.entry.PromptPreview = preview
	}
}

// SetHookActive marks that at least one hook event has fired for this turn.
func (t *Tracker) SetHookActive(key Key) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.entries[key]; ok {
		s.entry.HookActive = true
	}
}

// IsHookActive reports whether a hook event has fired for this turn.
func (t *Tracker) IsHookActive(key Key) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.entries[key]
	return ok && s.entry.HookActive
}

// MarkCompleted replaces ⏳ with ✅ on the user message (if any) and moves
// the entry to RECENTLY_COMPLETED, scheduling its removal after the TTL.
func (t *Tracker) MarkCompleted(key Key) error {
	t.mu.Lock()
	s, ok := t.entries[key]
	if !ok {
		t.mu.Unlock()
		return nil
	}
	s.entry.Completed = true
	channelID, messageID := s.entry.ChannelID, s.entry.MessageID
	s.completing = time.AfterFunc(t.ttl, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if cur, ok := t.entries[key]; ok && cur == s {
			delete(t.entries, key)
		}
	})
	t.mu.Unlock()

	if t.react == nil || messageID == "" {
		return nil
	}
	return t.react.ReplaceReaction(channelID, messageID, "⏳", "✅")
}

// MarkError replaces ⏳ with ❌ and discards the entry immediately (no TTL).
func (t *Tracker) MarkError(key Key) error {
	t.mu.Lock()
	s, ok := t.entries[key]
	if ok {
		delete(t.entries, key)
	}
	t.mu.Unlock()
	if !ok || t.react == nil || s.entry.MessageID == "" {
		return nil
	}
	return t.react.ReplaceReaction(s.entry.ChannelID, s.entry.MessageID, "⏳", "❌")
}

// GetPending returns the ACTIVE or RECENTLY_COMPLETED entry for key. The
// dual lookup matters: a late session.idle-equivalent event must still
// find the anchor during the completed window.
func (t *Tracker) GetPending(key Key) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.entries[key]
	if !ok {
		return Entry{}, false
	}
	return s.entry, true
}

// Clear removes any entry for key unconditionally (used on shutdown/tests).
func (t *Tracker) Clear(key Key) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.entries[key]; ok {
		if s.completing != nil {
			s.completing.Stop()
		}
		delete(t.entries, key)
	}
}
