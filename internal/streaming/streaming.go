// Package streaming implements the Streaming Activity Updater
// (SPEC_FULL.md §4.3): a single continuously-edited chat message per turn,
// accumulating activity lines with a debounced, rate-capped flush.
package streaming

import (
	"strings"
	"sync"
	"time"
)

const (
	debounceWindow    = 500 * time.Millisecond
	defaultMinEditGap = time.Second
	truncationMarker  = "… (older activity truncated)"
)

// Key identifies one streaming turn, matching pending.Key's shape.
type Key struct {
	ProjectName string
	InstanceKey string
}

// Editor is the narrow slice of the messaging client the updater needs.
type Editor interface {
	UpdateMessage(channelID, messageID, text string) error
}

type entry struct {
	channelID  string
	anchorID   string
	lines      []string
	lastEditAt time.Time
	timer      *time.Timer
	discarded  bool
}

// Updater owns all StreamingEntry state. Safe for concurrent use.
type Updater struct {
	mu         sync.Mutex
	entries    map[Key]*entry
	editor     Editor
	minEditGap time.Duration
	maxChars   int
}

// New builds an Updater. minEditGap of zero uses the 1s default
// (SPEC_FULL.md §9 Open Questions: DISCODE_STREAM_MIN_EDIT_MS).
func New(editor Editor, minEditGap time.Duration, maxChars int) *Updater {
	if minEditGap <= 0 {
		minEditGap = defaultMinEditGap
	}
	if maxChars <= 0 {
		maxChars = 3500
	}
	return &Updater{
		entries:    make(map[Key]*entry),
		editor:     editor,
		minEditGap: minEditGap,
		maxChars:   maxChars,
	}
}

// CanStream reports whether the configured editor supports message edits.
// Both current targets (Slack, Discord) do; this exists so callers written
// against a future non-editing transport degrade gracefully.
func (u *Updater) CanStream() bool {
	return u.editor != nil
}

// Start initializes a streaming entry anchored on an existing message (the
// tracker's StartMessageID).
func (u *Updater) Start(key Key, channelID, anchorMessageID string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.entries[key] = &entry{channelID: channelID, anchorID: anchorMessageID}
}

// Has reports whether a streaming entry exists for key.
func (u *Updater) Has(key Key) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	_, ok := u.entries[key]
	return ok
}

// AppendCumulative appends a line and schedules a debounced flush.
func (u *Updater) AppendCumulative(key Key, line string) {
	u.mu.Lock()
	e, ok := u.entries[key]
	if !ok || e.discarded {
		u.mu.Unlock()
		return
	}
	e.lines = append(e.lines, line)
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(debounceWindow, func() { u.flush(key) })
	u.mu.Unlock()
}

// ReplaceLastLine overwrites the most recently appended line in place,
// used by the thinking-ticker's elapsed-time updates.
func (u *Updater) ReplaceLastLine(key Key, line string) {
	u.mu.Lock()
	e, ok := u.entries[key]
	if !ok || e.discarded || len(e.lines) == 0 {
		u.mu.Unlock()
		return
	}
	e.lines[len(e.lines)-1] = line
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(debounceWindow, func() { u.flush(key) })
	u.mu.Unlock()
}

func (u *Updater) flush(key Key) {
	u.mu.Lock()
	e, ok := u.entries[key]
	if !ok || e.discarded {
		u.mu.Unlock()
		return
	}
	gap := time.Since(e.lastEditAt)
	if gap < u.minEditGap {
		// Re-arm for the remainder of the cooldown window.
		wait := u.minEditGap - gap
		e.timer = time.AfterFunc(wait, func() { u.flush(key) })
		u.mu.Unlock()
		return
	}
	text := u.render(e.lines)
	channelID, anchorID := e.channelID, e.anchorID
	e.lastEditAt = time.Now()
	u.mu.Unlock()

	if u.editor != nil && anchorID != "" {
		_ = u.editor.UpdateMessage(channelID, anchorID, text)
	}
}

// render joins lines, truncating the oldest ones if the result would
// exceed the configured max payload size.
func (u *Updater) render(lines []string) string {
	text := strings.Join(lines, "\n")
	if len(text) <= u.maxChars {
		return text
	}
	kept := append([]string{}, lines...)
	for len(strings.Join(kept, "\n"))+len(truncationMarker)+1 > u.maxChars && len(kept) > 1 {
		kept = kept[1:]
	}
	return truncationMarker + "\n" + strings.Join(kept, "\n")
}

// Finalize flushes any pending edit immediately, optionally prepending a
// header, and removes the entry.
func (u *Updater) Finalize(key Key, header string) {
	u.mu.Lock()
	e, ok := u.entries[key]
	if !ok {
		u.mu.Unlock()
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(u.entries, key)
	discarded := e.discarded
	channelID, anchorID := e.channelID, e.anchorID
	text := u.render(e.lines)
	u.mu.Unlock()

	if discarded || u.editor == nil || anchorID == "" {
		return
	}
	if header != "" {
		text = header + "\n" + text
	}
	_ = u.editor.UpdateMessage(channelID, anchorID, text)
}

// Discard drops the entry without flushing (used on session.error).
func (u *Updater) Discard(key Key) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if e, ok := u.entries[key]; ok {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(u.entries, key)
	}
}
