package handlers

import (
	"fmt"
	"time"

	"github.com/discode/discode/internal/events"
	"github.com/discode/discode/internal/timers"
)

// ensureStreaming lazily starts the streaming updater's entry for this
// turn the first time a handler needs to append to it, anchored on
// whatever startMessageId the tracker has already created (SPEC_FULL.md
// §4.5 step 1 guarantees the anchor exists before any streaming).
func ensureStreaming(deps Deps, ec events.Context) {
	if !deps.Streaming.CanStream() || deps.Streaming.Has(streamingKey(ec)) {
		return
	}
	entry, ok := deps.Tracker.GetPending(pendingKey(ec))
	if !ok || entry.StartMessageID == "" {
		return
	}
	deps.Streaming.Start(streamingKey(ec), ec.ChannelID, entry.StartMessageID)
}

// handleThinkingStart implements SPEC_FULL.md §4.6 thinking.start.
func handleThinkingStart(deps Deps, ec events.Context) error {
	ensureStreaming(deps, ec)

	entry, ok := deps.Tracker.GetPending(pendingKey(ec))
	var reactErr error
	if ok && entry.MessageID != "" {
		reactErr = deps.Client.AddReaction(ec.ChannelID, entry.MessageID, "🧠")
	}

	deps.Streaming.AppendCumulative(streamingKey(ec), "🧠 Thinking...")

	key := timerKey(ec)
	t := &thinkingTicker{startedAt: time.Now(), ticker: time.NewTicker(thinkingTickInterval)}
	go func() {
		for range t.ticker.C {
			elapsed := int(time.Since(t.startedAt).Seconds())
			deps.Streaming.ReplaceLastLine(streamingKey(ec), fmt.Sprintf("🧠 Thinking for %ds...", elapsed))
		}
	}()
	deps.Timers.Set(key, timers.Thinking, t)

	return reactErr
}

// thinkingTicker wraps a time.Ticker with the moment it started, so
// thinking.stop can compute elapsed time without a separate side map.
type thinkingTicker struct {
	startedAt time.Time
	ticker    *time.Ticker
}

func (t *thinkingTicker) Stop() bool {
	t.ticker.Stop()
	return true
}

// handleThinkingStop implements SPEC_FULL.md §4.6 thinking.stop.
func handleThinkingStop(deps Deps, ec events.Context) error {
	key := timerKey(ec)
	var elapsed time.Duration
	if c, ok := deps.Timers.Get(key, timers.Thinking); ok {
		if t, ok := c.(*thinkingTicker); ok {
			elapsed = time.Since(t.startedAt)
		}
	}
	deps.Timers.Clear(key, timers.Thinking)

	if elapsed >= 5*time.Second {
		deps.Streaming.AppendCumulative(streamingKey(ec), fmt.Sprintf("💭 Thought for %ds", int(elapsed.Seconds())))
	}

	entry, ok := deps.Tracker.GetPending(pendingKey(ec))
	if ok && entry.MessageID != "" {
		return deps.Client.ReplaceReaction(ec.ChannelID, entry.MessageID, "🧠", "⏳")
	}
	return nil
}
