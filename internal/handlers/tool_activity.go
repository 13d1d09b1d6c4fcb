package handlers

import (
	"github.com/discode/discode/internal/events"
	"github.com/discode/discode/internal/timers"
)

// handleToolActivity implements SPEC_FULL.md §4.6 tool.activity.
func handleToolActivity(deps Deps, ec events.Context) error {
	ensureStreaming(deps, ec)
	deps.Streaming.AppendCumulative(streamingKey(ec), ec.Event.Text)
	deps.Timers.Clear(timerKey(ec), timers.Lifecycle)
	return nil
}
