// Package handlers implements the per-event-type projection functions
// (SPEC_FULL.md §4.6): one pure function per Event variant translating a
// hook event into messaging-client calls, tracker/updater state changes,
// and timer bookkeeping.
package handlers

import (
	"log/slog"
	"time"

	"github.com/discode/discode/internal/events"
	"github.com/discode/discode/internal/messaging"
	"github.com/discode/discode/internal/pending"
	"github.com/discode/discode/internal/streaming"
	"github.com/discode/discode/internal/timers"
)

// Options toggles the optional, noisier projections session.idle can emit
// (SPEC_FULL.md §4.6 session.idle steps 4-6).
type Options struct {
	PostIntermediateText bool
	PostThinking         bool
	PostUsage            bool
}

// Deps bundles everything a handler needs. Constructed once at startup and
// passed down the call chain rather than read from module-level state
// (SPEC_FULL.md §9: "global process.env reads scattered across modules →
// a single Config value constructed at startup and passed down").
type Deps struct {
	Tracker   *pending.Tracker
	Streaming *streaming.Updater
	Client    messaging.Client
	Timers    *timers.Registry
	Logger    *slog.Logger
	Options   Options
}

func pendingKey(ec events.Context) pending.Key {
	return pending.Key{ProjectName: ec.ProjectName, InstanceKey: ec.InstanceKey}
}

func streamingKey(ec events.Context) streaming.Key {
	return streaming.Key{ProjectName: ec.ProjectName, InstanceKey: ec.InstanceKey}
}

func timerKey(ec events.Context) timers.Key {
	return timers.Key{ProjectName: ec.ProjectName, InstanceKey: ec.InstanceKey}
}

func truncate(s string, max int) (string, bool) {
	r := []rune(s)
	if len(r) <= max {
		return s, false
	}
	return string(r[:max]), true
}

const thinkingTickInterval = time.Second
