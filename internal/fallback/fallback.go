// Package fallback implements the Terminal-buffer Fallback Watchdog
// (SPEC_FULL.md §4.8): when a turn produces no closing hook event (a CLI
// with no hook wired, or an interactive menu awaiting input), it captures
// the stable terminal screen and posts it as the turn's response. It is
// grounded on the cron scheduler's ticker-loop shape
// (internal/cron/scheduler.go), re-purposed from a recurring fire into a
// bounded, cancellable one-shot retry sequence armed per turn.
package fallback

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/discode/discode/internal/messaging"
	"github.com/discode/discode/internal/pending"
	"github.com/discode/discode/internal/runtimeiface"
	"github.com/discode/discode/internal/timers"
)

// initialWait and checkInterval are vars rather than consts so tests can
// shrink them; maxChecks is a fixed retry bound (SPEC_FULL.md §4.8).
var (
	initialWait   = 3000 * time.Millisecond
	checkInterval = 2000 * time.Millisecond
)

const maxChecks = 3

// Watchdog arms and runs the fallback capture sequence for a turn.
type Watchdog struct {
	Tracker *pending.Tracker
	Timers  *timers.Registry
	Client  messaging.Client
	Runtime runtimeiface.Runtime
}

// New builds a Watchdog from its dependencies.
func New(tracker *pending.Tracker, timerReg *timers.Registry, client messaging.Client, runtime runtimeiface.Runtime) *Watchdog {
	return &Watchdog{Tracker: tracker, Timers: timerReg, Client: client, Runtime: runtime}
}

// watchCanceler lets the timer registry cancel an in-flight watch via its
// context, satisfying timers.Canceler.
type watchCanceler struct {
	cancel context.CancelFunc
}

func (w watchCanceler) Stop() bool {
	w.cancel()
	return true
}

// Arm starts (or restarts) the fallback sequence for key against the given
// tmux/PTY session and window. Delivering a new inbound message on the
// same key cancels any outstanding watch and re-arms it (SPEC_FULL.md
// §4.8 "Cancellation").
func (w *Watchdog) Arm(parentCtx context.Context, key pending.Key, session, window string) {
	w.Timers.Clear(key2timers(key), timers.Fallback)

	ctx, cancel := context.WithCancel(parentCtx)
	w.Timers.Set(key2timers(key), timers.Fallback, watchCanceler{cancel: cancel})

	go w.run(ctx, key, session, window)
}

func key2timers(key pending.Key) timers.Key {
	return timers.Key{ProjectName: key.ProjectName, InstanceKey: key.InstanceKey}
}

func (w *Watchdog) run(ctx context.Context, key pending.Key, session, window string) {
	defer w.Timers.Clear(key2timers(key), timers.Fallback)

	if !sleep(ctx, initialWait) {
		return
	}
	if w.Tracker.IsHookActive(key) {
		return
	}

	prev, ok, err := w.Runtime.GetWindowBuffer(ctx, session, window)
	if err != nil || !ok {
		return
	}

	for i := 0; i < maxChecks; i++ {
		if !sleep(ctx, checkInterval) {
			return
		}
		if w.Tracker.IsHookActive(key) {
			return
		}

		curr, ok, err := w.Runtime.GetWindowBuffer(ctx, session, window)
		if err != nil || !ok {
			return
		}

		if curr == prev && strings.TrimSpace(curr) != "" {
			w.emit(key, curr)
			return
		}
		prev = curr
	}
}

// emit posts the stable buffer as a fenced code block and completes the
// turn (SPEC_FULL.md §4.8 step 5).
func (w *Watchdog) emit(key pending.Key, buffer string) {
	entry, ok := w.Tracker.GetPending(key)
	if !ok {
		return
	}
	text := fmt.Sprintf("```\n%s\n```", buffer)
	_ = w.Client.SendToChannel(entry.ChannelID, text)
	_ = w.Tracker.MarkCompleted(key)
}

// sleep blocks for d or until ctx is cancelled, returning false in the
// latter case so callers can bail out of the sequence immediately.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
