// Package pipeline implements the Event Pipeline (SPEC_FULL.md §4.5): per-
// channel serialization of hook events, auto-pending anchor creation, and
// dispatch to internal/handlers. Each chat channel gets one worker
// goroutine, started lazily and reaped after an idle period, matching
// SPEC_FULL.md §9's re-architecture note on per-channel queues.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/discode/discode/internal/bus"
	"github.com/discode/discode/internal/events"
	"github.com/discode/discode/internal/handlers"
	"github.com/discode/discode/internal/pending"
	"github.com/discode/discode/internal/project"
	"github.com/discode/discode/internal/timers"
)

const idleWorkerTimeout = 5 * time.Minute

// dispatchJob is one unit of work handed to a channel's worker goroutine.
type dispatchJob struct {
	ec   events.Context
	done chan<- error
}

// Pipeline owns the set of per-channel workers and routes resolved events to
// them in arrival order (SPEC_FULL.md §4.5 step 2).
type Pipeline struct {
	deps     handlers.Deps
	tracker  *pending.Tracker
	timers   *timers.Registry
	projects *project.Registry
	bus      *bus.Bus
	logger   *slog.Logger

	mu      sync.Mutex
	workers map[string]*worker
}

type worker struct {
	jobs chan dispatchJob
}

// New builds a Pipeline. deps is passed straight through to every handler
// invocation; tracker/timers are also held directly so the pipeline can run
// auto-pending and terminal cleanup itself (SPEC_FULL.md §4.5 steps 1 and 4)
// without handlers needing to know about cross-cutting pipeline behavior.
func New(deps handlers.Deps, projects *project.Registry, b *bus.Bus, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		deps:     deps,
		tracker:  deps.Tracker,
		timers:   deps.Timers,
		projects: projects,
		bus:      b,
		logger:   logger,
		workers:  make(map[string]*worker),
	}
}

// Dispatch enqueues ec on its channel's worker, starting the worker lazily if
// needed, and returns immediately (SPEC_FULL.md §4.4: "Handler execution is
// asynchronous from the HTTP response"). The returned channel, if non-nil,
// receives the handler's error once processing completes; callers that don't
// care may pass a nil result channel via DispatchAsync.
func (p *Pipeline) Dispatch(ctx context.Context, ec events.Context) <-chan error {
	done := make(chan error, 1)
	w := p.workerFor(ec.ChannelID)
	select {
	case w.jobs <- dispatchJob{ec: ec, done: done}:
	case <-ctx.Done():
		done <- ctx.Err()
		close(done)
	}
	return done
}

// DispatchAsync enqueues ec and discards the result, logging handler errors
// itself. This is what the hook server calls (SPEC_FULL.md §4.4).
func (p *Pipeline) DispatchAsync(ctx context.Context, ec events.Context) {
	done := p.Dispatch(ctx, ec)
	go func() {
		if err := <-done; err != nil && p.logger != nil {
			p.logger.Warn("event handler failed",
				"project", ec.ProjectName, "instance", ec.InstanceKey,
				"type", ec.Event.Type, "error", err)
		}
	}()
}

func (p *Pipeline) workerFor(channelID string) *worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w, ok := p.workers[channelID]; ok {
		return w
	}
	w := &worker{jobs: make(chan dispatchJob, 64)}
	p.workers[channelID] = w
	go p.run(channelID, w)
	return w
}

// run is the per-channel worker loop: it processes jobs strictly in arrival
// order (SPEC_FULL.md §4.5 step 2's ordering guarantee) and reaps itself
// after sitting idle, so long-lived channels don't leak goroutines.
func (p *Pipeline) run(channelID string, w *worker) {
	idleTimer := time.NewTimer(idleWorkerTimeout)
	defer idleTimer.Stop()
	for {
		select {
		case job := <-w.jobs:
			if !idleTimer.Stop() {
				<-idleTimer.C
			}
			err := p.process(job.ec)
			if job.done != nil {
				job.done <- err
				close(job.done)
			}
			idleTimer.Reset(idleWorkerTimeout)
		case <-idleTimer.C:
			p.mu.Lock()
			// Re-check: a job may have raced in just before we acquired the lock.
			if len(w.jobs) == 0 {
				delete(p.workers, channelID)
				p.mu.Unlock()
				return
			}
			p.mu.Unlock()
			idleTimer.Reset(idleWorkerTimeout)
		}
	}
}

// process runs the auto-pending step, dispatches to the handler, and runs
// terminal cleanup (SPEC_FULL.md §4.5 steps 1, 3, 4).
func (p *Pipeline) process(ec events.Context) error {
	if ec.Event.Type.IsAgentActivity() {
		key := pending.Key{ProjectName: ec.ProjectName, InstanceKey: ec.InstanceKey}
		p.tracker.EnsurePending(key, ec.ChannelID)
		preview := ec.Event.Text
		if _, err := p.tracker.EnsureStartMessage(key, ec.AgentType, preview); err != nil && p.logger != nil {
			p.logger.Warn("ensure start message failed", "project", ec.ProjectName, "error", err)
		}
	}

	if p.bus != nil {
		p.bus.Publish(bus.TopicEventDispatched, bus.EventDispatchedEvent{
			ProjectName: ec.ProjectName, InstanceKey: ec.InstanceKey,
			ChannelID: ec.ChannelID, EventType: string(ec.Event.Type),
		})
	}

	err := p.safeHandle(ec)

	if p.bus != nil {
		errStr := ""
		if err != nil {
			errStr = err.Error()
		}
		p.bus.Publish(bus.TopicEventHandled, bus.EventHandledEvent{
			ProjectName: ec.ProjectName, InstanceKey: ec.InstanceKey,
			EventType: string(ec.Event.Type), Err: errStr,
		})
	}

	if ec.Event.Type.IsTerminal() {
		key := timers.Key{ProjectName: ec.ProjectName, InstanceKey: ec.InstanceKey}
		p.timers.ClearAll(key)
	}

	if p.projects != nil {
		p.projects.Touch(ec.ProjectName)
	}

	return err
}

// safeHandle runs the handler under a recover() so a single bad event can
// never take down a channel's worker goroutine (SPEC_FULL.md §7.1).
func (p *Pipeline) safeHandle(ec events.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if p.logger != nil {
				p.logger.Error("handler panicked", "type", ec.Event.Type, "panic", r)
			}
			err = panicError{value: r}
		}
	}()
	return handlers.Handle(p.deps, ec)
}

type panicError struct{ value any }

func (e panicError) Error() string { return "handler panic recovered" }
