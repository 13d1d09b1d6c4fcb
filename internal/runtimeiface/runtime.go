// Package runtimeiface defines the minimal glue the core needs from
// whatever drives an agent's actual process (tmux pane, PTY, or SDK
// runner). Process supervision, tmux/PTY management, and SDK process
// lifecycle are explicitly out of scope (SPEC_FULL.md §1 Non-goals); this
// package exists only so the router and fallback watchdog have something
// to call without depending on any concrete supervision mechanism.
package runtimeiface

import "context"

// Runtime is implemented by whatever owns a running agent instance.
type Runtime interface {
	// SubmitMessage delivers text to an SDK-runtime instance directly.
	SubmitMessage(ctx context.Context, projectName, instanceKey, text string) error

	// TypeKeysToWindow simulates keystrokes into a tmux/PTY window.
	TypeKeysToWindow(ctx context.Context, session, window, text string) error

	// SendEnterToWindow submits whatever was typed into a tmux/PTY window.
	SendEnterToWindow(ctx context.Context, session, window string) error

	// GetWindowBuffer captures the current visible terminal buffer content
	// for a tmux/PTY window, used by the fallback watchdog. Returns an
	// error (or ok=false) when the runtime has no such window.
	GetWindowBuffer(ctx context.Context, session, window string) (content string, ok bool, err error)
}
