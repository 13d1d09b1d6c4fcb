// Package tmux is the thin glue between runtimeiface.Runtime and an
// already-running tmux server: it types keys, sends Enter, and captures a
// pane's visible buffer by shelling out to the tmux CLI. Starting sessions,
// spawning windows, and otherwise supervising the agent process are out of
// scope (SPEC_FULL.md §1 Non-goals) — this package only ever talks to
// windows that already exist.
package tmux

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// Runtime drives tmux panes directly via the tmux binary. It implements
// runtimeiface.Runtime's tmux/PTY methods; SubmitMessage always fails since
// SDK-runtime wiring is a separate, out-of-scope external concern (SPEC_FULL.md
// §1) with no tmux equivalent.
type Runtime struct {
	// Bin is the tmux executable name or path. Defaults to "tmux".
	Bin string
}

// New builds a Runtime using the "tmux" binary from $PATH.
func New() *Runtime {
	return &Runtime{Bin: "tmux"}
}

func (r *Runtime) bin() string {
	if r.Bin == "" {
		return "tmux"
	}
	return r.Bin
}

// SubmitMessage has no tmux equivalent; SDK-runtime instances are driven by
// an external runner this package never talks to.
func (r *Runtime) SubmitMessage(ctx context.Context, projectName, instanceKey, text string) error {
	return fmt.Errorf("tmux runtime: instance %s/%s is not an sdk runtime", projectName, instanceKey)
}

// TypeKeysToWindow sends text as literal keystrokes to session:window,
// without submitting it.
func (r *Runtime) TypeKeysToWindow(ctx context.Context, session, window, text string) error {
	target := fmt.Sprintf("%s:%s", session, window)
	return r.run(ctx, "send-keys", "-t", target, "-l", "--", text)
}

// SendEnterToWindow submits whatever is currently typed in session:window.
func (r *Runtime) SendEnterToWindow(ctx context.Context, session, window string) error {
	target := fmt.Sprintf("%s:%s", session, window)
	return r.run(ctx, "send-keys", "-t", target, "Enter")
}

// GetWindowBuffer captures session:window's visible pane content. ok is
// false when tmux reports no such session or window, rather than erroring.
func (r *Runtime) GetWindowBuffer(ctx context.Context, session, window string) (string, bool, error) {
	target := fmt.Sprintf("%s:%s", session, window)
	var out, errOut bytes.Buffer
	cmd := exec.CommandContext(ctx, r.bin(), "capture-pane", "-p", "-t", target)
	cmd.Stdout = &out
	cmd.Stderr = &errOut
	if err := cmd.Run(); err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			return "", false, nil
		}
		return "", false, fmt.Errorf("tmux capture-pane: %w", err)
	}
	return out.String(), true, nil
}

func (r *Runtime) run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, r.bin(), args...)
	var errOut bytes.Buffer
	cmd.Stderr = &errOut
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("tmux %v: %w (%s)", args, err, errOut.String())
	}
	return nil
}
