// Package execshell implements the !shell escape hatch (SPEC_FULL.md
// §4.7.1): a deny-listed, timeout-bounded command runner that executes
// either directly on the host or inside an already-running container, with
// output truncation and secret redaction applied to whatever comes back.
package execshell

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/discode/discode/internal/shared"
)

const (
	defaultTimeout = 30 * time.Second
	maxTimeout     = 120 * time.Second
	maxOutputBytes = 8 * 1024
)

// Executor runs a shell command and returns its captured output.
type Executor interface {
	Exec(ctx context.Context, cmd, workDir string) (stdout, stderr string, exitCode int, err error)
}

// Result is the sanitized outcome of a Run call: truncated, redacted, and
// ready to post to chat.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// baseDenyList contains commands that are never allowed to run, regardless
// of config.ShellConfig.DenyListExtra.
var baseDenyList = map[string]struct{}{
	"rm":       {},
	"rmdir":    {},
	"mkfs":     {},
	"dd":       {},
	"shutdown": {},
	"reboot":   {},
	"halt":     {},
	"poweroff": {},
	"kill":     {},
	"killall":  {},
	"pkill":    {},
	"sudo":     {},
	"su":       {},
	"chmod":    {},
	"chown":    {},
}

// DenyList merges the built-in deny list with config-supplied additions.
// config.ShellConfig.DenyListExtra can only add to this set, never remove
// from it.
func DenyList(extra []string) map[string]struct{} {
	merged := make(map[string]struct{}, len(baseDenyList)+len(extra))
	for cmd := range baseDenyList {
		merged[cmd] = struct{}{}
	}
	for _, cmd := range extra {
		cmd = strings.TrimSpace(cmd)
		if cmd != "" {
			merged[cmd] = struct{}{}
		}
	}
	return merged
}

// Runner validates and executes !shell commands against a deny list before
// delegating the actual run to an Executor.
type Runner struct {
	Executor       Executor
	DenyList       map[string]struct{}
	Timeout        time.Duration
	MaxOutputBytes int
}

// NewRunner builds a Runner with the given executor and deny-list extras.
func NewRunner(executor Executor, denyListExtra []string, timeout time.Duration, maxOutput int) *Runner {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if maxOutput <= 0 {
		maxOutput = maxOutputBytes
	}
	return &Runner{
		Executor:       executor,
		DenyList:       DenyList(denyListExtra),
		Timeout:        timeout,
		MaxOutputBytes: maxOutput,
	}
}

// Run validates cmd against the deny list and injection-operator blocklist,
// then executes it with a bounded timeout. Output is truncated and
// secret-redacted before being returned.
func (r *Runner) Run(ctx context.Context, cmd, workDir string) (Result, error) {
	parts := strings.Fields(strings.TrimSpace(cmd))
	if len(parts) == 0 {
		return Result{}, fmt.Errorf("empty command")
	}

	for _, op := range []string{";", "$(", "`"} {
		if strings.Contains(cmd, op) {
			return Result{}, fmt.Errorf("command contains disallowed operator %q", op)
		}
	}

	for _, seg := range splitCommandSegments(cmd) {
		for _, tok := range strings.Fields(strings.TrimSpace(seg)) {
			if _, blocked := r.DenyList[tok]; blocked {
				return Result{}, fmt.Errorf("command %q is on the deny list", tok)
			}
		}
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if timeout > maxTimeout {
		timeout = maxTimeout
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout, stderr, exitCode, err := r.Executor.Exec(execCtx, cmd, workDir)
	if err != nil && exitCode == 0 {
		if execCtx.Err() == context.DeadlineExceeded {
			return Result{Stderr: "command timed out", ExitCode: -1}, nil
		}
		return Result{}, fmt.Errorf("exec: %w", err)
	}

	maxOut := r.MaxOutputBytes
	if maxOut <= 0 {
		maxOut = maxOutputBytes
	}

	return Result{
		Stdout:   shared.Redact(truncateOutput(stdout, maxOut)),
		Stderr:   shared.Redact(truncateOutput(stderr, maxOut)),
		ExitCode: exitCode,
	}, nil
}

func truncateOutput(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "\n... (truncated)"
}

// splitCommandSegments splits a command at pipe and logical operators,
// returning the individual command segments for deny-list checking.
func splitCommandSegments(cmd string) []string {
	var segments []string
	current := cmd
	for current != "" {
		minIdx := len(current)
		matchLen := 0
		for _, op := range []string{"||", "&&", "|"} {
			if idx := strings.Index(current, op); idx >= 0 && idx < minIdx {
				minIdx = idx
				matchLen = len(op)
			}
		}
		if matchLen > 0 {
			seg := strings.TrimSpace(current[:minIdx])
			if seg != "" {
				segments = append(segments, seg)
			}
			current = current[minIdx+matchLen:]
		} else {
			seg := strings.TrimSpace(current)
			if seg != "" {
				segments = append(segments, seg)
			}
			break
		}
	}
	return segments
}

// HostExecutor runs commands directly on the host, under /bin/sh.
type HostExecutor struct{}

func (h *HostExecutor) Exec(ctx context.Context, cmd, workDir string) (stdout, stderr string, exitCode int, err error) {
	execCmd := exec.CommandContext(ctx, "sh", "-c", cmd)
	if workDir != "" {
		execCmd.Dir = workDir
	}

	var outBuf, errBuf bytes.Buffer
	execCmd.Stdout = &outBuf
	execCmd.Stderr = &errBuf

	runErr := execCmd.Run()
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
			err = runErr
		}
	}
	return outBuf.String(), errBuf.String(), exitCode, err
}
