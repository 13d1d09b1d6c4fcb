package router

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/discode/discode/internal/execshell"
	"github.com/discode/discode/internal/fallback"
	"github.com/discode/discode/internal/messaging"
	"github.com/discode/discode/internal/pending"
	"github.com/discode/discode/internal/policy"
	"github.com/discode/discode/internal/project"
	"github.com/discode/discode/internal/runtimeiface"
	"github.com/discode/discode/internal/safety"
)

const previewLen = 80

// Config wires a Router's dependencies (SPEC_FULL.md §4.7).
type Config struct {
	Projects    *project.Registry
	Tracker     *pending.Tracker
	Runtime     runtimeiface.Runtime
	Fallback    *fallback.Watchdog
	Sanitizer   *safety.Sanitizer
	Attachments *AttachmentCache
	Policy      policy.Checker
	Client      messaging.Client
	Logger      *slog.Logger

	// EnterDebounce is the pause between typing a tmux/PTY window's keys
	// and sending Enter (SPEC_FULL.md §4.7 step 6). 0 by default.
	EnterDebounce time.Duration

	ShellTimeout   time.Duration
	ShellMaxOutput int
	ShellDenyExtra []string

	// HostExecutor defaults to &execshell.HostExecutor{}.
	HostExecutor execshell.Executor
	// ContainerExecutorFor builds an Executor bound to an already-running
	// container, defaulting to execshell.NewContainerExecutor.
	ContainerExecutorFor func(containerID string) (execshell.Executor, error)
}

// Router implements the Inbound Message Router (SPEC_FULL.md §4.7): a
// single messaging.InboundHandler that resolves the target project and
// instance, sanitizes the text, runs the privileged !shell escape hatch,
// pulls in attachments, marks the turn pending, and delivers to the
// instance's runtime before arming the terminal-buffer fallback watchdog.
type Router struct {
	cfg Config
}

// New builds a Router from cfg, filling in default executors when absent.
func New(cfg Config) *Router {
	if cfg.HostExecutor == nil {
		cfg.HostExecutor = &execshell.HostExecutor{}
	}
	if cfg.ContainerExecutorFor == nil {
		cfg.ContainerExecutorFor = func(containerID string) (execshell.Executor, error) {
			return execshell.NewContainerExecutor(containerID)
		}
	}
	return &Router{cfg: cfg}
}

// Handle satisfies messaging.InboundHandler. Register it via
// client.OnMessage(router.Handle).
func (r *Router) Handle(agentType, text, projectName, channelID, messageID, instanceID string, attachments []messaging.Attachment) {
	r.dispatch(context.Background(), agentType, text, projectName, channelID, messageID, instanceID, attachments)
}

func (r *Router) dispatch(ctx context.Context, agentType, text, projectName, channelID, messageID, instanceID string, attachments []messaging.Attachment) {
	// Step 1: resolve. The channel must actually belong to the claimed
	// project, not just any project of that name.
	proj, ok := r.cfg.Projects.Get(projectName)
	if !ok {
		r.logf("inbound message for unknown project", "project", projectName)
		return
	}
	inst, ok := r.cfg.Projects.ResolveChannel(projectName, channelID)
	if !ok {
		r.logf("inbound message channel does not match project", "project", projectName, "channel", channelID)
		return
	}
	if instanceID != "" {
		inst.InstanceID = instanceID
	}
	instanceKey := inst.Key()
	key := pending.Key{ProjectName: projectName, InstanceKey: instanceKey}

	// Step 2: sanitize. Rejected input is dropped silently.
	cleaned, ok := r.cfg.Sanitizer.SanitizeInbound(text)
	if !ok {
		return
	}
	if result := r.cfg.Sanitizer.CheckInjection(cleaned); result.Action == safety.ActionBlock {
		r.logf("dropping inbound message flagged by injection scan", "project", projectName, "reason", result.Reason)
		return
	}

	// Step 3: the !shell escape hatch never reaches the agent, never
	// creates a pending entry, and ignores attachments.
	if strings.HasPrefix(cleaned, "!") {
		rest := strings.TrimSpace(strings.TrimPrefix(cleaned, "!"))
		if rest != "" {
			r.runShell(ctx, proj, inst, channelID, rest)
		}
		r.cfg.Projects.Touch(projectName)
		return
	}

	// Step 4: fold in any attachments as [file:...] markers.
	cleaned = r.absorbAttachments(proj, cleaned, attachments)

	// Step 5: mark pending and lazily create the prompt anchor.
	if err := r.cfg.Tracker.MarkPending(key, channelID, messageID); err != nil {
		r.logf("failed to mark turn pending", "err", err)
	}
	if _, err := r.cfg.Tracker.EnsureStartMessage(key, agentType, preview(cleaned)); err != nil {
		r.logf("failed to post prompt anchor", "err", err)
	}
	r.cfg.Projects.Touch(projectName)

	// Step 6: deliver to the instance's runtime.
	r.deliver(ctx, proj, inst, cleaned)

	// Step 7: arm the fallback watchdog for this turn.
	if r.cfg.Fallback != nil {
		r.cfg.Fallback.Arm(ctx, key, proj.TmuxSession, inst.TmuxWindow)
	}
}

func (r *Router) deliver(ctx context.Context, proj project.State, inst project.Instance, text string) {
	if inst.RuntimeType == "sdk" {
		if err := r.cfg.Runtime.SubmitMessage(ctx, proj.ProjectName, inst.Key(), text); err != nil {
			r.logf("submitMessage failed", "project", proj.ProjectName, "instance", inst.Key(), "err", err)
		}
		return
	}
	if err := r.cfg.Runtime.TypeKeysToWindow(ctx, proj.TmuxSession, inst.TmuxWindow, text); err != nil {
		r.logf("typeKeysToWindow failed", "project", proj.ProjectName, "instance", inst.Key(), "err", err)
		return
	}
	if r.cfg.EnterDebounce > 0 {
		time.Sleep(r.cfg.EnterDebounce)
	}
	if err := r.cfg.Runtime.SendEnterToWindow(ctx, proj.TmuxSession, inst.TmuxWindow); err != nil {
		r.logf("sendEnterToWindow failed", "project", proj.ProjectName, "instance", inst.Key(), "err", err)
	}
}

// absorbAttachments reads each already-downloaded attachment, copies it
// into the project's attachment cache, and appends a [file:path] marker
// per file (SPEC_FULL.md §4.7 step 4).
func (r *Router) absorbAttachments(proj project.State, text string, attachments []messaging.Attachment) string {
	if len(attachments) == 0 || r.cfg.Attachments == nil {
		return text
	}
	var markers []string
	for _, a := range attachments {
		data, err := os.ReadFile(a.Path)
		if err != nil {
			r.logf("failed to read attachment", "path", a.Path, "err", err)
			continue
		}
		dest, err := r.cfg.Attachments.Save(proj.ProjectPath, a.FileName, data)
		if err != nil {
			r.logf("failed to cache attachment", "name", a.FileName, "err", err)
			continue
		}
		markers = append(markers, fmt.Sprintf("[file:%s]", dest))
	}
	if len(markers) == 0 {
		return text
	}
	return strings.TrimSpace(text + "\n" + strings.Join(markers, "\n"))
}

// runShell implements the !shell escape hatch (SPEC_FULL.md §4.7.1),
// selecting the host or container executor by the target instance's
// containerMode and gating on the matching capability.
func (r *Router) runShell(ctx context.Context, proj project.State, inst project.Instance, channelID, cmd string) {
	capability := "shell.exec"
	executor := r.cfg.HostExecutor
	if inst.ContainerMode && inst.ContainerID != "" {
		capability = "shell.container_exec"
		ce, err := r.cfg.ContainerExecutorFor(inst.ContainerID)
		if err != nil {
			r.post(channelID, fmt.Sprintf("⚠️ shell unavailable: %s", err))
			return
		}
		executor = ce
	}

	if r.cfg.Policy != nil && !r.cfg.Policy.AllowCapability(capability) {
		r.post(channelID, "⚠️ shell execution is not permitted for this project")
		return
	}

	runner := execshell.NewRunner(executor, r.cfg.ShellDenyExtra, r.cfg.ShellTimeout, r.cfg.ShellMaxOutput)
	result, err := runner.Run(ctx, cmd, proj.ProjectPath)
	if err != nil {
		r.post(channelID, fmt.Sprintf("⚠️ %s", err))
		return
	}
	r.post(channelID, formatShellResult(result))
}

// formatShellResult renders a Runner.Run result the way SPEC_FULL.md §4.7.1
// specifies: stdout on success, stdout+stderr combined on failure, falling
// back to a bare status glyph when there's no output at all.
func formatShellResult(res execshell.Result) string {
	out := res.Stdout
	if res.ExitCode != 0 {
		out = strings.TrimSpace(res.Stdout + "\n" + res.Stderr)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		if res.ExitCode == 0 {
			return "✅ (no output)"
		}
		return fmt.Sprintf("⚠️ Exit code %d (no output)", res.ExitCode)
	}
	return "```\n" + out + "\n```"
}

func (r *Router) post(channelID, text string) {
	if r.cfg.Client == nil {
		return
	}
	_ = r.cfg.Client.SendToChannel(channelID, text)
}

func (r *Router) logf(msg string, args ...any) {
	if r.cfg.Logger != nil {
		r.cfg.Logger.Debug(msg, args...)
	}
}

// preview truncates text to a short prompt-anchor preview.
func preview(text string) string {
	runes := []rune(text)
	if len(runes) <= previewLen {
		return text
	}
	return string(runes[:previewLen]) + "…"
}
