package handlers

import (
	"fmt"

	"github.com/discode/discode/internal/events"
	"github.com/discode/discode/internal/timers"
)

// handleSessionStart implements SPEC_FULL.md §4.6 session.start.
func handleSessionStart(deps Deps, ec events.Context) error {
	deps.Tracker.SetHookActive(pendingKey(ec))
	deps.Timers.Clear(timerKey(ec), timers.Lifecycle)

	if ec.Event.Source == "startup" {
		return nil
	}
	text := fmt.Sprintf("🟢 Session started (%s)", ec.Event.Source)
	if ec.Event.Model != "" {
		text = fmt.Sprintf("🟢 Session started (%s, %s)", ec.Event.Source, ec.Event.Model)
	}
	return deps.Client.SendToChannel(ec.ChannelID, text)
}

// handleSessionEnd implements SPEC_FULL.md §4.6 session.end.
func handleSessionEnd(deps Deps, ec events.Context) error {
	deps.Tracker.SetHookActive(pendingKey(ec))
	reason := ec.Event.Reason
	if reason == "" {
		reason = "unknown"
	}
	return deps.Client.SendToChannel(ec.ChannelID, fmt.Sprintf("⚪ Session ended (%s)", reason))
}

// handleSessionNotification implements SPEC_FULL.md §4.6 session.notification.
func handleSessionNotification(deps Deps, ec events.Context) error {
	emoji := "🔔"
	switch ec.Event.NotificationType {
	case "permission_prompt":
		emoji = "🔐"
	case "idle_prompt":
		emoji = "💤"
	}
	if err := deps.Client.SendToChannel(ec.ChannelID, emoji+" "+ec.Event.Text); err != nil {
		return err
	}
	if ec.Event.PromptText != "" {
		return deps.Client.SendToChannel(ec.ChannelID, ec.Event.PromptText)
	}
	return nil
}

// handleToolFailure implements SPEC_FULL.md §4.6 tool.failure.
func handleToolFailure(deps Deps, ec events.Context) error {
	text := fmt.Sprintf("⚠️ *%s failed*", ec.Event.ToolName)
	if ec.Event.Error != "" {
		errText, _ := truncate(ec.Event.Error, 150)
		text += "\n" + errText
	}
	return deps.Client.SendToChannel(ec.ChannelID, text)
}

// handlePromptSubmit implements SPEC_FULL.md §4.6 prompt.submit.
func handlePromptSubmit(deps Deps, ec events.Context) error {
	deps.Tracker.SetPromptPreview(pendingKey(ec), ec.Event.Text)
	if ec.Event.Text == "" {
		return nil
	}
	return deps.Client.SendToChannel(ec.ChannelID, "📝 "+ec.Event.Text)
}

// handleTaskCompleted implements SPEC_FULL.md §4.6 task.completed.
func handleTaskCompleted(deps Deps, ec events.Context) error {
	text := fmt.Sprintf("✅ Task complete: %s", ec.Event.TaskSubject)
	if ec.Event.Teammate {
		text += fmt.Sprintf(" [%s]", ec.Event.TeammateName)
	}
	return deps.Client.SendToChannel(ec.ChannelID, text)
}

// handlePermissionRequest implements SPEC_FULL.md §4.6 permission.request.
func handlePermissionRequest(deps Deps, ec events.Context) error {
	input, _ := truncate(ec.Event.ToolInput, 150)
	text := fmt.Sprintf("🔐 Permission requested for %s: %s", ec.Event.ToolName, input)
	return deps.Client.SendToChannel(ec.ChannelID, text)
}

// handleTeammateIdle implements SPEC_FULL.md §4.6 teammate.idle.
func handleTeammateIdle(deps Deps, ec events.Context) error {
	text := fmt.Sprintf("💤 *[%s]* idle", ec.Event.TeammateName)
	if ec.Event.TeamName != "" {
		text += fmt.Sprintf(" (%s)", ec.Event.TeamName)
	}
	return deps.Client.SendToChannel(ec.ChannelID, text)
}

// handleSessionError implements SPEC_FULL.md §4.6 session.error.
func handleSessionError(deps Deps, ec events.Context) error {
	deps.Streaming.Discard(streamingKey(ec))
	deps.Timers.ClearAll(timerKey(ec))
	markErr := deps.Tracker.MarkError(pendingKey(ec))

	text := ec.Event.Text
	if text == "" {
		text = "unknown error"
	}
	sendErr := deps.Client.SendToChannel(ec.ChannelID, "⚠️ "+text)

	if markErr != nil {
		return markErr
	}
	return sendErr
}
