package handlers

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/discode/discode/internal/events"
	"github.com/discode/discode/internal/messaging"
	"github.com/discode/discode/internal/timers"
)

const maxThinkingChars = 12_000

// handleSessionIdle implements SPEC_FULL.md §4.6 session.idle, the hardest
// handler: it finalizes streaming, completes the turn, and projects up to
// five more chat artifacts (intermediate narration, reasoning trace, usage
// line, response text, response files) plus any interactive prompt.
func handleSessionIdle(deps Deps, ec events.Context) error {
	key := timerKey(ec)
	deps.Timers.Clear(key, timers.Thinking)
	deps.Timers.Clear(key, timers.Lifecycle)

	if deps.Streaming.Has(streamingKey(ec)) {
		deps.Streaming.Finalize(streamingKey(ec), usageHeader(ec.Event.Usage))
	}

	completeErr := deps.Tracker.MarkCompleted(pendingKey(ec))

	if err := postIntermediateText(deps, ec); err != nil && deps.Logger != nil {
		deps.Logger.Warn("post intermediate text failed", "error", err)
	}
	if err := postThinking(deps, ec); err != nil && deps.Logger != nil {
		deps.Logger.Warn("post thinking failed", "error", err)
	}
	if err := postUsage(deps, ec); err != nil && deps.Logger != nil {
		deps.Logger.Warn("post usage failed", "error", err)
	}
	if err := postResponseText(deps, ec); err != nil && deps.Logger != nil {
		deps.Logger.Warn("post response text failed", "error", err)
	}
	postPromptChoices(deps, ec)

	return completeErr
}

// usageHeader builds the finalize header, omitting zero pieces
// (SPEC_FULL.md §8 boundary behaviors).
func usageHeader(u *events.Usage) string {
	if u == nil {
		return "✅ Done"
	}
	var parts []string
	total := u.InputTokens + u.OutputTokens
	if total > 0 {
		parts = append(parts, fmt.Sprintf("%d tokens", total))
	}
	if u.TotalCostUSD > 0 {
		parts = append(parts, fmt.Sprintf("$%.2f", u.TotalCostUSD))
	}
	if len(parts) == 0 {
		return "✅ Done"
	}
	return "✅ Done · " + strings.Join(parts, " · ")
}

func postIntermediateText(deps Deps, ec events.Context) error {
	if !deps.Options.PostIntermediateText {
		return nil
	}
	text := strings.TrimSpace(ec.Event.IntermediateText)
	if text == "" {
		return nil
	}
	return deps.Client.SendToChannel(ec.ChannelID, text)
}

func postThinking(deps Deps, ec events.Context) error {
	if !deps.Options.PostThinking {
		return nil
	}
	thinking := strings.TrimSpace(ec.Event.Thinking)
	if thinking == "" {
		return nil
	}
	body, truncated := truncate(thinking, maxThinkingChars)
	if truncated {
		body += "\n_(truncated)_"
	}
	text := fmt.Sprintf(":brain: *Reasoning*\n```\n%s\n```", body)
	return deps.Client.SendToChannel(ec.ChannelID, text)
}

func postUsage(deps Deps, ec events.Context) error {
	if !deps.Options.PostUsage || ec.Event.Usage == nil {
		return nil
	}
	u := ec.Event.Usage
	if u.InputTokens == 0 && u.OutputTokens == 0 && u.TotalCostUSD == 0 {
		return nil
	}
	text := fmt.Sprintf("📊 Usage: Input: %d · Output: %d · Cost: $%.2f", u.InputTokens, u.OutputTokens, u.TotalCostUSD)
	return deps.Client.SendToChannel(ec.ChannelID, text)
}

func postResponseText(deps Deps, ec events.Context) error {
	text := strings.TrimSpace(ec.Event.Text)
	extractSource := ec.Event.TurnText
	if extractSource == "" {
		extractSource = text
	}

	paths, _ := extractFilePaths(extractSource, ec.ProjectPath)
	for _, p := range paths {
		text = strings.ReplaceAll(text, p, "")
		text = strings.ReplaceAll(text, "`"+p+"`", "")
	}
	text = strings.TrimSpace(text)

	var sendErr error
	if text != "" {
		sendErr = deps.Client.SendToChannel(ec.ChannelID, text)
	}
	if len(paths) > 0 {
		if err := deps.Client.SendToChannelWithFiles(ec.ChannelID, "", paths); err != nil && sendErr == nil {
			sendErr = err
		}
	}
	return sendErr
}

// postPromptChoices implements SPEC_FULL.md §4.6 session.idle step 9. The
// interactive-button branch is fire-and-forget: its resolution, up to 5
// minutes later, re-enters the system as a normal inbound chat message
// (SPEC_FULL.md §9), so it must not block this event's handler — and by
// extension the channel's serialized worker — while waiting for a click.
func postPromptChoices(deps Deps, ec events.Context) {
	if len(ec.Event.PromptQuestions) > 0 {
		questions := make([]messaging.Question, 0, len(ec.Event.PromptQuestions))
		for _, q := range ec.Event.PromptQuestions {
			opts := make([]string, 0, len(q.Options))
			for _, o := range q.Options {
				opts = append(opts, o.Label)
			}
			questions = append(questions, messaging.Question{Text: q.Question, Options: opts})
		}
		channelID := ec.ChannelID
		go func() {
			if _, err := deps.Client.SendQuestionWithButtons(context.Background(), channelID, questions); err != nil && deps.Logger != nil {
				deps.Logger.Warn("send question with buttons failed", "error", err)
			}
		}()
		return
	}

	if ec.Event.PromptText == "" {
		return
	}
	if ec.Event.PlanFilePath != "" {
		if _, err := os.Stat(ec.Event.PlanFilePath); err == nil {
			if err := deps.Client.SendToChannelWithFiles(ec.ChannelID, ec.Event.PromptText, []string{ec.Event.PlanFilePath}); err != nil && deps.Logger != nil {
				deps.Logger.Warn("send prompt with plan file failed", "error", err)
			}
			return
		}
	}
	if err := deps.Client.SendToChannel(ec.ChannelID, ec.Event.PromptText); err != nil && deps.Logger != nil {
		deps.Logger.Warn("send prompt text failed", "error", err)
	}
}
