// Package messaging defines the Messaging Client capability interface
// (SPEC_FULL.md §4.1) that the core programs against, plus the Slack and
// Discord implementations behind it, each with its own chunking strategy,
// matching SPEC_FULL.md §9's "interchangeable messaging platforms via duck
// typing → a capability interface with two concrete implementations".
package messaging

import (
	"context"
	"time"
)

// Platform tags which concrete client is in use, for chunk-size selection
// and log fields.
type Platform string

const (
	PlatformSlack   Platform = "slack"
	PlatformDiscord Platform = "discord"
)

// Attachment is a received file, already downloaded to a local path by the
// platform-specific client.
type Attachment struct {
	Path     string
	FileName string
}

// InboundHandler is invoked for every message the bot observes on a
// registered channel. instanceID and attachments are optional.
type InboundHandler func(agentType, text, projectName, channelID string, messageID, instanceID string, attachments []Attachment)

// Question is one interactive multi-choice prompt rendered as buttons.
type Question struct {
	Text    string
	Options []string
}

// Client abstracts platform differences (SPEC_FULL.md §4.1). The core
// programs against this interface only; every method's failures are
// logged and swallowed by callers — transport errors here are never fatal
// to the pipeline.
type Client interface {
	Platform() Platform

	// SendToChannel is a fire-and-forget post, chunked to the platform's
	// message-size limit.
	SendToChannel(channelID, text string) error

	// SendToChannelWithID posts and returns the new message's id.
	SendToChannelWithID(channelID, text string) (string, error)

	// ReplyInThread posts a threaded reply under parentID.
	ReplyInThread(channelID, parentID, text string) error

	// UpdateMessage edits a previously sent message; required for streaming.
	UpdateMessage(channelID, messageID, text string) error

	// SendToChannelWithFiles posts text with file attachments.
	SendToChannelWithFiles(channelID, text string, paths []string) error

	// AddReaction adds a bot reaction to a message.
	AddReaction(channelID, messageID, emoji string) error

	// ReplaceReaction removes `from` and adds `to`, best-effort atomic.
	ReplaceReaction(channelID, messageID, from, to string) error

	// SendQuestionWithButtons renders an interactive option picker and
	// resolves with the chosen label, or "" on a ≤5min timeout.
	SendQuestionWithButtons(ctx context.Context, channelID string, questions []Question) (string, error)

	// OnMessage registers the inbound handler. Only one handler is ever
	// active; a later call replaces the former.
	OnMessage(handler InboundHandler)

	// Start connects the client and blocks until ctx is cancelled.
	Start(ctx context.Context) error

	// Close disconnects the client.
	Close() error
}

// QuestionTimeout bounds how long SendQuestionWithButtons waits for a click
// before resolving with "" (SPEC_FULL.md §4.1).
const QuestionTimeout = 5 * time.Minute

// chunk splits text into pieces no longer than maxLen, breaking on line
// boundaries where possible so a single long line doesn't get split
// mid-word unnecessarily.
func chunk(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}
	var chunks []string
	remaining := text
	for len(remaining) > maxLen {
		cut := maxLen
		if idx := lastNewlineBefore(remaining, maxLen); idx > 0 {
			cut = idx
		}
		chunks = append(chunks, remaining[:cut])
		remaining = remaining[cut:]
		if len(remaining) > 0 && remaining[0] == '\n' {
			remaining = remaining[1:]
		}
	}
	if remaining != "" {
		chunks = append(chunks, remaining)
	}
	return chunks
}

func lastNewlineBefore(s string, limit int) int {
	if limit > len(s) {
		limit = len(s)
	}
	for i := limit - 1; i >= 0; i-- {
		if s[i] == '\n' {
			return i
		}
	}
	return -1
}
