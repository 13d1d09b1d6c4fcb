package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

// slackChunkSize is conservative relative to Slack's 40,000-char message
// limit, leaving room for markdown escaping (SPEC_FULL.md §4.1.1).
const slackChunkSize = 3500

// SlackClient implements Client over Socket Mode, avoiding the need for a
// public HTTP callback URL — the daemon dials out (SPEC_FULL.md §4.1.1).
type SlackClient struct {
	api    *slack.Client
	sock   *socketmode.Client
	logger *slog.Logger

	handler  InboundHandler
	prompts  *promptRegistry
	agentTag func(channelID string) (agentType, projectName, instanceID string)
}

// NewSlackClient builds a client from a bot token and Socket Mode app
// token. agentTag resolves a channel to its bound project/agent/instance
// via the per-channel project binding (internal/config.ProjectEntry.Channels).
func NewSlackClient(botToken, appToken string, logger *slog.Logger, agentTag func(channelID string) (agentType, projectName, instanceID string)) *SlackClient {
	api := slack.New(botToken, slack.OptionAppLevelToken(appToken))
	sock := socketmode.New(api)
	return &SlackClient{
		api:      api,
		sock:     sock,
		logger:   logger,
		prompts:  newPromptRegistry(),
		agentTag: agentTag,
	}
}

func (c *SlackClient) Platform() Platform { return PlatformSlack }

func (c *SlackClient) SendToChannel(channelID, text string) error {
	_, err := c.send(channelID, text, "")
	return err
}

func (c *SlackClient) SendToChannelWithID(channelID, text string) (string, error) {
	return c.send(channelID, text, "")
}

func (c *SlackClient) ReplyInThread(channelID, parentID, text string) error {
	_, err := c.send(channelID, text, parentID)
	return err
}

func (c *SlackClient) send(channelID, text, threadTS string) (string, error) {
	var lastTS string
	for _, part := range chunk(text, slackChunkSize) {
		opts := []slack.MsgOption{slack.MsgOptionText(part, false)}
		if threadTS != "" {
			opts = append(opts, slack.MsgOptionTS(threadTS))
		}
		_, ts, err := c.api.PostMessage(channelID, opts...)
		if err != nil {
			return lastTS, fmt.Errorf("slack post message: %w", err)
		}
		lastTS = ts
	}
	return lastTS, nil
}

func (c *SlackClient) UpdateMessage(channelID, messageID, text string) error {
	parts := chunk(text, slackChunkSize)
	if _, _, _, err := c.api.UpdateMessage(channelID, messageID, slack.MsgOptionText(parts[0], false)); err != nil {
		return fmt.Errorf("slack update message: %w", err)
	}
	return nil
}

func (c *SlackClient) SendToChannelWithFiles(channelID, text string, paths []string) error {
	for _, path := range paths {
		_, err := c.api.UploadFileV2(slack.UploadFileV2Parameters{
			Channel:  channelID,
			File:     path,
			Filename: path,
		})
		if err != nil {
			return fmt.Errorf("slack upload file %s: %w", path, err)
		}
	}
	if text != "" {
		return c.SendToChannel(channelID, text)
	}
	return nil
}

func (c *SlackClient) AddReaction(channelID, messageID, emoji string) error {
	ref := slack.NewRefToMessage(channelID, messageID)
	if err := c.api.AddReaction(slackEmojiName(emoji), ref); err != nil {
		return fmt.Errorf("slack add reaction: %w", err)
	}
	return nil
}

func (c *SlackClient) ReplaceReaction(channelID, messageID, from, to string) error {
	ref := slack.NewRefToMessage(channelID, messageID)
	if err := c.api.RemoveReaction(slackEmojiName(from), ref); err != nil {
		c.logger.Warn("slack remove reaction failed", "error", err)
	}
	if err := c.api.AddReaction(slackEmojiName(to), ref); err != nil {
		return fmt.Errorf("slack add reaction: %w", err)
	}
	return nil
}

func (c *SlackClient) SendQuestionWithButtons(ctx context.Context, channelID string, questions []Question) (string, error) {
	if len(questions) == 0 {
		return "", nil
	}
	q := questions[0]
	actionIDs, resultCh, promptID := c.prompts.register(q.Options)

	elements := make([]slack.BlockElement, 0, len(q.Options))
	for i, opt := range q.Options {
		elements = append(elements, slack.NewButtonBlockElement(actionIDs[i], opt, slack.NewTextBlockObject(slack.PlainTextType, opt, false, false)))
	}
	blocks := []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, q.Text, false, false), nil, nil),
		slack.NewActionBlock(promptID, elements...),
	}
	if _, _, err := c.api.PostMessage(channelID, slack.MsgOptionBlocks(blocks...)); err != nil {
		c.prompts.cancel(promptID)
		return "", fmt.Errorf("slack post question: %w", err)
	}

	timer := time.NewTimer(QuestionTimeout)
	defer timer.Stop()
	select {
	case label := <-resultCh:
		return label, nil
	case <-timer.C:
		c.prompts.cancel(promptID)
		return "", nil
	case <-ctx.Done():
		c.prompts.cancel(promptID)
		return "", ctx.Err()
	}
}

func (c *SlackClient) OnMessage(handler InboundHandler) {
	c.handler = handler
}

func (c *SlackClient) Start(ctx context.Context) error {
	go c.sock.RunContext(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt := <-c.sock.Events:
			c.handleSocketEvent(evt)
		}
	}
}

func (c *SlackClient) handleSocketEvent(evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if evt.Request != nil {
			c.sock.Ack(*evt.Request)
		}
		c.handleEventsAPI(apiEvent)
	case socketmode.EventTypeInteractive:
		cb, ok := evt.Data.(slack.InteractionCallback)
		if !ok {
			return
		}
		if evt.Request != nil {
			c.sock.Ack(*evt.Request)
		}
		c.handleInteraction(cb)
	}
}

func (c *SlackClient) handleEventsAPI(apiEvent slackevents.EventsAPIEvent) {
	if apiEvent.Type != slackevents.CallbackEvent {
		return
	}
	inner := apiEvent.InnerEvent
	switch ev := inner.Data.(type) {
	case *slackevents.MessageEvent:
		c.dispatchInbound(ev.Channel, ev.User, ev.Text, ev.TimeStamp)
	case *slackevents.AppMentionEvent:
		c.dispatchInbound(ev.Channel, ev.User, ev.Text, ev.TimeStamp)
	}
}

func (c *SlackClient) dispatchInbound(channelID, userID, text, messageID string) {
	if c.handler == nil || strings.TrimSpace(text) == "" {
		return
	}
	agentType, projectName, instanceID := "", "", ""
	if c.agentTag != nil {
		agentType, projectName, instanceID = c.agentTag(channelID)
	}
	if projectName == "" {
		return
	}
	c.handler(agentType, text, projectName, channelID, messageID, instanceID, nil)
}

func (c *SlackClient) handleInteraction(cb slack.InteractionCallback) {
	if len(cb.ActionCallback.BlockActions) == 0 {
		return
	}
	action := cb.ActionCallback.BlockActions[0]
	parts := strings.SplitN(action.ActionID, ":", 2)
	if len(parts) != 2 {
		return
	}
	promptID := parts[0]
	c.prompts.resolve(promptID, action.Value)
}

func (c *SlackClient) Close() error {
	return nil
}

// slackEmojiName strips the colons some callers pass (":thinking_face:")
// since the Slack API wants the bare name.
func slackEmojiName(emoji string) string {
	return strings.Trim(emoji, ":")
}
