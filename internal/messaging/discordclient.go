package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

// discordChunkSize matches Discord's 2,000-char message limit
// (SPEC_FULL.md §4.1.2).
const discordChunkSize = 2000

// DiscordClient implements Client over discordgo's gateway session, which
// also avoids a public callback endpoint (SPEC_FULL.md §4.1.2).
type DiscordClient struct {
	session  *discordgo.Session
	logger   *slog.Logger
	handler  InboundHandler
	prompts  *promptRegistry
	agentTag func(channelID string) (agentType, projectName, instanceID string)
}

// NewDiscordClient builds a client from a bot token.
func NewDiscordClient(botToken string, logger *slog.Logger, agentTag func(channelID string) (agentType, projectName, instanceID string)) (*DiscordClient, error) {
	session, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("discord session init: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent
	c := &DiscordClient{session: session, logger: logger, prompts: newPromptRegistry(), agentTag: agentTag}
	session.AddHandler(c.onMessageCreate)
	session.AddHandler(c.onInteractionCreate)
	return c, nil
}

func (c *DiscordClient) Platform() Platform { return PlatformDiscord }

func (c *DiscordClient) SendToChannel(channelID, text string) error {
	_, err := c.send(channelID, text, "")
	return err
}

func (c *DiscordClient) SendToChannelWithID(channelID, text string) (string, error) {
	return c.send(channelID, text, "")
}

func (c *DiscordClient) ReplyInThread(channelID, parentID, text string) error {
	_, err := c.send(channelID, text, parentID)
	return err
}

func (c *DiscordClient) send(channelID, text, replyToID string) (string, error) {
	var lastID string
	for _, part := range chunk(text, discordChunkSize) {
		var (
			msg *discordgo.Message
			err error
		)
		if replyToID != "" {
			msg, err = c.session.ChannelMessageSendReply(channelID, part, &discordgo.MessageReference{
				MessageID: replyToID,
				ChannelID: channelID,
			})
		} else {
			msg, err = c.session.ChannelMessageSend(channelID, part)
		}
		if err != nil {
			return lastID, fmt.Errorf("discord send message: %w", err)
		}
		lastID = msg.ID
	}
	return lastID, nil
}

func (c *DiscordClient) UpdateMessage(channelID, messageID, text string) error {
	parts := chunk(text, discordChunkSize)
	if _, err := c.session.ChannelMessageEdit(channelID, messageID, parts[0]); err != nil {
		return fmt.Errorf("discord edit message: %w", err)
	}
	return nil
}

func (c *DiscordClient) SendToChannelWithFiles(channelID, text string, paths []string) error {
	files := make([]*discordgo.File, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return fmt.Errorf("open attachment %s: %w", p, err)
		}
		defer f.Close()
		files = append(files, &discordgo.File{Name: filepath.Base(p), Reader: f})
	}
	_, err := c.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{Content: text, Files: files})
	if err != nil {
		return fmt.Errorf("discord send with files: %w", err)
	}
	return nil
}

func (c *DiscordClient) AddReaction(channelID, messageID, emoji string) error {
	if err := c.session.MessageReactionAdd(channelID, messageID, emoji); err != nil {
		return fmt.Errorf("discord add reaction: %w", err)
	}
	return nil
}

func (c *DiscordClient) ReplaceReaction(channelID, messageID, from, to string) error {
	if err := c.session.MessageReactionRemove(channelID, messageID, from, "@me"); err != nil {
		c.logger.Warn("discord remove reaction failed", "error", err)
	}
	if err := c.session.MessageReactionAdd(channelID, messageID, to); err != nil {
		return fmt.Errorf("discord add reaction: %w", err)
	}
	return nil
}

func (c *DiscordClient) SendQuestionWithButtons(ctx context.Context, channelID string, questions []Question) (string, error) {
	if len(questions) == 0 {
		return "", nil
	}
	q := questions[0]
	actionIDs, resultCh, promptID := c.prompts.register(q.Options)

	buttons := make([]discordgo.MessageComponent, 0, len(q.Options))
	for i, opt := range q.Options {
		buttons = append(buttons, discordgo.Button{
			Label:    opt,
			Style:    discordgo.PrimaryButton,
			CustomID: actionIDs[i],
		})
	}
	_, err := c.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content: q.Text,
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: buttons},
		},
	})
	if err != nil {
		c.prompts.cancel(promptID)
		return "", fmt.Errorf("discord post question: %w", err)
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

func (c *DiscordClient) OnMessage(handler InboundHandler) {
	c.handler = handler
}

func (c *DiscordClient) Start(ctx context.Context) error {
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("discord gateway open: %w", err)
	}
	<-ctx.Done()
	return nil
}

func (c *DiscordClient) Close() error {
	return c.session.Close()
}

func (c *DiscordClient) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author != nil && s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}
	if c.handler == nil || strings.TrimSpace(m.Content) == "" {
		return
	}
	agentType, projectName, instanceID := "", "", ""
	if c.agentTag != nil {
		agentType, projectName, instanceID = c.agentTag(m.ChannelID)
	}
	if projectName == "" {
		return
	}
	var attachments []Attachment
	for _, a := range m.Attachments {
		attachments = append(attachments, Attachment{FileName: a.Filename})
	}
	c.handler(agentType, m.Content, projectName, m.ChannelID, m.ID, instanceID, attachments)
}

func (c *DiscordClient) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionMessageComponent {
		return
	}
	customID := i.MessageComponentData().CustomID
	parts := strings.SplitN(customID, ":", 2)
	if len(parts) != 2 {
		return
	}
	label := ""
	for _, row := range i.Message.Components {
		actionsRow, ok := row.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, comp := range actionsRow.Components {
			if btn, ok := comp.(*discordgo.Button); ok && btn.CustomID == customID {
				label = btn.Label
			}
		}
	}
	c.prompts.resolve(parts[0], label)
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	})
}
