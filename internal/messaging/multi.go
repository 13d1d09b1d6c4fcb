package messaging

import (
	"context"
	"fmt"
	"sync"
)

// MultiClient fans a single Client interface out over more than one
// platform client (SPEC_FULL.md §4.1: Slack and Discord can both be
// enabled at once). Outbound calls are routed by channelID against a
// static map built at construction time from the registered project↔
// channel bindings; inbound messages from every underlying client are
// forwarded to the same handler.
type MultiClient struct {
	clients []Client
	byChan  map[string]Client

	mu      sync.Mutex
	handler InboundHandler
}

// NewMultiClient builds a MultiClient. byChannel maps each bound
// channelID to the concrete Client that owns it (SPEC_FULL.md §3's
// project↔channel registry is the source of this map).
func NewMultiClient(clients []Client, byChannel map[string]Client) *MultiClient {
	m := &MultiClient{clients: clients, byChan: byChannel}
	for _, c := range clients {
		c.OnMessage(m.dispatch)
	}
	return m
}

func (m *MultiClient) dispatch(agentType, text, projectName, channelID, messageID, instanceID string, attachments []Attachment) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h(agentType, text, projectName, channelID, messageID, instanceID, attachments)
	}
}

func (m *MultiClient) route(channelID string) (Client, error) {
	if c, ok := m.byChan[channelID]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("messaging: no platform client bound to channel %q", channelID)
}

func (m *MultiClient) Platform() Platform { return "multi" }

func (m *MultiClient) SendToChannel(channelID, text string) error {
	c, err := m.route(channelID)
	if err != nil {
		return err
	}
	return c.SendToChannel(channelID, text)
}

func (m *MultiClient) SendToChannelWithID(channelID, text string) (string, error) {
	c, err := m.route(channelID)
	if err != nil {
		return "", err
	}
	return c.SendToChannelWithID(channelID, text)
}

func (m *MultiClient) ReplyInThread(channelID, parentID, text string) error {
	c, err := m.route(channelID)
	if err != nil {
		return err
	}
	return c.ReplyInThread(channelID, parentID, text)
}

func (m *MultiClient) UpdateMessage(channelID, messageID, text string) error {
	c, err := m.route(channelID)
	if err != nil {
		return err
	}
	return c.UpdateMessage(channelID, messageID, text)
}

func (m *MultiClient) SendToChannelWithFiles(channelID, text string, paths []string) error {
	c, err := m.route(channelID)
	if err != nil {
		return err
	}
	return c.SendToChannelWithFiles(channelID, text, paths)
}

func (m *MultiClient) AddReaction(channelID, messageID, emoji string) error {
	c, err := m.route(channelID)
	if err != nil {
		return err
	}
	return c.AddReaction(channelID, messageID, emoji)
}

func (m *MultiClient) ReplaceReaction(channelID, messageID, from, to string) error {
	c, err := m.route(channelID)
	if err != nil {
		return err
	}
	return c.ReplaceReaction(channelID, messageID, from, to)
}

func (m *MultiClient) SendQuestionWithButtons(ctx context.Context, channelID string, questions []Question) (string, error) {
	c, err := m.route(channelID)
	if err != nil {
		return "", err
	}
	return c.SendQuestionWithButtons(ctx, channelID, questions)
}

func (m *MultiClient) OnMessage(handler InboundHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
}

// Start runs every underlying client concurrently and returns once ctx is
// cancelled or any one of them returns a non-nil error.
func (m *MultiClient) Start(ctx context.Context) error {
	if len(m.clients) == 0 {
		<-ctx.Done()
		return nil
	}
	errCh := make(chan error, len(m.clients))
	for _, c := range m.clients {
		go func(c Client) { errCh <- c.Start(ctx) }(c)
	}
	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func (m *MultiClient) Close() error {
	var firstErr error
	for _, c := range m.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
