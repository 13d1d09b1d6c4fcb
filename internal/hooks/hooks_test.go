package hooks

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/discode/discode/internal/bus"
	"github.com/discode/discode/internal/handlers"
	"github.com/discode/discode/internal/hookauth"
	"github.com/discode/discode/internal/messaging"
	"github.com/discode/discode/internal/pending"
	"github.com/discode/discode/internal/pipeline"
	"github.com/discode/discode/internal/project"
	"github.com/discode/discode/internal/ratelimit"
	"github.com/discode/discode/internal/streaming"
	"github.com/discode/discode/internal/timers"
)

type fakeClient struct {
	mu   sync.Mutex
	sent []string
}

func (c *fakeClient) Platform() messaging.Platform { return messaging.PlatformSlack }
func (c *fakeClient) SendToChannel(channelID, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, text)
	return nil
}
func (c *fakeClient) SendToChannelWithID(channelID, text string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, text)
	return "anchor", nil
}
func (c *fakeClient) ReplyInThread(channelID, parentID, text string) error { return nil }
func (c *fakeClient) UpdateMessage(channelID, messageID, text string) error {
	return nil
}
func (c *fakeClient) SendToChannelWithFiles(channelID, text string, paths []string) error {
	return nil
}
func (c *fakeClient) AddReaction(channelID, messageID, emoji string) error        { return nil }
func (c *fakeClient) ReplaceReaction(channelID, messageID, from, to string) error { return nil }
func (c *fakeClient) SendQuestionWithButtons(ctx context.Context, channelID string, questions []messaging.Question) (string, error) {
	return "", nil
}
func (c *fakeClient) OnMessage(h messaging.InboundHandler) {}
func (c *fakeClient) Start(ctx context.Context) error      { return nil }
func (c *fakeClient) Close() error                         { return nil }

func (c *fakeClient) waitForSent(t *testing.T, want string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		for _, s := range c.sent {
			if strings.Contains(s, want) {
				c.mu.Unlock()
				return
			}
		}
		c.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for a sent message containing %q", want)
}

func newTestServer(t *testing.T) (*Server, *project.Registry, *fakeClient, string) {
	t.Helper()
	token := "test-token-0123456789abcdef0123456789abcdef"
	checker := hookauth.NewChecker(token)

	projects := project.NewRegistry()
	projects.Register("demo", "/tmp/demo", "demo-session")
	if err := projects.UpsertInstance("demo", project.Instance{AgentType: "claude", ChannelID: "ch-1"}); err != nil {
		t.Fatalf("upsert instance: %v", err)
	}

	client := &fakeClient{}
	deps := handlers.Deps{
		Tracker:   pending.New(client),
		Streaming: streaming.New(client, time.Millisecond, 0),
		Client:    client,
		Timers:    timers.New(),
	}
	pl := pipeline.New(deps, projects, bus.New(), nil)

	srv := New(Config{
		Checker:  checker,
		Limiter:  NewLimiter(),
		Projects: projects,
		Pipeline: pl,
	})
	return srv, projects, client, token
}

func TestHandleHealth_Unauthenticated(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHandleEvent_RejectsMissingToken(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	body := []byte(`{"projectName":"demo","agentType":"claude","type":"session.start"}`)
	req := httptest.NewRequest(http.MethodPost, "/opencode-event", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleEvent_RejectsBadJSON(t *testing.T) {
	srv, _, _, token := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/opencode-event", strings.NewReader("not json"))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleEvent_RejectsUnregisteredProject(t *testing.T) {
	srv, _, _, token := newTestServer(t)
	body := []byte(`{"projectName":"ghost","agentType":"claude","type":"session.start"}`)
	req := httptest.NewRequest(http.MethodPost, "/opencode-event", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleEvent_AcceptsAndDispatchesAsynchronously(t *testing.T) {
	srv, _, client, token := newTestServer(t)
	body := []byte(`{"projectName":"demo","agentType":"claude","type":"session.start","source":"manual"}`)
	req := httptest.NewRequest(http.MethodPost, "/opencode-event", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	client.waitForSent(t, "Session started")
}

func TestHandleEvent_BodyTooLargeReturns413(t *testing.T) {
	srv, _, _, token := newTestServer(t)
	huge := bytes.Repeat([]byte("a"), maxBodyBytes+1)
	body := append([]byte(`{"projectName":"demo","agentType":"claude","type":"session.start","text":"`), huge...)
	body = append(body, []byte(`"}`)...)
	req := httptest.NewRequest(http.MethodPost, "/opencode-event", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}

func TestHandleEvent_RateLimitExceededReturns429(t *testing.T) {
	srv, _, _, token := newTestServer(t)
	srv.cfg.Limiter = ratelimit.NewPerSource(1, 1)

	body := []byte(`{"projectName":"demo","agentType":"claude","type":"session.start","source":"manual"}`)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/opencode-event", bytes.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		if i == 0 && rec.Code != http.StatusOK {
			t.Fatalf("first request: expected 200, got %d", rec.Code)
		}
		if i == 1 {
			if rec.Code != http.StatusTooManyRequests {
				t.Fatalf("second request: expected 429, got %d", rec.Code)
			}
			if rec.Header().Get("Retry-After") == "" {
				t.Fatal("expected Retry-After header on 429")
			}
		}
	}
}

func TestHandleReload_CallsReloadFn(t *testing.T) {
	srv, _, _, token := newTestServer(t)
	called := false
	srv.cfg.ReloadFn = func() error {
		called = true
		return nil
	}
	req := httptest.NewRequest(http.MethodPost, "/reload", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !called {
		t.Fatal("expected ReloadFn to be called")
	}
}

func TestUnknownPathReturns404(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestWrongMethodReturns405(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestMetrics_ReflectsRejectionCounters(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/opencode-event", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	mreq := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	mrec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(mrec, mreq)
	if !strings.Contains(mrec.Body.String(), "discode_hook_auth_rejected_total 1") {
		t.Fatalf("expected auth rejection counter to be 1, got: %s", mrec.Body.String())
	}
}
