package webchat

import (
	"net/http"
	"testing"

	"github.com/solsticehq/solstice/internal/channels"
	"github.com/solsticehq/solstice/pkg/models"
)

func request(body string, headers map[string]string) *channels.Request {
	h := http.Header{}
	for k, v := range headers {
		h.Set(k, v)
	}
	return &channels.Request{Header: h, Body: []byte(body)}
}

func TestParseInbound(t *testing.T) {
	c := New(map[string]any{})
	body := `{"message": "hi there", "session_id": "sess-9", "name": "Ada", "page_url": "https://example.com/docs"}`
	msg := c.ParseInbound(request(body, map[string]string{"User-Agent": "Mozilla/5.0"}))
	if msg == nil {
		t.Fatal("expected message")
	}
	if msg.Channel != models.ChannelWebChat || msg.SenderID != "sess-9" || msg.Text != "hi there" {
		t.Errorf("msg = %+v", msg)
	}
	if msg.MetaString("page_url") != "https://example.com/docs" || msg.MetaString("user_agent") != "Mozilla/5.0" {
		t.Errorf("metadata = %v", msg.Metadata)
	}
}

func TestParseInboundFallbacks(t *testing.T) {
	c := New(map[string]any{})

	// "text" works where "message" is absent.
	msg := c.ParseInbound(request(`{"text": "alt field", "user_id": "u7"}`, nil))
	if msg == nil || msg.Text != "alt field" || msg.SenderID != "u7" {
		t.Fatalf("msg = %+v", msg)
	}

	// No identity at all collapses to anonymous.
	msg = c.ParseInbound(request(`{"message": "who am i"}`, nil))
	if msg == nil || msg.SenderID != "anonymous" {
		t.Fatalf("msg = %+v", msg)
	}

	if msg := c.ParseInbound(request(`{"session_id": "s"}`, nil)); msg != nil {
		t.Errorf("empty text parsed: %+v", msg)
	}
}

func TestValidate(t *testing.T) {
	open := New(map[string]any{})
	if !open.Validate(request("{}", nil)) {
		t.Error("open widget should accept")
	}

	keyed := New(map[string]any{"api_key": "k123"})
	if keyed.Validate(request("{}", nil)) {
		t.Error("missing bearer accepted")
	}
	if keyed.Validate(request("{}", map[string]string{"Authorization": "Bearer wrong"})) {
		t.Error("wrong bearer accepted")
	}
	if !keyed.Validate(request("{}", map[string]string{"Authorization": "Bearer k123"})) {
		t.Error("correct bearer rejected")
	}

	origins := New(map[string]any{"allowed_origins": "https://example.com"})
	if origins.Validate(request("{}", map[string]string{"Origin": "https://evil.test"})) {
		t.Error("disallowed origin accepted")
	}
	if !origins.Validate(request("{}", map[string]string{"Origin": "https://example.com"})) {
		t.Error("allowed origin rejected")
	}
	// Non-browser clients send no Origin.
	if !origins.Validate(request("{}", nil)) {
		t.Error("absent origin rejected")
	}
}

func TestFormatWebhookResponse(t *testing.T) {
	c := New(map[string]any{})
	inbound := models.NewInbound(models.ChannelWebChat, "sess-1", "hi")
	resp, ok := c.FormatWebhookResponse("the reply", inbound).(map[string]any)
	if !ok {
		t.Fatal("expected map payload")
	}
	if resp["response"] != "the reply" || resp["session_id"] != "sess-1" {
		t.Errorf("resp = %v", resp)
	}
	if resp["timestamp"] == "" {
		t.Error("missing timestamp")
	}
}

func TestSendIsSynchronous(t *testing.T) {
	c := New(map[string]any{})
	if res := c.Send(t.Context(), "sess-1", "hi", nil); !res.Success {
		t.Errorf("send = %+v", res)
	}
}
