package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"digitext/internal/config"
	"digitext/internal/domain"
)

type fakeResolver struct {
	mu     sync.Mutex
	events []domain.InboundEvent
	err    error
}

func (f *fakeResolver) HandleInbound(_ context.Context, ev domain.InboundEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, ev)
	return nil
}

func testProviders() config.ProvidersConfig {
	return config.ProvidersConfig{
		Meta:     config.MetaConfig{Enabled: true, VerifyToken: "verify-me"},
		WhatsApp: config.WhatsAppConfig{Enabled: true, VerifyToken: "verify-me"},
		Relay:    config.RelayConfig{Enabled: true},
	}
}

func TestVerification_EchoesChallenge(t *testing.T) {
	s := NewServer(testProviders(), &fakeResolver{}, testLogger())

	q := url.Values{}
	q.Set("hub.mode", "subscribe")
	q.Set("hub.verify_token", "verify-me")
	q.Set("hub.challenge", "challenge-123")

	req := httptest.NewRequest("GET", "/webhooks/meta?"+q.Encode(), nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "challenge-123" {
		t.Errorf("body = %q, want the raw challenge", rec.Body.String())
	}
}

func TestVerification_RejectsBadToken(t *testing.T) {
	s := NewServer(testProviders(), &fakeResolver{}, testLogger())

	q := url.Values{}
	q.Set("hub.mode", "subscribe")
	q.Set("hub.verify_token", "wrong")
	q.Set("hub.challenge", "challenge-123")

	req := httptest.NewRequest("GET", "/webhooks/whatsapp?"+q.Encode(), nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestIncoming_DeliversEvents(t *testing.T) {
	resolver := &fakeResolver{}
	s := NewServer(testProviders(), resolver, testLogger())

	body := `{"object": "page", "entry": [{"messaging": [{"sender": {"id": "psid-1"}, "recipient": {"id": "page-1"}, "message": {"text": "hi"}}]}]}`
	req := httptest.NewRequest("POST", "/webhooks/meta", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response not JSON: %v", err)
	}
	if resp["status"] != "received" {
		t.Errorf("response = %v", resp)
	}
	if len(resolver.events) != 1 {
		t.Fatalf("resolver got %d events", len(resolver.events))
	}
	if resolver.events[0].ProviderFamily != domain.PlatformMessenger {
		t.Errorf("family = %s", resolver.events[0].ProviderFamily)
	}
}

func TestIncoming_UnresolvedEventsStill200(t *testing.T) {
	resolver := &fakeResolver{err: errors.New("no account")}
	s := NewServer(testProviders(), resolver, testLogger())

	req := httptest.NewRequest("POST", "/webhooks/unofficial-whatsapp",
		bytes.NewBufferString(`{"from": "5551234", "text": "hi"}`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, providers must never see retry-triggering errors", rec.Code)
	}
}

func TestIncoming_MalformedBodyStill200(t *testing.T) {
	resolver := &fakeResolver{}
	s := NewServer(testProviders(), resolver, testLogger())

	req := httptest.NewRequest("POST", "/webhooks/meta", bytes.NewBufferString("not json"))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if len(resolver.events) != 0 {
		t.Errorf("events = %d, want 0", len(resolver.events))
	}
}

func TestIncoming_HMACEnforced(t *testing.T) {
	cfg := testProviders()
	cfg.Relay.Secret = "relay-secret"
	resolver := &fakeResolver{}
	s := NewServer(cfg, resolver, testLogger())

	body := []byte(`{"from": "5551234", "text": "signed"}`)

	// No signature: rejected.
	req := httptest.NewRequest("POST", "/webhooks/unofficial-whatsapp", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("unsigned status = %d, want 403", rec.Code)
	}

	// Valid signature: accepted.
	mac := hmac.New(sha256.New, []byte("relay-secret"))
	mac.Write(body)
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	req = httptest.NewRequest("POST", "/webhooks/unofficial-whatsapp", bytes.NewReader(body))
	req.Header.Set("X-Signature-256", sig)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("signed status = %d, want 200", rec.Code)
	}
	if len(resolver.events) != 1 {
		t.Errorf("events = %d, want 1", len(resolver.events))
	}
}

func TestConfiguredPathsMayShadowAliases(t *testing.T) {
	cfg := testProviders()
	cfg.Meta.WebhookPath = "/webhook"
	cfg.Relay.WebhookPath = "/whatsapp-webhook"
	resolver := &fakeResolver{}
	s := NewServer(cfg, resolver, testLogger())

	body := `{"object": "page", "entry": [{"messaging": [{"sender": {"id": "psid-1"}, "recipient": {"id": "page-1"}, "message": {"text": "hi"}}]}]}`
	req := httptest.NewRequest("POST", "/webhook", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(resolver.events) != 1 || resolver.events[0].ProviderFamily != domain.PlatformMessenger {
		t.Errorf("events = %+v, want one parsed on the configured path", resolver.events)
	}

	req = httptest.NewRequest("POST", "/whatsapp-webhook",
		bytes.NewBufferString(`{"from": "5551234", "text": "direct"}`))
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("relay status = %d", rec.Code)
	}
}

func TestAliasPaths(t *testing.T) {
	resolver := &fakeResolver{}
	s := NewServer(testProviders(), resolver, testLogger())

	req := httptest.NewRequest("POST", "/whatsapp-webhook",
		bytes.NewBufferString(`{"from": "5551234", "text": "via alias"}`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(resolver.events) != 1 || resolver.events[0].Text != "via alias" {
		t.Errorf("events = %+v", resolver.events)
	}
}
