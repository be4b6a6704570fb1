package webhook

import (
	"log/slog"
	"testing"

	"digitext/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestParseMeta_InstagramMessaging(t *testing.T) {
	payload := []byte(`{
		"object": "instagram",
		"entry": [{
			"id": "17841400000000000",
			"messaging": [{
				"sender": {"id": "user-111"},
				"recipient": {"id": "acct-222"},
				"timestamp": 1726000000000,
				"message": {"mid": "mid.abc", "text": "hello from ig"}
			}]
		}]
	}`)

	events := ParseMeta(payload, testLogger())
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.ProviderFamily != domain.PlatformInstagram {
		t.Errorf("family = %s", ev.ProviderFamily)
	}
	if ev.SenderNativeID != "user-111" || ev.RecipientNativeID != "acct-222" {
		t.Errorf("parties = %s -> %s", ev.SenderNativeID, ev.RecipientNativeID)
	}
	if ev.AccountHint != "acct-222" {
		t.Errorf("hint = %s, want recipient id", ev.AccountHint)
	}
	if ev.Text != "hello from ig" {
		t.Errorf("text = %q", ev.Text)
	}
	if ev.RawID != "mid.abc" {
		t.Errorf("raw id = %s", ev.RawID)
	}
	if ev.ProviderTimestamp.UnixMilli() != 1726000000000 {
		t.Errorf("timestamp = %v", ev.ProviderTimestamp)
	}
}

func TestParseMeta_PageObjectIsMessenger(t *testing.T) {
	payload := []byte(`{
		"object": "page",
		"entry": [{
			"messaging": [{
				"sender": {"id": "psid-1"},
				"recipient": {"id": "page-1"},
				"message": {"text": "fb hi"}
			}]
		}]
	}`)

	events := ParseMeta(payload, testLogger())
	if len(events) != 1 {
		t.Fatalf("events = %d", len(events))
	}
	if events[0].ProviderFamily != domain.PlatformMessenger {
		t.Errorf("family = %s, want messenger", events[0].ProviderFamily)
	}
}

func TestParseMeta_ChangesWithTextBodyFallback(t *testing.T) {
	payload := []byte(`{
		"object": "instagram",
		"entry": [{
			"changes": [{
				"field": "messages",
				"value": {
					"from": {"id": "user-333"},
					"to": {"id": "acct-444"},
					"text": {"body": "dm via changes"}
				}
			}]
		}]
	}`)

	events := ParseMeta(payload, testLogger())
	if len(events) != 1 {
		t.Fatalf("events = %d", len(events))
	}
	ev := events[0]
	if ev.SenderNativeID != "user-333" {
		t.Errorf("sender = %s", ev.SenderNativeID)
	}
	if ev.Text != "dm via changes" {
		t.Errorf("text = %q", ev.Text)
	}
}

func TestParseMeta_FlatSamplePayload(t *testing.T) {
	payload := []byte(`{
		"field": "messages",
		"value": {
			"sender": {"id": "sample-user"},
			"recipient": {"id": "sample-acct"},
			"message": {"mid": "mid.sample", "text": "sample text"}
		}
	}`)

	events := ParseMeta(payload, testLogger())
	if len(events) != 1 {
		t.Fatalf("events = %d", len(events))
	}
	ev := events[0]
	if ev.ProviderFamily != domain.PlatformInstagram {
		t.Errorf("family = %s", ev.ProviderFamily)
	}
	if ev.SenderNativeID != "sample-user" || ev.Text != "sample text" {
		t.Errorf("event = %+v", ev)
	}
}

func TestParseMeta_MissingTextDefaults(t *testing.T) {
	payload := []byte(`{
		"object": "instagram",
		"entry": [{
			"messaging": [{
				"sender": {"id": "user-1"},
				"recipient": {"id": "acct-1"},
				"message": {"mid": "mid.1"}
			}]
		}]
	}`)

	events := ParseMeta(payload, testLogger())
	if len(events) != 1 {
		t.Fatalf("events = %d", len(events))
	}
	if events[0].Text != "No text content" {
		t.Errorf("text = %q, want the default", events[0].Text)
	}
}

func TestParseMeta_GarbageProducesNoEvents(t *testing.T) {
	for _, raw := range []string{
		`not json at all`,
		`{"object": "something-else", "entry": []}`,
		`{"object": "instagram"}`,
		`[]`,
		`{"object": "instagram", "entry": [{"messaging": [{}]}]}`,
	} {
		events := ParseMeta([]byte(raw), testLogger())
		for _, ev := range events {
			// Events from degenerate-but-recognized shapes must still carry defaults.
			if ev.Text == "" {
				t.Errorf("payload %q produced event without text", raw)
			}
		}
	}
}
