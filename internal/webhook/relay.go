package webhook

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"digitext/internal/domain"
)

// Relay defaults: third-party bridges disagree on field names, so extraction
// is alias-chain based with hard defaults instead of validation.
const (
	relayUnknownSender = "unknown"
	relayNoContent     = "No content"
)

// ParseRelay extracts one event from an unofficial relay payload. It accepts
// any JSON object exposing a sender alias (from|sender|phone|number) and a
// content alias (text|message|content|body); id and timestamp are generated
// when absent.
func ParseRelay(raw []byte, logger *slog.Logger) (events []domain.InboundEvent) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("relay payload extraction panicked", "panic", r)
			events = nil
		}
	}()

	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		logger.Debug("relay payload not a JSON object, skipping", "err", err)
		return nil
	}

	from := firstString(body, "from", "sender", "phone", "number")
	if from == "" {
		from = relayUnknownSender
	}
	text := firstString(body, "text", "message", "content", "body")
	if text == "" {
		text = relayNoContent
	}

	now := time.Now()
	ts := now
	if s := firstString(body, "timestamp"); s != "" {
		ts = epochTime(json.Number(s))
	}
	id := firstString(body, "id")
	if id == "" {
		id = fmt.Sprintf("msg-%d", now.UnixMilli())
	}

	return []domain.InboundEvent{{
		ProviderFamily:    domain.PlatformWhatsApp,
		SenderNativeID:    from,
		RecipientNativeID: firstString(body, "to", "recipient"),
		Text:              text,
		ProviderTimestamp: ts,
		RawID:             id,
	}}
}

// firstString returns the first non-empty string (or stringified number)
// among the given keys.
func firstString(body map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := body[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return json.Number(fmt.Sprintf("%.0f", v)).String()
		case json.Number:
			return v.String()
		}
	}
	return ""
}
