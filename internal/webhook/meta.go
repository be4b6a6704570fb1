package webhook

import (
	"encoding/json"
	"log/slog"

	"digitext/internal/domain"
)

// noTextContent is emitted when a recognized message shape carries no
// extractable text. Providers deliver sample and partial payloads routinely,
// so missing text is not a reason to drop the event.
const noTextContent = "No text content"

// metaPayload covers the unified social webhook (Instagram + Messenger).
// The same endpoint also receives flat "field":"messages" sample payloads
// from the webhook tester, which are passed through as-is.
type metaPayload struct {
	Object string      `json:"object"`
	Field  string      `json:"field"`
	Value  *metaValue  `json:"value"`
	Entry  []metaEntry `json:"entry"`
}

type metaEntry struct {
	ID        string          `json:"id"`
	Messaging []metaMessaging `json:"messaging"`
	Changes   []metaChange    `json:"changes"`
}

type metaMessaging struct {
	Sender    *metaParty   `json:"sender"`
	Recipient *metaParty   `json:"recipient"`
	Message   *metaMessage `json:"message"`
	Timestamp json.Number  `json:"timestamp"`
}

type metaChange struct {
	Field string     `json:"field"`
	Value *metaValue `json:"value"`
}

// metaValue is deliberately loose: sender/recipient appear under several
// names depending on the delivery path, and text lives in either
// message.text or text.body.
type metaValue struct {
	Sender    *metaParty   `json:"sender"`
	Recipient *metaParty   `json:"recipient"`
	From      *metaParty   `json:"from"`
	To        *metaParty   `json:"to"`
	Message   *metaMessage `json:"message"`
	Text      *metaText    `json:"text"`
	Timestamp json.Number  `json:"timestamp"`
}

type metaParty struct {
	ID string `json:"id"`
}

type metaMessage struct {
	MID  string `json:"mid"`
	Text string `json:"text"`
}

type metaText struct {
	Body string `json:"body"`
}

// ParseMeta extracts zero or more events from a unified social webhook
// payload. Unrecognized shapes produce no events; parsing never panics
// past this boundary.
func ParseMeta(raw []byte, logger *slog.Logger) (events []domain.InboundEvent) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("meta payload extraction panicked", "panic", r)
			events = nil
		}
	}()

	var p metaPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		logger.Debug("meta payload not JSON, skipping", "err", err)
		return nil
	}

	// Flat sample payload from the webhook tester: pass through verbatim.
	if p.Field == "messages" && p.Value != nil {
		ev := domain.InboundEvent{
			ProviderFamily:    domain.PlatformInstagram,
			SenderNativeID:    partyID(p.Value.Sender),
			RecipientNativeID: partyID(p.Value.Recipient),
			Text:              messageText(p.Value),
			ProviderTimestamp: epochTime(p.Value.Timestamp),
		}
		ev.AccountHint = ev.RecipientNativeID
		if p.Value.Message != nil {
			ev.RawID = p.Value.Message.MID
		}
		return []domain.InboundEvent{ev}
	}

	var family domain.Platform
	switch p.Object {
	case "instagram":
		family = domain.PlatformInstagram
	case "page":
		family = domain.PlatformMessenger
	default:
		logger.Debug("meta payload with unknown object, skipping", "object", p.Object)
		return nil
	}

	for _, entry := range p.Entry {
		for _, m := range entry.Messaging {
			ev := domain.InboundEvent{
				ProviderFamily:    family,
				SenderNativeID:    partyID(m.Sender),
				RecipientNativeID: partyID(m.Recipient),
				ProviderTimestamp: epochTime(m.Timestamp),
			}
			ev.AccountHint = ev.RecipientNativeID
			if m.Message != nil {
				ev.Text = m.Message.Text
				ev.RawID = m.Message.MID
			}
			if ev.Text == "" {
				ev.Text = noTextContent
			}
			events = append(events, ev)
		}

		// Instagram also delivers messages through entry.changes.
		if family != domain.PlatformInstagram {
			continue
		}
		for _, change := range entry.Changes {
			if change.Field != "messages" || change.Value == nil {
				continue
			}
			v := change.Value
			ev := domain.InboundEvent{
				ProviderFamily:    family,
				SenderNativeID:    firstPartyID(v.From, v.Sender),
				RecipientNativeID: firstPartyID(v.To, v.Recipient),
				Text:              messageText(v),
				ProviderTimestamp: epochTime(v.Timestamp),
			}
			ev.AccountHint = ev.RecipientNativeID
			events = append(events, ev)
		}
	}

	return events
}

func partyID(p *metaParty) string {
	if p == nil {
		return ""
	}
	return p.ID
}

func firstPartyID(parties ...*metaParty) string {
	for _, p := range parties {
		if p != nil && p.ID != "" {
			return p.ID
		}
	}
	return ""
}

// messageText applies the message.text -> text.body fallback chain.
func messageText(v *metaValue) string {
	if v.Message != nil && v.Message.Text != "" {
		return v.Message.Text
	}
	if v.Text != nil && v.Text.Body != "" {
		return v.Text.Body
	}
	return noTextContent
}
