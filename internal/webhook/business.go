package webhook

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"digitext/internal/domain"
)

// Business API webhook payload (object == "whatsapp_business_account").
// Only the first entry's first "messages" change is meaningful; the Cloud
// API delivers one change per request.
type businessPayload struct {
	Object string          `json:"object"`
	Entry  []businessEntry `json:"entry"`
}

type businessEntry struct {
	ID      string           `json:"id"`
	Changes []businessChange `json:"changes"`
}

type businessChange struct {
	Field string         `json:"field"`
	Value *businessValue `json:"value"`
}

type businessValue struct {
	Metadata  *businessMetadata `json:"metadata"`
	Messages  []businessMessage `json:"messages"`
	Sender    *metaParty        `json:"sender"`
	From      *metaParty        `json:"from"`
	ID        string            `json:"id"`
	Text      *metaText         `json:"text"`
	Message   *metaMessage      `json:"message"`
	Timestamp json.Number       `json:"timestamp"`
}

type businessMetadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type businessMessage struct {
	From      string      `json:"from"`
	ID        string      `json:"id"`
	Timestamp json.Number `json:"timestamp"`
	Type      string      `json:"type"`
	Text      *metaText   `json:"text"`
}

// ParseBusiness extracts events from an official Business API webhook
// payload. All events from one payload share the change's metadata
// (phone_number_id becomes the account routing hint).
func ParseBusiness(raw []byte, logger *slog.Logger) (events []domain.InboundEvent) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("business payload extraction panicked", "panic", r)
			events = nil
		}
	}()

	var p businessPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		logger.Debug("business payload not JSON, skipping", "err", err)
		return nil
	}
	if p.Object != "whatsapp_business_account" || len(p.Entry) == 0 {
		return nil
	}

	entry := p.Entry[0]
	if len(entry.Changes) == 0 {
		return nil
	}
	change := entry.Changes[0]
	if change.Field != "messages" || change.Value == nil {
		return nil
	}
	v := change.Value

	hint := ""
	if v.Metadata != nil {
		hint = v.Metadata.PhoneNumberID
	}

	if len(v.Messages) > 0 {
		for _, m := range v.Messages {
			text := noTextContent
			if m.Text != nil && m.Text.Body != "" {
				text = m.Text.Body
			}
			events = append(events, domain.InboundEvent{
				ProviderFamily:    domain.PlatformWhatsApp,
				AccountHint:       hint,
				SenderNativeID:    m.From,
				RecipientNativeID: hint,
				Text:              text,
				ProviderTimestamp: epochTime(m.Timestamp),
				RawID:             m.ID,
			})
		}
		return events
	}

	// No messages array: synthesize a single event from the change value,
	// using the same from/sender and text/body fallbacks.
	sender := firstPartyID(v.From, v.Sender)
	if sender == "" {
		sender = "unknown"
	}
	rawID := v.ID
	if rawID == "" {
		rawID = "unknown"
	}
	text := noTextContent
	if v.Text != nil && v.Text.Body != "" {
		text = v.Text.Body
	} else if v.Message != nil && v.Message.Text != "" {
		text = v.Message.Text
	}

	return []domain.InboundEvent{{
		ProviderFamily:    domain.PlatformWhatsApp,
		AccountHint:       hint,
		SenderNativeID:    sender,
		RecipientNativeID: hint,
		Text:              text,
		ProviderTimestamp: epochTime(v.Timestamp),
		RawID:             rawID,
	}}
}

// epochTime interprets a provider timestamp as unix seconds or milliseconds.
// Meta sends millisecond numbers, the Business API sends second strings;
// anything unparseable falls back to now.
func epochTime(n json.Number) time.Time {
	if n.String() == "" {
		return time.Now()
	}
	v, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil {
		return time.Now()
	}
	if v > 1e12 {
		return time.UnixMilli(v)
	}
	return time.Unix(v, 0)
}
