package session

import (
	"context"
	"strings"
	"time"
)

// AutomationEvents are the callbacks an Automation fires as the linked
// client changes state. Callbacks may be invoked from the automation's own
// goroutines.
type AutomationEvents struct {
	QR      func(code string)
	Ready   func(phoneNumber string)
	Message func(from, body string, ts time.Time)
}

// Automation drives one provider client instance on behalf of an operator.
// The production implementation runs WhatsApp Web in a browser; tests plug
// in a fake.
type Automation interface {
	// Start launches the client and begins firing events. It returns once
	// the client is up, not once it is authenticated.
	Start(ctx context.Context, events AutomationEvents) error

	// State reports the live client state ("connected" or anything else).
	State(ctx context.Context) (string, error)

	// Send delivers a message to a chat and returns the provider message id.
	Send(ctx context.Context, chatID, body string) (string, error)

	Close() error
}

// AutomationFactory builds a fresh Automation for one operator. Sessions are
// torn down and recreated on unrecoverable state, so the factory is called
// more than once per operator over a process lifetime.
type AutomationFactory func(operatorID string) Automation

// FormatChatID normalizes a raw recipient into the provider chat id form:
// digits only, default country code prefixed when missing, "@c.us" suffixed.
// Ids that already carry a server suffix pass through untouched.
func FormatChatID(raw, countryCode string) string {
	if strings.Contains(raw, "@") {
		return raw
	}
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	number := b.String()
	if countryCode != "" && !strings.HasPrefix(number, countryCode) {
		number = countryCode + number
	}
	return number + "@c.us"
}
