package domain

import "time"

// InboundEvent is the canonical, provider-agnostic form of one incoming
// message. It exists only in flight between the webhook normalizer (or the
// linked-session manager) and the resolver; it is never persisted.
type InboundEvent struct {
	ProviderFamily    Platform
	AccountHint       string // provider routing key when the payload carries one
	SenderNativeID    string
	RecipientNativeID string
	Text              string
	Attachments       []string
	ProviderTimestamp time.Time
	RawID             string
}

// Event is one unit pushed to a dashboard client over the fanout bus.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Fanout event types pushed to dashboard clients.
const (
	EventSessionQR     = "linked-session:qr"
	EventSessionStatus = "linked-session:status"
	EventMessage       = "conversation:message"
)

// Control command types received from dashboard clients.
const (
	CmdRequestCode = "linked-session:request-code"
	CmdCheckStatus = "linked-session:check-status"
	CmdDisconnect  = "linked-session:disconnect"
	CmdSend        = "linked-session:send"
	CmdMarkRead    = "conversation:mark-read"
)

// EventSink delivers events to every dashboard client bound to an operator.
// Implemented by the fanout hub; used by the resolver and session manager.
type EventSink interface {
	Emit(operatorID string, event Event)
}
