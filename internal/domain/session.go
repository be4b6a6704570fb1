package domain

// SessionState is the lifecycle state of a linked session.
type SessionState string

const (
	SessionUninitialized SessionState = "uninitialized"
	SessionAwaitingQR    SessionState = "awaiting_auth_code"
	SessionConnected     SessionState = "connected"
	SessionDisconnected  SessionState = "disconnected"
	SessionError         SessionState = "error"
)

// SessionStatus is the externally visible snapshot of a linked session,
// emitted on the fanout bus and returned by status checks.
type SessionStatus struct {
	OperatorID  string       `json:"operatorId"`
	State       SessionState `json:"state"`
	PhoneNumber string       `json:"phoneNumber,omitempty"`
}

// SendResult is the acknowledgement payload for a linked-session send.
type SendResult struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
}
