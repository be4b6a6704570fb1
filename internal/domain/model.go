package domain

import "time"

// Platform identifies which provider family an Account belongs to.
type Platform string

const (
	PlatformInstagram     Platform = "instagram"
	PlatformMessenger     Platform = "messenger"
	PlatformWhatsApp      Platform = "whatsapp"
	PlatformLinkedSession Platform = "linked-session"
)

// DisplayName returns the human-readable provider name used when
// synthesizing contact names (e.g. "Instagram User a1b2c3").
func (p Platform) DisplayName() string {
	switch p {
	case PlatformInstagram:
		return "Instagram"
	case PlatformMessenger:
		return "Messenger"
	case PlatformWhatsApp:
		return "WhatsApp"
	case PlatformLinkedSession:
		return "WhatsApp Web"
	default:
		return string(p)
	}
}

// Account is a connected messaging identity under one provider.
// ExternalID is the provider-side routing key: the Instagram user ID,
// the Messenger page ID, the Business API phone_number_id, or the
// operator ID for linked sessions.
type Account struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Platform    Platform  `json:"platform"`
	Avatar      string    `json:"avatar,omitempty"`
	UnreadCount int       `json:"unreadCount"`
	ExternalID  string    `json:"externalId"`
	AccessToken string    `json:"accessToken,omitempty"`
	OperatorID  string    `json:"operatorId"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Contact is one external conversation participant tied to an Account.
// At most one Contact exists per (AccountID, ExternalID) pair.
type Contact struct {
	ID              string    `json:"id"`
	AccountID       string    `json:"accountId"`
	ExternalID      string    `json:"externalId"`
	Name            string    `json:"name"`
	Avatar          string    `json:"avatar,omitempty"`
	LastMessage     string    `json:"lastMessage,omitempty"`
	LastMessageTime time.Time `json:"lastMessageTime,omitempty"`
	UnreadCount     int       `json:"unreadCount"`
	Labels          []string  `json:"labels,omitempty"`
	Notes           string    `json:"notes,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Message sender values.
const (
	SenderOperator = "operator"
	SenderContact  = "contact"
)

// Message delivery status values. Content is append-only and immutable;
// only IsRead and Status may change after creation.
const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// Message is one content unit inside a Contact's conversation.
type Message struct {
	ID        string    `json:"id"`
	ContactID string    `json:"contactId"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Sender    string    `json:"sender"` // operator | contact
	IsRead    bool      `json:"isRead"`
	Status    string    `json:"status"`
}
