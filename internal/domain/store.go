package domain

import "context"

// Store is the durable conversation store boundary. The core only needs
// create/read/update on accounts, contacts, and messages; the schema behind
// it is the store implementation's concern.
type Store interface {
	CreateAccount(ctx context.Context, acc Account) error
	GetAccount(ctx context.Context, id string) (*Account, error)
	FindAccountByRoutingKey(ctx context.Context, platform Platform, externalID string) (*Account, error)
	ListAccountsByPlatform(ctx context.Context, platform Platform) ([]Account, error)
	IncrementAccountUnread(ctx context.Context, id string) error
	DeleteAccount(ctx context.Context, id string) error

	CreateContact(ctx context.Context, c Contact) error
	GetContact(ctx context.Context, id string) (*Contact, error)
	FindContact(ctx context.Context, accountID, externalID string) (*Contact, error)
	UpdateContactSummary(ctx context.Context, id, lastMessage string, unreadDelta int) error
	UpdateContactLabels(ctx context.Context, id string, labels []string, notes string) error

	AddMessage(ctx context.Context, msg Message) error
	GetMessages(ctx context.Context, contactID string, limit int) ([]Message, error)
	SetMessageStatus(ctx context.Context, id, status string) error
	MarkConversationRead(ctx context.Context, contactID string) error

	Close() error
}
