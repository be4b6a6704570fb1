// Package resolver matches normalized inbound events to conversations:
// account routing, lazy contact creation, message append, summary updates.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"digitext/internal/domain"
	"digitext/internal/metrics"

	"github.com/google/uuid"
)

// Notifier receives a ping for every inbound message (operator alerts).
type Notifier interface {
	NotifyNewMessage(ctx context.Context, contact domain.Contact, msg domain.Message)
}

// Resolver owns conversation resolution. All resolution runs under one
// mutex: get-or-create on (accountID, externalID) must not race, and
// messages within one contact must append in resolution order.
type Resolver struct {
	store    domain.Store
	sink     domain.EventSink
	notifier Notifier // optional
	logger   *slog.Logger
	mu       sync.Mutex
}

func New(store domain.Store, sink domain.EventSink, notifier Notifier, logger *slog.Logger) *Resolver {
	return &Resolver{
		store:    store,
		sink:     sink,
		notifier: notifier,
		logger:   logger,
	}
}

// HandleInbound resolves one event against the store and fans the appended
// message out to the owning operator. Events without a routable account are
// dropped (no buffering: accounts are registered before traffic starts).
func (r *Resolver) HandleInbound(ctx context.Context, ev domain.InboundEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, err := r.routeAccount(ctx, ev)
	if err != nil {
		metrics.EventsDroppedTotal.Inc()
		return err
	}

	contact, err := r.store.FindContact(ctx, account.ID, ev.SenderNativeID)
	if err != nil {
		return fmt.Errorf("find contact: %w", err)
	}

	if contact == nil {
		contact = &domain.Contact{
			ID:              "contact-" + uuid.NewString(),
			AccountID:       account.ID,
			ExternalID:      ev.SenderNativeID,
			Name:            contactName(ev.ProviderFamily, ev.SenderNativeID),
			Avatar:          avatarURL(ev.ProviderFamily),
			LastMessage:     ev.Text,
			LastMessageTime: ev.ProviderTimestamp,
			UnreadCount:     1,
		}
		if err := r.store.CreateContact(ctx, *contact); err != nil {
			return fmt.Errorf("create contact: %w", err)
		}
	} else {
		if err := r.store.UpdateContactSummary(ctx, contact.ID, ev.Text, 1); err != nil {
			return fmt.Errorf("update contact: %w", err)
		}
		contact.LastMessage = ev.Text
		contact.UnreadCount++
	}

	msg := domain.Message{
		ID:        "msg-" + uuid.NewString(),
		ContactID: contact.ID,
		Content:   ev.Text,
		Timestamp: ev.ProviderTimestamp,
		Sender:    domain.SenderContact,
		IsRead:    false,
		Status:    domain.StatusSent,
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if err := r.store.AddMessage(ctx, msg); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	metrics.MessagesTotal.Inc()

	if err := r.store.IncrementAccountUnread(ctx, account.ID); err != nil {
		r.logger.Warn("cannot update account unread counter", "account", account.ID, "err", err)
	}

	r.logger.Info("inbound message resolved",
		"provider", ev.ProviderFamily,
		"account", account.ID,
		"contact", contact.ID,
	)

	r.sink.Emit(account.OperatorID, domain.Event{
		Type: domain.EventMessage,
		Payload: map[string]any{
			"contactId": contact.ID,
			"message":   msg,
		},
	})

	if r.notifier != nil {
		r.notifier.NotifyNewMessage(ctx, *contact, msg)
	}

	return nil
}

// routeAccount finds the target account for an event: exact routing key
// first, then (for relay events that carry no recipient) the sole registered
// account of that platform.
func (r *Resolver) routeAccount(ctx context.Context, ev domain.InboundEvent) (*domain.Account, error) {
	key := ev.AccountHint
	if key == "" {
		key = ev.RecipientNativeID
	}
	if key != "" {
		acc, err := r.store.FindAccountByRoutingKey(ctx, ev.ProviderFamily, key)
		if err != nil {
			return nil, fmt.Errorf("account lookup: %w", err)
		}
		if acc != nil {
			return acc, nil
		}
	}

	accounts, err := r.store.ListAccountsByPlatform(ctx, ev.ProviderFamily)
	if err != nil {
		return nil, fmt.Errorf("account lookup: %w", err)
	}
	if key == "" && len(accounts) == 1 {
		return &accounts[0], nil
	}
	return nil, fmt.Errorf("no account for %s event (recipient %q)", ev.ProviderFamily, key)
}

// AppendOutbound appends an operator message to an existing contact,
// optimistically, before any provider round-trip confirms delivery.
func (r *Resolver) AppendOutbound(ctx context.Context, contactID, content string) (*domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contact, err := r.store.GetContact(ctx, contactID)
	if err != nil {
		return nil, fmt.Errorf("get contact: %w", err)
	}
	if contact == nil {
		return nil, fmt.Errorf("unknown contact %s", contactID)
	}
	return r.appendOperatorMessage(ctx, contact, content)
}

// AppendLinkedOutbound appends an operator message for a linked-session
// send, creating the contact for the target number when this is the first
// exchange with it.
func (r *Resolver) AppendLinkedOutbound(ctx context.Context, operatorID, targetID, content string) (*domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, err := r.store.FindAccountByRoutingKey(ctx, domain.PlatformLinkedSession, operatorID)
	if err != nil {
		return nil, fmt.Errorf("account lookup: %w", err)
	}
	if account == nil {
		return nil, fmt.Errorf("no linked-session account for operator %s", operatorID)
	}

	contact, err := r.store.FindContact(ctx, account.ID, targetID)
	if err != nil {
		return nil, fmt.Errorf("find contact: %w", err)
	}
	if contact == nil {
		contact = &domain.Contact{
			ID:         "contact-" + uuid.NewString(),
			AccountID:  account.ID,
			ExternalID: targetID,
			Name:       contactName(domain.PlatformLinkedSession, targetID),
			Avatar:     avatarURL(domain.PlatformLinkedSession),
		}
		if err := r.store.CreateContact(ctx, *contact); err != nil {
			return nil, fmt.Errorf("create contact: %w", err)
		}
	}
	return r.appendOperatorMessage(ctx, contact, content)
}

// appendOperatorMessage writes the optimistic operator message. Callers hold r.mu.
func (r *Resolver) appendOperatorMessage(ctx context.Context, contact *domain.Contact, content string) (*domain.Message, error) {
	msg := domain.Message{
		ID:        "msg-" + uuid.NewString(),
		ContactID: contact.ID,
		Content:   content,
		Timestamp: time.Now(),
		Sender:    domain.SenderOperator,
		IsRead:    true,
		Status:    domain.StatusPending,
	}
	if err := r.store.AddMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	if err := r.store.UpdateContactSummary(ctx, contact.ID, content, 0); err != nil {
		return nil, fmt.Errorf("update contact: %w", err)
	}
	metrics.MessagesTotal.Inc()

	account, err := r.store.GetAccount(ctx, contact.AccountID)
	if err == nil && account != nil {
		r.sink.Emit(account.OperatorID, domain.Event{
			Type: domain.EventMessage,
			Payload: map[string]any{
				"contactId": contact.ID,
				"message":   msg,
			},
		})
	}
	return &msg, nil
}

// MarkSent records that the provider accepted an optimistic message.
func (r *Resolver) MarkSent(ctx context.Context, messageID string) {
	if err := r.store.SetMessageStatus(ctx, messageID, domain.StatusSent); err != nil {
		r.logger.Warn("cannot mark message sent", "message", messageID, "err", err)
	}
}

// MarkFailed records a provider rejection. The optimistic message is not
// rolled back, only flagged.
func (r *Resolver) MarkFailed(ctx context.Context, messageID string) {
	metrics.SendsFailedTotal.Inc()
	if err := r.store.SetMessageStatus(ctx, messageID, domain.StatusFailed); err != nil {
		r.logger.Warn("cannot mark message failed", "message", messageID, "err", err)
	}
}

// MarkRead clears the unread state of one contact's conversation.
func (r *Resolver) MarkRead(ctx context.Context, contactID string) error {
	return r.store.MarkConversationRead(ctx, contactID)
}

func contactName(platform domain.Platform, externalID string) string {
	return fmt.Sprintf("%s User %s", platform.DisplayName(), shortID(platform, externalID))
}

// shortID keeps contact names readable: phone-number identities show their
// last six digits, social identities their first six characters.
func shortID(platform domain.Platform, externalID string) string {
	switch platform {
	case domain.PlatformWhatsApp, domain.PlatformLinkedSession:
		// Chat ids carry suffixes like "@c.us"; only the number matters.
		digits := strings.Map(func(r rune) rune {
			if r >= '0' && r <= '9' {
				return r
			}
			return -1
		}, externalID)
		if len(digits) > 6 {
			return digits[len(digits)-6:]
		}
		if digits != "" {
			return digits
		}
	}
	if len(externalID) <= 6 {
		return externalID
	}
	return externalID[:6]
}

func avatarURL(platform domain.Platform) string {
	switch platform {
	case domain.PlatformInstagram:
		return "https://ui-avatars.com/api/?name=IG&background=E1306C&color=fff"
	case domain.PlatformMessenger:
		return "https://ui-avatars.com/api/?name=FB&background=0084FF&color=fff"
	default:
		return "https://ui-avatars.com/api/?name=WA&background=25D366&color=fff"
	}
}
