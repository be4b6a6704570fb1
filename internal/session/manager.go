// Package session manages browser-automation-backed provider sessions, one
// per operator: QR authentication, liveness checks, teardown, and sends.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"digitext/internal/config"
	"digitext/internal/domain"
	"digitext/internal/metrics"

	"github.com/google/uuid"
)

// Conversations is the slice of the resolver the session manager needs:
// inbound delivery and optimistic outbound bookkeeping.
type Conversations interface {
	HandleInbound(ctx context.Context, ev domain.InboundEvent) error
	AppendLinkedOutbound(ctx context.Context, operatorID, targetID, content string) (*domain.Message, error)
	MarkSent(ctx context.Context, messageID string)
	MarkFailed(ctx context.Context, messageID string)
}

// Manager owns the set of live sessions. All map and per-session state
// mutations run under one mutex; automation calls that can block (state
// checks, sends) run outside it with their own timeouts.
type Manager struct {
	factory AutomationFactory
	sink    domain.EventSink
	conv    Conversations
	store   domain.Store
	cfg     config.SessionConfig
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*liveSession
}

type liveSession struct {
	operatorID  string
	automation  Automation
	state       domain.SessionState
	lastQR      string
	phoneNumber string
	accountID   string
	counted     bool // reflected in the sessions-active gauge
}

func NewManager(factory AutomationFactory, sink domain.EventSink, conv Conversations, store domain.Store, cfg config.SessionConfig, logger *slog.Logger) *Manager {
	return &Manager{
		factory:  factory,
		sink:     sink,
		conv:     conv,
		store:    store,
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[string]*liveSession),
	}
}

// RequestCode starts (or reuses) the operator's session and drives it toward
// authentication. A session already waiting for a scan re-emits its current
// code instead of restarting the client.
func (m *Manager) RequestCode(ctx context.Context, operatorID string) (domain.SessionStatus, error) {
	m.mu.Lock()
	if s, ok := m.sessions[operatorID]; ok {
		switch s.state {
		case domain.SessionUninitialized:
			// A start is already in flight for this operator.
			status := m.statusLocked(s)
			m.mu.Unlock()
			return status, nil
		case domain.SessionAwaitingQR:
			if s.lastQR != "" {
				m.sink.Emit(operatorID, domain.Event{
					Type:    domain.EventSessionQR,
					Payload: map[string]any{"operatorId": operatorID, "code": s.lastQR},
				})
			}
			status := m.statusLocked(s)
			m.mu.Unlock()
			return status, nil
		case domain.SessionConnected:
			status := m.statusLocked(s)
			m.sink.Emit(operatorID, domain.Event{Type: domain.EventSessionStatus, Payload: status})
			m.mu.Unlock()
			return status, nil
		default:
			// Stale session; tear it down and start over.
			m.teardownLocked(s)
			delete(m.sessions, operatorID)
		}
	}

	s := &liveSession{
		operatorID: operatorID,
		automation: m.factory(operatorID),
		state:      domain.SessionUninitialized,
	}
	m.sessions[operatorID] = s

	events := AutomationEvents{
		QR:      func(code string) { m.onQR(operatorID, code) },
		Ready:   func(phone string) { m.onReady(operatorID, phone) },
		Message: func(from, body string, ts time.Time) { m.onMessage(operatorID, from, body, ts) },
	}

	// Launching a browser can take seconds; other operators' commands must
	// not queue behind it.
	m.mu.Unlock()
	err := s.automation.Start(ctx, events)
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sessions[operatorID] != s {
		// Disconnected or recycled while starting.
		if cerr := s.automation.Close(); cerr != nil {
			m.logger.Debug("automation close", "operator", operatorID, "err", cerr)
		}
		return domain.SessionStatus{OperatorID: operatorID, State: domain.SessionDisconnected}, nil
	}

	if err != nil {
		s.state = domain.SessionError
		status := m.statusLocked(s)
		m.teardownLocked(s)
		delete(m.sessions, operatorID)
		m.logger.Error("session start failed", "operator", operatorID, "err", err)
		return status, fmt.Errorf("start session for %s: %w", operatorID, err)
	}

	go m.expireUnauthenticated(operatorID, s)

	m.logger.Info("session starting", "operator", operatorID)
	return m.statusLocked(s), nil
}

// expireUnauthenticated recycles a session that never gets its code scanned.
// The browser refreshes codes on its own, so the window covers the whole
// authentication attempt, not a single code.
func (m *Manager) expireUnauthenticated(operatorID string, s *liveSession) {
	timer := time.NewTimer(time.Duration(m.cfg.QRTimeoutSec) * time.Second)
	defer timer.Stop()
	<-timer.C

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sessions[operatorID] != s || s.state == domain.SessionConnected {
		return
	}
	m.teardownLocked(s)
	delete(m.sessions, operatorID)
	status := domain.SessionStatus{OperatorID: operatorID, State: domain.SessionDisconnected}
	m.sink.Emit(operatorID, domain.Event{Type: domain.EventSessionStatus, Payload: status})
	m.logger.Info("session authentication timed out", "operator", operatorID)
}

// CheckStatus reports the live state of the operator's session. An absent
// session is definitively disconnected. A session whose client cannot be
// queried, or reports anything but connected, is torn down so the next
// request starts clean.
func (m *Manager) CheckStatus(ctx context.Context, operatorID string) domain.SessionStatus {
	m.mu.Lock()
	s, ok := m.sessions[operatorID]
	if !ok {
		m.mu.Unlock()
		return domain.SessionStatus{OperatorID: operatorID, State: domain.SessionDisconnected}
	}
	automation := s.automation
	m.mu.Unlock()

	stateCtx, cancel := context.WithTimeout(ctx, time.Duration(m.cfg.StateTimeoutSec)*time.Second)
	state, err := automation.State(stateCtx)
	cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	// The session may have been disconnected while we were polling.
	if m.sessions[operatorID] != s {
		return domain.SessionStatus{OperatorID: operatorID, State: domain.SessionDisconnected}
	}

	if err != nil || state != "connected" {
		if err != nil {
			m.logger.Warn("session state check failed, recycling", "operator", operatorID, "err", err)
		}
		if s.state != domain.SessionConnected {
			// Still starting or not authenticated yet; that is not a failure.
			return m.statusLocked(s)
		}
		m.teardownLocked(s)
		delete(m.sessions, operatorID)
		status := domain.SessionStatus{OperatorID: operatorID, State: domain.SessionDisconnected}
		m.sink.Emit(operatorID, domain.Event{Type: domain.EventSessionStatus, Payload: status})
		return status
	}

	s.state = domain.SessionConnected
	return m.statusLocked(s)
}

// Disconnect tears the operator's session down and removes its conversation
// account. Always resolves to disconnected, even when no session exists.
func (m *Manager) Disconnect(ctx context.Context, operatorID string) domain.SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := domain.SessionStatus{OperatorID: operatorID, State: domain.SessionDisconnected}
	s, ok := m.sessions[operatorID]
	if !ok {
		return status
	}

	accountID := s.accountID
	m.teardownLocked(s)
	delete(m.sessions, operatorID)

	if accountID != "" {
		if err := m.store.DeleteAccount(ctx, accountID); err != nil {
			m.logger.Warn("cannot remove session account", "operator", operatorID, "err", err)
		}
	}

	m.sink.Emit(operatorID, domain.Event{Type: domain.EventSessionStatus, Payload: status})
	m.logger.Info("session disconnected", "operator", operatorID)
	return status
}

// Send delivers one message through the operator's session. A session that
// is not connected fails fast without touching the client.
func (m *Manager) Send(ctx context.Context, operatorID, to, body string) domain.SendResult {
	m.mu.Lock()
	s, ok := m.sessions[operatorID]
	if !ok || s.state != domain.SessionConnected {
		m.mu.Unlock()
		return domain.SendResult{Success: false, Error: "session not connected"}
	}
	automation := s.automation
	m.mu.Unlock()

	chatID := FormatChatID(to, m.cfg.DefaultCountryCode)

	msg, err := m.conv.AppendLinkedOutbound(ctx, operatorID, chatID, body)
	if err != nil {
		m.logger.Error("cannot record outbound message", "operator", operatorID, "err", err)
		return domain.SendResult{Success: false, Error: err.Error()}
	}

	start := time.Now()
	sendCtx, cancel := context.WithTimeout(ctx, time.Duration(m.cfg.StateTimeoutSec)*time.Second)
	providerID, err := automation.Send(sendCtx, chatID, body)
	cancel()
	metrics.SendLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		m.conv.MarkFailed(ctx, msg.ID)
		m.logger.Warn("send failed", "operator", operatorID, "chat", chatID, "err", err)
		return domain.SendResult{Success: false, MessageID: msg.ID, Error: err.Error()}
	}

	m.conv.MarkSent(ctx, msg.ID)
	m.logger.Info("message sent", "operator", operatorID, "chat", chatID, "providerId", providerID)
	return domain.SendResult{Success: true, MessageID: msg.ID}
}

// Shutdown closes every live session. Accounts are kept; sessions resume on
// the next start thanks to persisted browser profiles.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for operatorID, s := range m.sessions {
		m.teardownLocked(s)
		delete(m.sessions, operatorID)
	}
}

func (m *Manager) onQR(operatorID, code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[operatorID]
	if !ok {
		return
	}
	s.state = domain.SessionAwaitingQR
	s.lastQR = code
	m.sink.Emit(operatorID, domain.Event{
		Type:    domain.EventSessionQR,
		Payload: map[string]any{"operatorId": operatorID, "code": code},
	})
	m.logger.Info("auth code issued", "operator", operatorID)
}

func (m *Manager) onReady(operatorID, phone string) {
	m.mu.Lock()
	s, ok := m.sessions[operatorID]
	if !ok {
		m.mu.Unlock()
		return
	}
	s.state = domain.SessionConnected
	s.lastQR = ""
	s.phoneNumber = phone
	if !s.counted {
		s.counted = true
		metrics.SessionsActive.Inc()
	}
	// The connected status goes out while the session is still held, so a
	// concurrent disconnect cannot reorder the transitions for subscribers.
	status := m.statusLocked(s)
	m.sink.Emit(operatorID, domain.Event{Type: domain.EventSessionStatus, Payload: status})
	m.logger.Info("session connected", "operator", operatorID, "phone", phone)
	m.mu.Unlock()

	accountID, err := m.ensureAccount(context.Background(), operatorID, phone)
	if err != nil {
		m.logger.Error("cannot register session account", "operator", operatorID, "err", err)
		return
	}

	m.mu.Lock()
	if cur, ok := m.sessions[operatorID]; ok && cur == s {
		s.accountID = accountID
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	// The session went away while its account was being registered; do not
	// leave the account behind.
	if err := m.store.DeleteAccount(context.Background(), accountID); err != nil {
		m.logger.Warn("cannot remove orphaned session account", "operator", operatorID, "err", err)
	}
}

// ensureAccount registers the linked-session account that inbound messages
// resolve against. The operator id is the routing key.
func (m *Manager) ensureAccount(ctx context.Context, operatorID, phone string) (string, error) {
	existing, err := m.store.FindAccountByRoutingKey(ctx, domain.PlatformLinkedSession, operatorID)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return existing.ID, nil
	}

	name := "WhatsApp Web"
	if phone != "" {
		name = "WhatsApp Web " + phone
	}
	acc := domain.Account{
		ID:         "acc-" + uuid.NewString(),
		Name:       name,
		Platform:   domain.PlatformLinkedSession,
		ExternalID: operatorID,
		OperatorID: operatorID,
	}
	if err := m.store.CreateAccount(ctx, acc); err != nil {
		return "", err
	}
	return acc.ID, nil
}

func (m *Manager) onMessage(operatorID, from, body string, ts time.Time) {
	if from == "" {
		return
	}
	ev := domain.InboundEvent{
		ProviderFamily:    domain.PlatformLinkedSession,
		AccountHint:       operatorID,
		SenderNativeID:    from,
		Text:              body,
		ProviderTimestamp: ts,
	}
	if err := m.conv.HandleInbound(context.Background(), ev); err != nil {
		m.logger.Warn("inbound session message dropped", "operator", operatorID, "err", err)
	}
}

// teardownLocked closes a session's automation. Callers hold m.mu.
func (m *Manager) teardownLocked(s *liveSession) {
	if s.counted {
		s.counted = false
		metrics.SessionsActive.Dec()
	}
	if err := s.automation.Close(); err != nil {
		m.logger.Debug("automation close", "operator", s.operatorID, "err", err)
	}
}

func (m *Manager) statusLocked(s *liveSession) domain.SessionStatus {
	return domain.SessionStatus{
		OperatorID:  s.operatorID,
		State:       s.state,
		PhoneNumber: s.phoneNumber,
	}
}
