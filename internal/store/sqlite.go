package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"digitext/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Set connection pool (single connection for SQLite)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db, logger: logger}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id           TEXT PRIMARY KEY,
		name         TEXT,
		platform     TEXT NOT NULL,
		avatar       TEXT,
		unread_count INTEGER DEFAULT 0,
		external_id  TEXT NOT NULL,
		access_token TEXT,
		operator_id  TEXT NOT NULL,
		created_at   DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_accounts_routing ON accounts(platform, external_id);

	CREATE TABLE IF NOT EXISTS contacts (
		id                TEXT PRIMARY KEY,
		account_id        TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		external_id       TEXT NOT NULL,
		name              TEXT,
		avatar            TEXT,
		last_message      TEXT,
		last_message_time DATETIME,
		unread_count      INTEGER DEFAULT 0,
		labels            TEXT,
		notes             TEXT,
		created_at        DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_contacts_identity ON contacts(account_id, external_id);

	CREATE TABLE IF NOT EXISTS messages (
		id         TEXT PRIMARY KEY,
		contact_id TEXT NOT NULL REFERENCES contacts(id) ON DELETE CASCADE,
		content    TEXT NOT NULL,
		timestamp  DATETIME NOT NULL,
		sender     TEXT NOT NULL,
		is_read    INTEGER DEFAULT 0,
		status     TEXT DEFAULT 'sent'
	);
	CREATE INDEX IF NOT EXISTS idx_messages_contact ON messages(contact_id, timestamp);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) CreateAccount(ctx context.Context, acc domain.Account) error {
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO accounts (id, name, platform, avatar, unread_count, external_id, access_token, operator_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		acc.ID, acc.Name, acc.Platform, acc.Avatar, acc.UnreadCount, acc.ExternalID, acc.AccessToken, acc.OperatorID, acc.CreatedAt,
	)
	return err
}

func (s *SQLiteStore) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	return s.scanAccount(s.db.QueryRowContext(ctx,
		`SELECT id, name, platform, avatar, unread_count, external_id, access_token, operator_id, created_at
		 FROM accounts WHERE id = ?`, id))
}

func (s *SQLiteStore) FindAccountByRoutingKey(ctx context.Context, platform domain.Platform, externalID string) (*domain.Account, error) {
	return s.scanAccount(s.db.QueryRowContext(ctx,
		`SELECT id, name, platform, avatar, unread_count, external_id, access_token, operator_id, created_at
		 FROM accounts WHERE platform = ? AND external_id = ?`, platform, externalID))
}

func (s *SQLiteStore) ListAccountsByPlatform(ctx context.Context, platform domain.Platform) ([]domain.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, platform, avatar, unread_count, external_id, access_token, operator_id, created_at
		 FROM accounts WHERE platform = ? ORDER BY created_at`, platform)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		var a domain.Account
		var avatar, token sql.NullString
		if err := rows.Scan(&a.ID, &a.Name, &a.Platform, &avatar, &a.UnreadCount,
			&a.ExternalID, &token, &a.OperatorID, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Avatar = avatar.String
		a.AccessToken = token.String
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (s *SQLiteStore) IncrementAccountUnread(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET unread_count = unread_count + 1 WHERE id = ?`, id)
	return err
}

// DeleteAccount removes an account with its contacts and messages. Deletes
// run explicitly; the foreign_keys pragma is not guaranteed on.
func (s *SQLiteStore) DeleteAccount(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE contact_id IN (SELECT id FROM contacts WHERE account_id = ?)`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM contacts WHERE account_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) scanAccount(row *sql.Row) (*domain.Account, error) {
	var a domain.Account
	var avatar, token sql.NullString
	err := row.Scan(&a.ID, &a.Name, &a.Platform, &avatar, &a.UnreadCount,
		&a.ExternalID, &token, &a.OperatorID, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.Avatar = avatar.String
	a.AccessToken = token.String
	return &a, nil
}

func (s *SQLiteStore) CreateContact(ctx context.Context, c domain.Contact) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contacts (id, account_id, external_id, name, avatar, last_message, last_message_time, unread_count, labels, notes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.AccountID, c.ExternalID, c.Name, c.Avatar, c.LastMessage, c.LastMessageTime,
		c.UnreadCount, strings.Join(c.Labels, ","), c.Notes, c.CreatedAt,
	)
	return err
}

func (s *SQLiteStore) GetContact(ctx context.Context, id string) (*domain.Contact, error) {
	return s.scanContact(s.db.QueryRowContext(ctx,
		`SELECT id, account_id, external_id, name, avatar, last_message, last_message_time, unread_count, labels, notes, created_at
		 FROM contacts WHERE id = ?`, id))
}

func (s *SQLiteStore) FindContact(ctx context.Context, accountID, externalID string) (*domain.Contact, error) {
	return s.scanContact(s.db.QueryRowContext(ctx,
		`SELECT id, account_id, external_id, name, avatar, last_message, last_message_time, unread_count, labels, notes, created_at
		 FROM contacts WHERE account_id = ? AND external_id = ?`, accountID, externalID))
}

func (s *SQLiteStore) scanContact(row *sql.Row) (*domain.Contact, error) {
	var c domain.Contact
	var avatar, lastMessage, labels, notes sql.NullString
	var lastTime sql.NullTime
	err := row.Scan(&c.ID, &c.AccountID, &c.ExternalID, &c.Name, &avatar,
		&lastMessage, &lastTime, &c.UnreadCount, &labels, &notes, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.Avatar = avatar.String
	c.LastMessage = lastMessage.String
	if lastTime.Valid {
		c.LastMessageTime = lastTime.Time
	}
	if labels.String != "" {
		c.Labels = strings.Split(labels.String, ",")
	}
	c.Notes = notes.String
	return &c, nil
}

func (s *SQLiteStore) UpdateContactSummary(ctx context.Context, id, lastMessage string, unreadDelta int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE contacts SET last_message = ?, last_message_time = ?, unread_count = unread_count + ? WHERE id = ?`,
		lastMessage, time.Now(), unreadDelta, id,
	)
	return err
}

func (s *SQLiteStore) UpdateContactLabels(ctx context.Context, id string, labels []string, notes string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE contacts SET labels = ?, notes = ? WHERE id = ?`,
		strings.Join(labels, ","), notes, id,
	)
	return err
}

func (s *SQLiteStore) AddMessage(ctx context.Context, msg domain.Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if msg.Status == "" {
		msg.Status = domain.StatusSent
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, contact_id, content, timestamp, sender, is_read, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ContactID, msg.Content, msg.Timestamp, msg.Sender, msg.IsRead, msg.Status,
	)
	return err
}

func (s *SQLiteStore) GetMessages(ctx context.Context, contactID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 100
	}

	// Get last N messages, ordered oldest first
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, contact_id, content, timestamp, sender, is_read, status
		 FROM messages WHERE contact_id = ?
		 ORDER BY timestamp DESC LIMIT ?`, contactID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.ContactID, &m.Content, &m.Timestamp, &m.Sender, &m.IsRead, &m.Status); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *SQLiteStore) SetMessageStatus(ctx context.Context, id, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET status = ? WHERE id = ?`, status, id)
	return err
}

// MarkConversationRead flags every message of a contact as read and resets
// the contact's unread counter.
func (s *SQLiteStore) MarkConversationRead(ctx context.Context, contactID string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE messages SET is_read = 1 WHERE contact_id = ?`, contactID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE contacts SET unread_count = 0 WHERE id = ?`, contactID)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
