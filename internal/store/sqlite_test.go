package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"digitext/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAccountRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	acc := domain.Account{
		ID:          "acc-1",
		Name:        "IG Main",
		Platform:    domain.PlatformInstagram,
		ExternalID:  "ig-ext-1",
		AccessToken: "tok",
		OperatorID:  "op-1",
	}
	if err := s.CreateAccount(ctx, acc); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.GetAccount(ctx, "acc-1")
	if err != nil || got == nil {
		t.Fatalf("get: %v / %v", got, err)
	}
	if got.Name != "IG Main" || got.Platform != domain.PlatformInstagram || got.OperatorID != "op-1" {
		t.Errorf("got = %+v", got)
	}

	byKey, err := s.FindAccountByRoutingKey(ctx, domain.PlatformInstagram, "ig-ext-1")
	if err != nil || byKey == nil || byKey.ID != "acc-1" {
		t.Errorf("routing lookup = %+v, %v", byKey, err)
	}

	// Same external id under a different platform is a different route.
	miss, err := s.FindAccountByRoutingKey(ctx, domain.PlatformMessenger, "ig-ext-1")
	if err != nil {
		t.Fatal(err)
	}
	if miss != nil {
		t.Errorf("cross-platform lookup matched: %+v", miss)
	}
}

func TestCreateAccount_IdempotentOnID(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	acc := domain.Account{ID: "acc-1", Platform: domain.PlatformWhatsApp, ExternalID: "e", OperatorID: "op"}
	if err := s.CreateAccount(ctx, acc); err != nil {
		t.Fatal(err)
	}
	acc.Name = "changed"
	if err := s.CreateAccount(ctx, acc); err != nil {
		t.Fatalf("second create must be a no-op, got %v", err)
	}

	got, _ := s.GetAccount(ctx, "acc-1")
	if got.Name != "" {
		t.Errorf("name = %q, second insert must not overwrite", got.Name)
	}
}

func TestContactIdentityUnique(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.CreateAccount(ctx, domain.Account{ID: "acc-1", Platform: domain.PlatformInstagram, ExternalID: "e", OperatorID: "op"}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateContact(ctx, domain.Contact{ID: "c-1", AccountID: "acc-1", ExternalID: "user-1", Name: "First"}); err != nil {
		t.Fatal(err)
	}

	// Second contact with the same identity violates the unique index.
	err := s.CreateContact(ctx, domain.Contact{ID: "c-2", AccountID: "acc-1", ExternalID: "user-1", Name: "Dup"})
	if err == nil {
		t.Fatal("duplicate (account, external) contact must fail")
	}

	// The same external id under another account is fine.
	if err := s.CreateAccount(ctx, domain.Account{ID: "acc-2", Platform: domain.PlatformMessenger, ExternalID: "e2", OperatorID: "op"}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateContact(ctx, domain.Contact{ID: "c-3", AccountID: "acc-2", ExternalID: "user-1"}); err != nil {
		t.Errorf("cross-account contact rejected: %v", err)
	}
}

func TestContactSummaryAndLabels(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.CreateAccount(ctx, domain.Account{ID: "acc-1", Platform: domain.PlatformInstagram, ExternalID: "e", OperatorID: "op"}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateContact(ctx, domain.Contact{ID: "c-1", AccountID: "acc-1", ExternalID: "u-1", Name: "X"}); err != nil {
		t.Fatal(err)
	}

	if err := s.UpdateContactSummary(ctx, "c-1", "latest text", 1); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateContactSummary(ctx, "c-1", "even later", 1); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetContact(ctx, "c-1")
	if got.LastMessage != "even later" || got.UnreadCount != 2 {
		t.Errorf("summary = %q unread = %d", got.LastMessage, got.UnreadCount)
	}

	if err := s.UpdateContactLabels(ctx, "c-1", []string{"vip", "lead"}, "called back"); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetContact(ctx, "c-1")
	if len(got.Labels) != 2 || got.Labels[0] != "vip" {
		t.Errorf("labels = %v", got.Labels)
	}
	if got.Notes != "called back" {
		t.Errorf("notes = %q", got.Notes)
	}
}

func TestMessagesOrderAndLimit(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.CreateAccount(ctx, domain.Account{ID: "acc-1", Platform: domain.PlatformWhatsApp, ExternalID: "e", OperatorID: "op"}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateContact(ctx, domain.Contact{ID: "c-1", AccountID: "acc-1", ExternalID: "u-1"}); err != nil {
		t.Fatal(err)
	}

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		err := s.AddMessage(ctx, domain.Message{
			ID:        fmt.Sprintf("m-%d", i),
			ContactID: "c-1",
			Content:   fmt.Sprintf("message %d", i),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Sender:    domain.SenderContact,
		})
		if err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}

	msgs, err := s.GetMessages(ctx, "c-1", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("len = %d, want 3", len(msgs))
	}
	// Last 3 messages, oldest first.
	if msgs[0].ID != "m-2" || msgs[2].ID != "m-4" {
		t.Errorf("order = %s..%s, want m-2..m-4", msgs[0].ID, msgs[2].ID)
	}

	all, _ := s.GetMessages(ctx, "c-1", 0)
	if len(all) != 5 {
		t.Errorf("default limit returned %d", len(all))
	}
}

func TestMessageStatusAndRead(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.CreateAccount(ctx, domain.Account{ID: "acc-1", Platform: domain.PlatformWhatsApp, ExternalID: "e", OperatorID: "op"}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateContact(ctx, domain.Contact{ID: "c-1", AccountID: "acc-1", ExternalID: "u-1", UnreadCount: 2}); err != nil {
		t.Fatal(err)
	}
	if err := s.AddMessage(ctx, domain.Message{ID: "m-1", ContactID: "c-1", Content: "x", Sender: domain.SenderOperator, Status: domain.StatusPending}); err != nil {
		t.Fatal(err)
	}

	if err := s.SetMessageStatus(ctx, "m-1", domain.StatusFailed); err != nil {
		t.Fatal(err)
	}
	msgs, _ := s.GetMessages(ctx, "c-1", 0)
	if msgs[0].Status != domain.StatusFailed {
		t.Errorf("status = %s", msgs[0].Status)
	}
	if msgs[0].Content != "x" {
		t.Error("content changed by status update")
	}

	if err := s.MarkConversationRead(ctx, "c-1"); err != nil {
		t.Fatal(err)
	}
	msgs, _ = s.GetMessages(ctx, "c-1", 0)
	if !msgs[0].IsRead {
		t.Error("message still unread")
	}
	contact, _ := s.GetContact(ctx, "c-1")
	if contact.UnreadCount != 0 {
		t.Errorf("unread = %d", contact.UnreadCount)
	}
}

func TestDeleteAccount_RemovesChildren(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.CreateAccount(ctx, domain.Account{ID: "acc-1", Platform: domain.PlatformLinkedSession, ExternalID: "op-1", OperatorID: "op-1"}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateContact(ctx, domain.Contact{ID: "c-1", AccountID: "acc-1", ExternalID: "u-1"}); err != nil {
		t.Fatal(err)
	}
	if err := s.AddMessage(ctx, domain.Message{ID: "m-1", ContactID: "c-1", Content: "x", Sender: domain.SenderContact}); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteAccount(ctx, "acc-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if acc, _ := s.GetAccount(ctx, "acc-1"); acc != nil {
		t.Error("account survived delete")
	}
	if c, _ := s.GetContact(ctx, "c-1"); c != nil {
		t.Error("contact survived delete")
	}
	if msgs, _ := s.GetMessages(ctx, "c-1", 0); len(msgs) != 0 {
		t.Errorf("messages survived delete: %d", len(msgs))
	}
}

func TestSeedAccounts(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	seedPath := filepath.Join(t.TempDir(), "accounts.yaml")
	seed := `accounts:
  - id: acc-seeded
    name: Main IG
    platform: instagram
    externalId: ig-100
    accessToken: tok
    operatorId: op-1
  - name: bad platform
    platform: myspace
    externalId: x
    operatorId: op-1
  - name: missing routing
    platform: whatsapp
`
	if err := os.WriteFile(seedPath, []byte(seed), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := SeedAccounts(ctx, s, seedPath, testLogger()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	acc, _ := s.FindAccountByRoutingKey(ctx, domain.PlatformInstagram, "ig-100")
	if acc == nil || acc.ID != "acc-seeded" {
		t.Fatalf("seeded account = %+v", acc)
	}

	// Invalid entries are skipped, not fatal.
	if accs, _ := s.ListAccountsByPlatform(ctx, domain.PlatformWhatsApp); len(accs) != 0 {
		t.Errorf("invalid entries seeded: %+v", accs)
	}

	// Reseeding is idempotent.
	if err := SeedAccounts(ctx, s, seedPath, testLogger()); err != nil {
		t.Fatalf("reseed: %v", err)
	}
	accs, _ := s.ListAccountsByPlatform(ctx, domain.PlatformInstagram)
	if len(accs) != 1 {
		t.Errorf("accounts after reseed = %d", len(accs))
	}

	// Missing file is fine.
	if err := SeedAccounts(ctx, s, filepath.Join(t.TempDir(), "none.yaml"), testLogger()); err != nil {
		t.Errorf("missing seed file: %v", err)
	}
}
