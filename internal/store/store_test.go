package store_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/daygle/mail-archiver/internal/model"
	"github.com/daygle/mail-archiver/internal/store"
	"github.com/daygle/mail-archiver/tests/testutil"
)

func newAccount(t *testing.T, s *store.SQLiteStore, name string) int64 {
	t.Helper()

	id, err := s.CreateAccount(context.Background(), model.Account{
		Name:     name,
		Type:     model.AccountTypeIMAP,
		Host:     "mail.example.com",
		Port:     993,
		Username: name + "@example.com",
		Enabled:  true,
	})
	if err != nil {
		t.Fatalf("creating account: %v", err)
	}
	return id
}

func TestPutMessageIdempotent(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	raw := []byte("From: a@example.com\r\nSubject: hello\r\n\r\nbody\r\n")
	msg := model.IncomingMessage{
		Source: "acct1",
		Folder: "INBOX",
		UID:    42,
		Raw:    raw,
	}

	res, err := s.PutMessage(ctx, msg)
	if err != nil {
		t.Fatalf("first put: %v", err)
	}
	if res != store.PutStored {
		t.Fatalf("first put = %v, want PutStored", res)
	}

	res, err = s.PutMessage(ctx, msg)
	if err != nil {
		t.Fatalf("second put: %v", err)
	}
	if res != store.PutAlreadyPresent {
		t.Fatalf("second put = %v, want PutAlreadyPresent", res)
	}

	n, err := s.CountMessages(ctx)
	if err != nil {
		t.Fatalf("counting: %v", err)
	}
	if n != 1 {
		t.Fatalf("message count = %d, want 1", n)
	}
}

func TestGetMessageRoundTrip(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	raw := []byte("From: a@example.com\r\nSubject: round trip\r\n\r\nsome body text\r\n")
	msg := model.IncomingMessage{
		Source:  "acct1",
		Folder:  "INBOX",
		UID:     7,
		Subject: "round trip",
		Sender:  "a@example.com",
		Raw:     raw,
	}

	if _, err := s.PutMessage(ctx, msg); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := s.GetMessage(ctx, "acct1", "INBOX", 7)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("get returned nil for stored message")
	}
	if !bytes.Equal(got.RawEmail, raw) {
		t.Fatalf("raw bytes differ after round trip")
	}

	sum := sha256.Sum256(raw)
	if got.Signature != hex.EncodeToString(sum[:]) {
		t.Fatalf("signature = %q, want sha256 of raw content", got.Signature)
	}
	if got.Subject != "round trip" {
		t.Fatalf("subject = %q", got.Subject)
	}
}

func TestGetMessageMissing(t *testing.T) {
	s := testutil.NewTestStore(t)

	got, err := s.GetMessage(context.Background(), "nobody", "INBOX", 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("got %+v for missing message, want nil", got)
	}
}

func TestQuarantineSeparateFromArchive(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	clean := model.IncomingMessage{
		Source: "acct1", Folder: "INBOX", UID: 1,
		Raw: []byte("clean message"),
	}
	infected := model.IncomingMessage{
		Source: "acct1", Folder: "INBOX", UID: 2,
		Raw: []byte("infected message"),
	}

	if _, err := s.PutMessage(ctx, clean); err != nil {
		t.Fatalf("put clean: %v", err)
	}
	res, err := s.PutQuarantined(ctx, infected, "Eicar-Test-Signature")
	if err != nil {
		t.Fatalf("put quarantined: %v", err)
	}
	if res != store.PutStored {
		t.Fatalf("quarantine put = %v, want PutStored", res)
	}

	// The infected message must not be visible in the main archive.
	got, err := s.GetMessage(ctx, "acct1", "INBOX", 2)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatal("quarantined message visible in main archive")
	}

	archived, _ := s.CountMessages(ctx)
	quarantined, _ := s.CountQuarantined(ctx)
	if archived != 1 || quarantined != 1 {
		t.Fatalf("counts = (%d archived, %d quarantined), want (1, 1)", archived, quarantined)
	}
}

func TestQuarantineIdempotent(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	msg := model.IncomingMessage{
		Source: "acct1", Folder: "INBOX", UID: 9,
		Raw: []byte("infected"),
	}

	for i := 0; i < 2; i++ {
		if _, err := s.PutQuarantined(ctx, msg, "Some-Virus"); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}

	n, err := s.CountQuarantined(ctx)
	if err != nil {
		t.Fatalf("counting: %v", err)
	}
	if n != 1 {
		t.Fatalf("quarantine count = %d, want 1", n)
	}
}

func TestPurgeMessagesBefore(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	for uid := uint32(1); uid <= 3; uid++ {
		msg := model.IncomingMessage{
			Source: "acct1", Folder: "INBOX", UID: uid,
			Raw: []byte("msg"),
		}
		if _, err := s.PutMessage(ctx, msg); err != nil {
			t.Fatalf("put %d: %v", uid, err)
		}
	}

	// Cutoff in the past matches nothing; zero deletions is success.
	n, err := s.PurgeMessagesBefore(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("purge (past cutoff): %v", err)
	}
	if n != 0 {
		t.Fatalf("deleted %d with past cutoff, want 0", n)
	}

	n, err = s.PurgeMessagesBefore(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("purge (future cutoff): %v", err)
	}
	if n != 3 {
		t.Fatalf("deleted %d with future cutoff, want 3", n)
	}

	left, _ := s.CountMessages(ctx)
	if left != 0 {
		t.Fatalf("messages left = %d, want 0", left)
	}
}

func TestCursorStartsAtZero(t *testing.T) {
	s := testutil.NewTestStore(t)
	id := newAccount(t, s, "fresh")

	uid, err := s.LastUID(context.Background(), id, "INBOX")
	if err != nil {
		t.Fatalf("last uid: %v", err)
	}
	if uid != 0 {
		t.Fatalf("fresh cursor = %d, want 0", uid)
	}
}

func TestCursorNeverRegresses(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	id := newAccount(t, s, "acct1")

	if err := s.AdvanceCursor(ctx, id, "INBOX", 150); err != nil {
		t.Fatalf("advance to 150: %v", err)
	}

	// A stale write with a lower uid must not move the cursor backwards.
	if err := s.AdvanceCursor(ctx, id, "INBOX", 100); err != nil {
		t.Fatalf("advance to 100: %v", err)
	}

	uid, err := s.LastUID(ctx, id, "INBOX")
	if err != nil {
		t.Fatalf("last uid: %v", err)
	}
	if uid != 150 {
		t.Fatalf("cursor = %d after stale write, want 150", uid)
	}

	if err := s.AdvanceCursor(ctx, id, "INBOX", 200); err != nil {
		t.Fatalf("advance to 200: %v", err)
	}
	uid, _ = s.LastUID(ctx, id, "INBOX")
	if uid != 200 {
		t.Fatalf("cursor = %d, want 200", uid)
	}
}

func TestCursorPerFolder(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	id := newAccount(t, s, "acct1")

	if err := s.AdvanceCursor(ctx, id, "INBOX", 10); err != nil {
		t.Fatalf("advance INBOX: %v", err)
	}
	if err := s.AdvanceCursor(ctx, id, "Sent", 99); err != nil {
		t.Fatalf("advance Sent: %v", err)
	}

	inbox, _ := s.LastUID(ctx, id, "INBOX")
	sent, _ := s.LastUID(ctx, id, "Sent")
	if inbox != 10 || sent != 99 {
		t.Fatalf("cursors = (INBOX %d, Sent %d), want (10, 99)", inbox, sent)
	}
}

func TestAccountStatusRecording(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	id := newAccount(t, s, "acct1")

	if err := s.RecordHeartbeat(ctx, id); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if err := s.RecordError(ctx, id, strings.Repeat("x", 2*store.MaxErrorLen)); err != nil {
		t.Fatalf("record error: %v", err)
	}

	accounts, err := s.ListEnabledAccounts(ctx)
	if err != nil {
		t.Fatalf("listing: %v", err)
	}
	if len(accounts) != 1 {
		t.Fatalf("got %d accounts, want 1", len(accounts))
	}
	a := accounts[0]
	if a.LastHeartbeat == nil {
		t.Fatal("heartbeat not recorded")
	}
	if a.LastError == nil {
		t.Fatal("error not recorded")
	}
	if len(*a.LastError) != store.MaxErrorLen {
		t.Fatalf("stored error length = %d, want truncated to %d", len(*a.LastError), store.MaxErrorLen)
	}

	// A successful pass clears the sticky error.
	if err := s.RecordSuccess(ctx, id); err != nil {
		t.Fatalf("record success: %v", err)
	}
	accounts, _ = s.ListEnabledAccounts(ctx)
	a = accounts[0]
	if a.LastSuccess == nil {
		t.Fatal("success not recorded")
	}
	if a.LastError != nil {
		t.Fatalf("last_error = %q after success, want cleared", *a.LastError)
	}
}

func TestListEnabledAccountsSkipsDisabled(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	newAccount(t, s, "on")
	if _, err := s.CreateAccount(ctx, model.Account{
		Name: "off", Type: model.AccountTypeIMAP,
		Host: "mail.example.com", Port: 993,
		Enabled: false,
	}); err != nil {
		t.Fatalf("creating disabled account: %v", err)
	}

	accounts, err := s.ListEnabledAccounts(ctx)
	if err != nil {
		t.Fatalf("listing: %v", err)
	}
	if len(accounts) != 1 || accounts[0].Name != "on" {
		t.Fatalf("got %d accounts, want only the enabled one", len(accounts))
	}
}

func TestRetentionPolicyFromSettings(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	// Absent settings mean purging is off.
	p, err := s.RetentionPolicy(ctx)
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	if p.Enabled {
		t.Fatal("policy enabled with no settings")
	}

	for k, v := range map[string]string{
		store.SettingEnablePurge:    "true",
		store.SettingRetentionValue: "6",
		store.SettingRetentionUnit:  "months",
	} {
		if err := s.SetSetting(ctx, k, v); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}

	p, err = s.RetentionPolicy(ctx)
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	if !p.Enabled || p.Value != 6 || p.Unit != model.RetentionMonths {
		t.Fatalf("policy = %+v, want enabled 6 months", p)
	}
}

func TestRetentionPolicyMalformedValue(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	s.SetSetting(ctx, store.SettingEnablePurge, "true")
	s.SetSetting(ctx, store.SettingRetentionValue, "not-a-number")
	s.SetSetting(ctx, store.SettingRetentionUnit, "days")

	p, err := s.RetentionPolicy(ctx)
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	if _, ok := p.Cutoff(time.Now()); ok {
		t.Fatal("malformed retention value must yield no cutoff")
	}
}
