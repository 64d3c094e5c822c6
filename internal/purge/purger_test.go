package purge

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/daygle/mail-archiver/internal/model"
	"github.com/daygle/mail-archiver/internal/store"
	"github.com/daygle/mail-archiver/tests/testutil"
)

func storeMessages(t *testing.T, s store.Store, n int) {
	t.Helper()
	for uid := uint32(1); uid <= uint32(n); uid++ {
		msg := model.IncomingMessage{
			Source: "acct1", Folder: "INBOX", UID: uid,
			Raw: []byte("message body"),
		}
		if _, err := s.PutMessage(context.Background(), msg); err != nil {
			t.Fatalf("storing message %d: %v", uid, err)
		}
	}
}

func enableRetention(t *testing.T, s store.Store, value, unit string) {
	t.Helper()
	ctx := context.Background()
	for k, v := range map[string]string{
		store.SettingEnablePurge:    "true",
		store.SettingRetentionValue: value,
		store.SettingRetentionUnit:  unit,
	} {
		if err := s.SetSetting(ctx, k, v); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}
}

func TestRunOnceDisabledPolicyIsNoOp(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	storeMessages(t, s, 2)

	p := New(s, zap.NewNop())
	deleted, err := p.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if deleted != 0 {
		t.Fatalf("deleted = %d with purging disabled", deleted)
	}

	// A run that never evaluated a cutoff leaves no purge timestamp.
	stamp, _ := s.GetSetting(ctx, store.SettingLastPurge)
	if stamp != "" {
		t.Fatalf("last_purge = %q, want unset", stamp)
	}

	n, _ := s.CountMessages(ctx)
	if n != 2 {
		t.Fatalf("message count = %d, want 2", n)
	}
}

func TestRunOnceDeletesExpiredMessages(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	storeMessages(t, s, 3)
	enableRetention(t, s, "30", "days")

	p := New(s, zap.NewNop())
	// Run as if 31 days have passed since the messages were stored.
	p.now = func() time.Time { return time.Now().AddDate(0, 0, 31) }

	deleted, err := p.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if deleted != 3 {
		t.Fatalf("deleted = %d, want 3", deleted)
	}

	n, _ := s.CountMessages(ctx)
	if n != 0 {
		t.Fatalf("message count = %d after purge, want 0", n)
	}
}

func TestRunOnceRetainsRecentAndStamps(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	storeMessages(t, s, 2)
	enableRetention(t, s, "30", "days")

	p := New(s, zap.NewNop())
	// Only 29 days have passed; nothing has expired yet.
	p.now = func() time.Time { return time.Now().AddDate(0, 0, 29) }

	deleted, err := p.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if deleted != 0 {
		t.Fatalf("deleted = %d, want 0", deleted)
	}

	n, _ := s.CountMessages(ctx)
	if n != 2 {
		t.Fatalf("message count = %d, want 2", n)
	}

	// Zero matches is still a completed run.
	stamp, _ := s.GetSetting(ctx, store.SettingLastPurge)
	if stamp == "" {
		t.Fatal("last_purge not recorded on a zero-match run")
	}
	if _, err := time.Parse(time.RFC3339, stamp); err != nil {
		t.Fatalf("last_purge = %q, not RFC3339", stamp)
	}
}
