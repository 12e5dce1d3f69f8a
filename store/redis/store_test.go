package redis

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/taskrun/ledger"
	"github.com/xraph/taskrun/ledger/ledgertest"
)

func newTestStore(t *testing.T, opts ...Option) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	s := New(client, opts...)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s, mr
}

// ──────────────────────────────────────────────────
// Ledger conformance
// ──────────────────────────────────────────────────

func TestLedgerConformance(t *testing.T) {
	ledgertest.Run(t, func(t *testing.T) ledger.Store {
		s, _ := newTestStore(t)
		return s
	})
}

// ──────────────────────────────────────────────────
// Key layout
// ──────────────────────────────────────────────────

func TestKeyPrefix(t *testing.T) {
	s, mr := newTestStore(t, WithKeyPrefix("{ledger}"))
	ctx := context.Background()
	ti := ledgertest.Identity()

	if _, err := s.TryClaim(ctx, ti, ledgertest.DailyWindow(), ledgertest.Base); err != nil {
		t.Fatalf("TryClaim: %v", err)
	}
	key := "{ledger}:marker:expire-enrollments:daily:cron"
	if !mr.Exists(key) {
		t.Fatalf("expected marker key %q, have %v", key, mr.Keys())
	}
	if got := mr.HGet(key, "last_attempted_at"); got != "1768006800000" {
		t.Errorf("last_attempted_at = %q", got)
	}
}

func TestIdentityPartsCannotCollide(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	w := ledgertest.DailyWindow()

	a := ledger.TriggerIdentity{TaskName: "t", ProfileID: "a:b", ProfileType: "cron"}
	b := ledger.TriggerIdentity{TaskName: "t:a", ProfileID: "b", ProfileType: "cron"}
	for _, ti := range []ledger.TriggerIdentity{a, b} {
		res, err := s.TryClaim(ctx, ti, w, ledgertest.Base)
		if err != nil {
			t.Fatalf("TryClaim %s: %v", ti, err)
		}
		if res != ledger.Claimed {
			t.Errorf("TryClaim %s = %s, want claimed", ti, res)
		}
	}
}

func TestClaimSurvivesScriptFlush(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	if err := s.Client().ScriptFlush(ctx).Err(); err != nil {
		t.Fatalf("script flush: %v", err)
	}

	res, err := s.TryClaim(ctx, ledgertest.Identity(), ledgertest.DailyWindow(), ledgertest.Base.Add(time.Minute))
	if err != nil {
		t.Fatalf("TryClaim after flush: %v", err)
	}
	if res != ledger.Claimed {
		t.Fatalf("TryClaim = %s, want claimed", res)
	}
}
