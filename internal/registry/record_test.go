package registry

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestRecordRoundTrip(t *testing.T) {
	ctx := context.Background()
	rdb := newTestRedis(t)

	now := time.Now().Unix()
	rec := Record{
		ID:        "flow-1",
		Origin:    "https://dapp.example",
		Address:   "0x1111111111111111111111111111111111111111",
		State:     "idle",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := CreateRecord(ctx, rdb, rec); err != nil {
		t.Fatal(err)
	}

	got, err := GetRecord(ctx, rdb, "flow-1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("record not found after create")
	}
	if *got != rec {
		t.Errorf("round trip: got %+v, want %+v", *got, rec)
	}
}

func TestGetRecord_Missing(t *testing.T) {
	rdb := newTestRedis(t)
	got, err := GetRecord(context.Background(), rdb, "no-such-flow")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("missing record: got %+v, want nil", got)
	}
}

func TestUpdateState(t *testing.T) {
	ctx := context.Background()
	rdb := newTestRedis(t)

	rec := Record{ID: "flow-2", State: "idle", CreatedAt: 100, UpdatedAt: 100}
	if err := CreateRecord(ctx, rdb, rec); err != nil {
		t.Fatal(err)
	}
	if err := UpdateState(ctx, rdb, "flow-2", "txSuccess", "0xabc", "", 200); err != nil {
		t.Fatal(err)
	}

	got, err := GetRecord(ctx, rdb, "flow-2")
	if err != nil {
		t.Fatal(err)
	}
	if got.State != "txSuccess" || got.TxHash != "0xabc" || got.UpdatedAt != 200 {
		t.Errorf("after update: %+v", got)
	}
	if got.CreatedAt != 100 {
		t.Errorf("created_at overwritten: %d", got.CreatedAt)
	}
}

func TestScanAll(t *testing.T) {
	ctx := context.Background()
	rdb := newTestRedis(t)

	for _, id := range []string{"a", "b", "c"} {
		if err := CreateRecord(ctx, rdb, Record{ID: id, State: "idle"}); err != nil {
			t.Fatal(err)
		}
	}
	// An unrelated key must not show up.
	rdb.Set(ctx, "other:key", "1", 0) //nolint:errcheck

	records, err := ScanAll(ctx, rdb)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 {
		t.Fatalf("scan: got %d records, want 3", len(records))
	}
}

func TestSweep_RemovesExpiredTerminalFlows(t *testing.T) {
	ctx := context.Background()
	rdb := newTestRedis(t)
	log := zap.NewNop()

	old := time.Now().Add(-2 * time.Hour).Unix()
	fresh := time.Now().Unix()

	flows := []Record{
		{ID: "expired-done", State: "done", UpdatedAt: old},
		{ID: "expired-failed", State: "failed", UpdatedAt: old},
		{ID: "fresh-done", State: "done", UpdatedAt: fresh},
		{ID: "old-but-active", State: "waitingApproval", UpdatedAt: old},
	}
	for _, r := range flows {
		if err := CreateRecord(ctx, rdb, r); err != nil {
			t.Fatal(err)
		}
	}

	sweep(ctx, rdb, time.Hour, log)

	wantGone := map[string]bool{"expired-done": true, "expired-failed": true}
	records, err := ScanAll(ctx, rdb)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("after sweep: %d records remain, want 2", len(records))
	}
	for _, r := range records {
		if wantGone[r.ID] {
			t.Errorf("expired terminal flow %s survived sweep", r.ID)
		}
	}
}
