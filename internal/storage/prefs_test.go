package storage

import (
	"context"
	"testing"
	"time"
)

func TestPrefs_PutGetRemove(t *testing.T) {
	ctx := context.Background()
	p := NewPrefs(newTestDB(t))

	if _, ok, err := p.Get(ctx, "ltv"); err != nil || ok {
		t.Fatalf("expected missing key, got ok=%v err=%v", ok, err)
	}

	if err := p.Put(ctx, "ltv", "3.14"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := p.Put(ctx, "ltv", "4.2"); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}

	v, ok, err := p.Get(ctx, "ltv")
	if err != nil || !ok || v != "4.2" {
		t.Fatalf("Get: v=%q ok=%v err=%v", v, ok, err)
	}

	if err := p.Remove(ctx, "ltv"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok, _ := p.Get(ctx, "ltv"); ok {
		t.Fatal("expected key to be removed")
	}

	if err := p.Remove(ctx, "never-set"); err != nil {
		t.Fatalf("Remove missing key: %v", err)
	}
}

func TestAlarmStore_UpsertPerID(t *testing.T) {
	ctx := context.Background()
	s := NewAlarmStore(newTestDB(t))

	first := time.UnixMilli(1_700_000_000_000)
	second := first.Add(time.Minute)

	if err := s.Save(ctx, 42, first, `{"v":1}`); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(ctx, 42, second, `{"v":2}`); err != nil {
		t.Fatalf("Save again: %v", err)
	}
	if err := s.Save(ctx, 7, first, `{"v":3}`); err != nil {
		t.Fatalf("Save other: %v", err)
	}

	alarms, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(alarms) != 2 {
		t.Fatalf("expected 2 alarms, got %d", len(alarms))
	}
	if alarms[0].ID != 7 {
		t.Fatalf("expected alarm 7 first, got %d", alarms[0].ID)
	}
	if alarms[1].ID != 42 || !alarms[1].FireAt.Equal(second) || alarms[1].MessageJSON != `{"v":2}` {
		t.Fatalf("unexpected alarm 42: %+v", alarms[1])
	}

	if err := s.Delete(ctx, 42); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	alarms, _ = s.List(ctx)
	if len(alarms) != 1 {
		t.Fatalf("expected 1 alarm after delete, got %d", len(alarms))
	}
}

func TestPrefs_Update(t *testing.T) {
	ctx := context.Background()
	p := NewPrefs(newTestDB(t))

	if err := p.Put(ctx, "gone", "1"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := p.Update(ctx, map[string]string{"a": "x", "b": "y"}, []string{"gone", "missing"}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	for key, want := range map[string]string{"a": "x", "b": "y"} {
		if v, ok, err := p.Get(ctx, key); err != nil || !ok || v != want {
			t.Errorf("Get(%q) = %q, %v, %v", key, v, ok, err)
		}
	}
	if _, ok, _ := p.Get(ctx, "gone"); ok {
		t.Error("removed key still present")
	}
}

func TestPrefs_UpdateCanceledAppliesNothing(t *testing.T) {
	p := NewPrefs(newTestDB(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := p.Update(ctx, map[string]string{"a": "x"}, nil); err == nil {
		t.Fatal("Update with canceled context succeeded")
	}
	if _, ok, _ := p.Get(context.Background(), "a"); ok {
		t.Error("canceled update left a partial write")
	}
}
