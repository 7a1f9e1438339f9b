package repository

import (
	"context"
	"sort"
	"testing"
	"time"
)

type storeHarness struct {
	store   TokenStore
	advance func(time.Duration)
}

// runTokenStoreContract checks the behaviour both backends must share.
func runTokenStoreContract(t *testing.T, newHarness func(t *testing.T) storeHarness) {
	ctx := context.Background()

	t.Run("fields round trip", func(t *testing.T) {
		h := newHarness(t)
		fields := map[string]string{"userId": "1", "status": "ACTIVE"}
		if err := h.store.PutFields(ctx, "refresh:a", fields); err != nil {
			t.Fatalf("put fields: %v", err)
		}
		if err := h.store.PutField(ctx, "refresh:a", "status", "ROTATED"); err != nil {
			t.Fatalf("put field: %v", err)
		}
		got, err := h.store.GetFields(ctx, "refresh:a")
		if err != nil {
			t.Fatalf("get fields: %v", err)
		}
		if got["userId"] != "1" || got["status"] != "ROTATED" || len(got) != 2 {
			t.Fatalf("unexpected fields: %+v", got)
		}
	})

	t.Run("absent key yields empty map", func(t *testing.T) {
		h := newHarness(t)
		got, err := h.store.GetFields(ctx, "refresh:missing")
		if err != nil {
			t.Fatalf("get fields: %v", err)
		}
		if got == nil || len(got) != 0 {
			t.Fatalf("expected empty non-nil map, got %#v", got)
		}
	})

	t.Run("ttl expires hash", func(t *testing.T) {
		h := newHarness(t)
		if err := h.store.PutFields(ctx, "refresh:b", map[string]string{"status": "ACTIVE"}); err != nil {
			t.Fatalf("put fields: %v", err)
		}
		if err := h.store.Expire(ctx, "refresh:b", 10*time.Second); err != nil {
			t.Fatalf("expire: %v", err)
		}
		if err := h.store.PutField(ctx, "refresh:b", "status", "REVOKED"); err != nil {
			t.Fatalf("put field: %v", err)
		}
		h.advance(9 * time.Second)
		got, _ := h.store.GetFields(ctx, "refresh:b")
		if got["status"] != "REVOKED" {
			t.Fatalf("expected key alive before ttl, got %+v", got)
		}
		h.advance(2 * time.Second)
		got, _ = h.store.GetFields(ctx, "refresh:b")
		if len(got) != 0 {
			t.Fatalf("expected key expired, got %+v", got)
		}
	})

	t.Run("expire on absent key is a no-op", func(t *testing.T) {
		h := newHarness(t)
		if err := h.store.Expire(ctx, "refresh:none", time.Minute); err != nil {
			t.Fatalf("expire: %v", err)
		}
		got, _ := h.store.GetFields(ctx, "refresh:none")
		if len(got) != 0 {
			t.Fatalf("expire must not create keys, got %+v", got)
		}
	})

	t.Run("sets dedupe and expire", func(t *testing.T) {
		h := newHarness(t)
		for _, m := range []string{"h1", "h2", "h1"} {
			if err := h.store.AddToSet(ctx, "user:1:refresh", m); err != nil {
				t.Fatalf("add to set: %v", err)
			}
		}
		members, err := h.store.SetMembers(ctx, "user:1:refresh")
		if err != nil {
			t.Fatalf("set members: %v", err)
		}
		sort.Strings(members)
		if len(members) != 2 || members[0] != "h1" || members[1] != "h2" {
			t.Fatalf("unexpected members: %v", members)
		}
		if err := h.store.Expire(ctx, "user:1:refresh", 5*time.Second); err != nil {
			t.Fatalf("expire: %v", err)
		}
		h.advance(6 * time.Second)
		members, _ = h.store.SetMembers(ctx, "user:1:refresh")
		if len(members) != 0 {
			t.Fatalf("expected expired set, got %v", members)
		}
	})

	t.Run("delete removes hash and set", func(t *testing.T) {
		h := newHarness(t)
		_ = h.store.PutFields(ctx, "refresh:c", map[string]string{"status": "ACTIVE"})
		_ = h.store.AddToSet(ctx, "family:f:refresh", "c")
		if err := h.store.Delete(ctx, "refresh:c"); err != nil {
			t.Fatalf("delete hash: %v", err)
		}
		if err := h.store.Delete(ctx, "family:f:refresh"); err != nil {
			t.Fatalf("delete set: %v", err)
		}
		if got, _ := h.store.GetFields(ctx, "refresh:c"); len(got) != 0 {
			t.Fatalf("expected deleted hash, got %+v", got)
		}
		if members, _ := h.store.SetMembers(ctx, "family:f:refresh"); len(members) != 0 {
			t.Fatalf("expected deleted set, got %v", members)
		}
	})

	t.Run("compare and set", func(t *testing.T) {
		h := newHarness(t)
		_ = h.store.PutFields(ctx, "refresh:d", map[string]string{"status": "ACTIVE"})
		ok, err := h.store.CompareAndSetField(ctx, "refresh:d", "status", "ACTIVE", "ROTATED")
		if err != nil || !ok {
			t.Fatalf("expected first swap to win, ok=%v err=%v", ok, err)
		}
		ok, err = h.store.CompareAndSetField(ctx, "refresh:d", "status", "ACTIVE", "ROTATED")
		if err != nil || ok {
			t.Fatalf("expected second swap to lose, ok=%v err=%v", ok, err)
		}
		ok, err = h.store.CompareAndSetField(ctx, "refresh:nope", "status", "ACTIVE", "ROTATED")
		if err != nil || ok {
			t.Fatalf("expected swap on absent key to lose, ok=%v err=%v", ok, err)
		}
		if got, _ := h.store.GetFields(ctx, "refresh:nope"); len(got) != 0 {
			t.Fatalf("swap must not create keys, got %+v", got)
		}
	})
}
