package replay

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestMemoryGuard(t *testing.T) {

	ctx := context.Background()

	t.Run("first use consumes the key", func(t *testing.T) {
		g := NewMemoryGuard()
		fresh, err := g.CheckAndSet(ctx, "pay-1:sig-1", time.Minute)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !fresh {
			t.Error("first use should report fresh")
		}
	})

	t.Run("second use is a replay", func(t *testing.T) {
		g := NewMemoryGuard()
		if _, err := g.CheckAndSet(ctx, "pay-1:sig-1", time.Minute); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		fresh, err := g.CheckAndSet(ctx, "pay-1:sig-1", time.Minute)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if fresh {
			t.Error("second use must report replay")
		}
	})

	t.Run("distinct keys do not collide", func(t *testing.T) {
		g := NewMemoryGuard()
		if _, err := g.CheckAndSet(ctx, "pay-1:sig-1", time.Minute); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		fresh, err := g.CheckAndSet(ctx, "pay-2:sig-2", time.Minute)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !fresh {
			t.Error("an unrelated key must be fresh")
		}
	})

	t.Run("expired marker frees the key", func(t *testing.T) {
		g := NewMemoryGuard()
		if _, err := g.CheckAndSet(ctx, "pay-1:sig-1", 10*time.Millisecond); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		time.Sleep(30 * time.Millisecond)
		fresh, err := g.CheckAndSet(ctx, "pay-1:sig-1", time.Minute)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !fresh {
			t.Error("expired marker should read as absent")
		}
	})
}

func TestBoltGuard(t *testing.T) {

	ctx := context.Background()

	newGuard := func(t *testing.T) *BoltGuard {
		t.Helper()
		g, err := NewBoltGuard(filepath.Join(t.TempDir(), "replay.db"))
		if err != nil {
			t.Fatalf("failed to open bolt guard: %v", err)
		}
		t.Cleanup(func() { g.Close() })
		return g
	}

	t.Run("first use consumes the key", func(t *testing.T) {
		g := newGuard(t)
		fresh, err := g.CheckAndSet(ctx, "pay-1:sig-1", time.Minute)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !fresh {
			t.Error("first use should report fresh")
		}
	})

	t.Run("second use is a replay", func(t *testing.T) {
		g := newGuard(t)
		if _, err := g.CheckAndSet(ctx, "pay-1:sig-1", time.Minute); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		fresh, err := g.CheckAndSet(ctx, "pay-1:sig-1", time.Minute)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if fresh {
			t.Error("second use must report replay")
		}
	})

	t.Run("marker survives reopen", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "replay.db")

		g, err := NewBoltGuard(path)
		if err != nil {
			t.Fatalf("failed to open bolt guard: %v", err)
		}
		if _, err := g.CheckAndSet(ctx, "pay-1:sig-1", time.Hour); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		g.Close()

		reopened, err := NewBoltGuard(path)
		if err != nil {
			t.Fatalf("failed to reopen bolt guard: %v", err)
		}
		defer reopened.Close()

		fresh, err := reopened.CheckAndSet(ctx, "pay-1:sig-1", time.Hour)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if fresh {
			t.Error("consumed marker must survive a reopen")
		}
	})

	t.Run("expired marker frees the key", func(t *testing.T) {
		g := newGuard(t)
		if _, err := g.CheckAndSet(ctx, "pay-1:sig-1", 10*time.Millisecond); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		time.Sleep(30 * time.Millisecond)
		fresh, err := g.CheckAndSet(ctx, "pay-1:sig-1", time.Minute)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !fresh {
			t.Error("expired marker should read as absent")
		}
	})
}
