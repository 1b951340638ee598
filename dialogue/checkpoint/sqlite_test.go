package checkpoint

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestSQLiteCheckpointer(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "checkpoints.db")

	s, err := NewSQLite(ctx, path)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	defer s.Close()

	t.Run("load missing returns ErrNotFound", func(t *testing.T) {
		_, err := s.Load(ctx, "nobody")
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("save load delete cycle", func(t *testing.T) {
		if err := s.Save(ctx, "alice", []byte(`{"turn":1}`)); err != nil {
			t.Fatalf("Save: %v", err)
		}
		if err := s.Save(ctx, "alice", []byte(`{"turn":2}`)); err != nil {
			t.Fatalf("upsert: %v", err)
		}

		got, err := s.Load(ctx, "alice")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if string(got) != `{"turn":2}` {
			t.Errorf("got %s", got)
		}

		if err := s.Delete(ctx, "alice"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, err := s.Load(ctx, "alice"); !errors.Is(err, ErrNotFound) {
			t.Errorf("err after delete = %v, want ErrNotFound", err)
		}
	})

	t.Run("keys are independent", func(t *testing.T) {
		if err := s.Save(ctx, "bob", []byte("b")); err != nil {
			t.Fatalf("Save: %v", err)
		}
		if err := s.Save(ctx, "carol", []byte("c")); err != nil {
			t.Fatalf("Save: %v", err)
		}
		got, err := s.Load(ctx, "bob")
		if err != nil || string(got) != "b" {
			t.Errorf("bob = %s, %v", got, err)
		}
	})

	t.Run("empty path is rejected", func(t *testing.T) {
		if _, err := NewSQLite(ctx, ""); err == nil {
			t.Error("expected error for empty path")
		}
	})
}

func TestNewFactory(t *testing.T) {
	ctx := context.Background()

	t.Run("default backend is memory", func(t *testing.T) {
		cp, err := New(ctx, "", "")
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if _, ok := cp.(*Memory); !ok {
			t.Errorf("backend = %T, want *Memory", cp)
		}
	})

	t.Run("unknown backend errors", func(t *testing.T) {
		if _, err := New(ctx, "floppy", ""); err == nil {
			t.Error("expected error for unknown backend")
		}
	})
}
