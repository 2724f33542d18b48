package objectstore

import (
	"bytes"
	"context"
	"io"
	"testing"
)

func TestLocal_PutGetRoundTrip(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	ctx := context.Background()
	key := "sessions/user-1/sess-1/input.xml"

	if err := l.PutObject(ctx, key, bytes.NewReader([]byte("hello"))); err != nil {
		t.Fatalf("PutObject: %v", err)
	}

	rc, err := l.GetObject(ctx, key)
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("got %q, want %q", got, "hello")
	}

	size, err := l.StatObject(ctx, key)
	if err != nil {
		t.Fatalf("StatObject: %v", err)
	}
	if size != 5 {
		t.Errorf("size = %d, want 5", size)
	}
}

func TestLocal_GetObject_NotFound(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	if _, err := l.GetObject(context.Background(), "missing"); err != ErrNotFound {
		t.Errorf("GetObject: got %v, want ErrNotFound", err)
	}
}

func TestLocal_DeleteAll(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	ctx := context.Background()
	if err := l.PutObject(ctx, "sessions/u1/s1/input.xml", bytes.NewReader([]byte("x"))); err != nil {
		t.Fatalf("PutObject: %v", err)
	}
	if err := l.DeleteAll(ctx, "sessions/u1/s1"); err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}
	if _, err := l.GetObject(ctx, "sessions/u1/s1/input.xml"); err != ErrNotFound {
		t.Errorf("GetObject after DeleteAll: got %v, want ErrNotFound", err)
	}
}

func TestLocal_PathTraversalRejected(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	if err := l.PutObject(context.Background(), "../escape", bytes.NewReader(nil)); err == nil {
		t.Error("expected error for path traversal key")
	}
}
