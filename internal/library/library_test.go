package library

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/cjeanneret/LensGo/internal/hw/camera"
)

func openTestLibrary(t *testing.T, authorized func() bool) *Library {
	t.Helper()
	l, err := Open(t.TempDir(), authorized)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestStore_WritesPayloadAndIndex(t *testing.T) {
	l := openTestLibrary(t, nil)

	raw := []byte("sensor-bytes")
	if err := l.Store(context.Background(), "cap-1", raw); err != nil {
		t.Fatalf("Store: %v", err)
	}

	photos, err := l.Photos(context.Background())
	if err != nil {
		t.Fatalf("Photos: %v", err)
	}
	if len(photos) != 1 {
		t.Fatalf("indexed photos = %d, want 1", len(photos))
	}
	p := photos[0]
	if p.ID != "cap-1" || p.Bytes != int64(len(raw)) {
		t.Errorf("photo = %+v, want id cap-1 with %d bytes", p, len(raw))
	}

	data, err := os.ReadFile(p.Path)
	if err != nil {
		t.Fatalf("read payload: %v", err)
	}
	if string(data) != "sensor-bytes" {
		t.Errorf("payload = %q, want bytes stored verbatim", data)
	}
}

func TestStore_UnauthorizedWriteRefused(t *testing.T) {
	l := openTestLibrary(t, func() bool { return false })

	err := l.Store(context.Background(), "cap-1", []byte("x"))
	if !errors.Is(err, camera.ErrPersistFailed) {
		t.Fatalf("error = %v, want ErrPersistFailed", err)
	}
	photos, _ := l.Photos(context.Background())
	if len(photos) != 0 {
		t.Errorf("nothing should be indexed, got %v", photos)
	}
}

func TestStore_DuplicateIdFailsButKeepsFirst(t *testing.T) {
	l := openTestLibrary(t, nil)
	ctx := context.Background()

	if err := l.Store(ctx, "cap-1", []byte("first")); err != nil {
		t.Fatalf("first Store: %v", err)
	}
	if err := l.Store(ctx, "cap-1", []byte("second")); !errors.Is(err, camera.ErrPersistFailed) {
		t.Fatalf("duplicate Store error = %v, want ErrPersistFailed", err)
	}

	photos, _ := l.Photos(ctx)
	if len(photos) != 1 {
		t.Errorf("indexed photos = %d, want 1", len(photos))
	}
}

func TestStore_EmptyIdRejected(t *testing.T) {
	l := openTestLibrary(t, nil)
	if err := l.Store(context.Background(), "", []byte("x")); !errors.Is(err, camera.ErrPersistFailed) {
		t.Errorf("error = %v, want ErrPersistFailed", err)
	}
}

func TestPhotos_NewestFirst(t *testing.T) {
	l := openTestLibrary(t, nil)
	ctx := context.Background()

	l.Store(ctx, "older", []byte("a"))
	l.Store(ctx, "newer", []byte("b"))

	photos, err := l.Photos(ctx)
	if err != nil {
		t.Fatalf("Photos: %v", err)
	}
	if len(photos) != 2 {
		t.Fatalf("photos = %d, want 2", len(photos))
	}
	if photos[0].CreatedAt.Before(photos[1].CreatedAt) {
		t.Error("photos should be ordered newest first")
	}
}
