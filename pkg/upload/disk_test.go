package upload

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T, maxSize int64) *DiskStore {
	t.Helper()
	store, err := NewDiskStore(t.TempDir(), maxSize)
	if err != nil {
		t.Fatalf("NewDiskStore: %v", err)
	}
	return store
}

func TestDiskStoreSaveAndClaim(t *testing.T) {
	store := newTestStore(t, 0)

	id, err := store.Save("report.pdf", "application/pdf", 5, strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty id")
	}

	f, err := store.Claim(id)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if f.Filename != "report.pdf" {
		t.Errorf("Filename = %q, want report.pdf", f.Filename)
	}
	if f.ContentType != "application/pdf" {
		t.Errorf("ContentType = %q, want application/pdf", f.ContentType)
	}
	if f.Size != 5 {
		t.Errorf("Size = %d, want 5", f.Size)
	}

	data, err := io.ReadAll(f.Reader)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("content = %q, want hello", data)
	}

	// Closing the claimed file removes the data.
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(f.Path); !os.IsNotExist(err) {
		t.Errorf("data should be gone after Close, stat err = %v", err)
	}
	if _, err := store.Claim(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Claim = %v, want ErrNotFound", err)
	}
}

func TestDiskStoreClaimUnknown(t *testing.T) {
	store := newTestStore(t, 0)
	if _, err := store.Claim("no-such-id"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Claim = %v, want ErrNotFound", err)
	}
}

func TestDiskStoreSizeLimit(t *testing.T) {
	store := newTestStore(t, 4)

	// Declared size over the limit is rejected up front.
	if _, err := store.Save("big.bin", "application/octet-stream", 100, strings.NewReader("x")); !errors.Is(err, ErrTooLarge) {
		t.Errorf("Save declared-too-large = %v, want ErrTooLarge", err)
	}

	// An understated declared size is caught while streaming.
	if _, err := store.Save("sneaky.bin", "application/octet-stream", 2, strings.NewReader("toolong")); !errors.Is(err, ErrTooLarge) {
		t.Errorf("Save overflow = %v, want ErrTooLarge", err)
	}

	if _, err := store.Save("ok.bin", "application/octet-stream", 4, strings.NewReader("1234")); err != nil {
		t.Errorf("Save at limit = %v, want nil", err)
	}
}

func TestDiskStoreSaveFilePromotion(t *testing.T) {
	store := newTestStore(t, 0)

	// Simulate a request-scoped upload on disk.
	tempUpload := filepath.Join(t.TempDir(), "avatar.png")
	if err := os.WriteFile(tempUpload, []byte("png-bytes"), 0o600); err != nil {
		t.Fatal(err)
	}

	id, err := store.SaveFile("avatar.png", "image/png", tempUpload)
	if err != nil {
		t.Fatalf("SaveFile: %v", err)
	}

	// The promoted copy survives deletion of the original.
	os.Remove(tempUpload)

	f, err := store.Claim(id)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f.Reader)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Errorf("content = %q, want png-bytes", data)
	}
}

func TestDiskStoreMetadataSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDiskStore(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	id, err := store.Save("doc.txt", "text/plain", 3, strings.NewReader("abc"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	// A fresh store over the same directory finds the file via its sidecar.
	reopened, err := NewDiskStore(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	f, err := reopened.Claim(id)
	if err != nil {
		t.Fatalf("Claim after reopen: %v", err)
	}
	defer f.Close()
	if f.Filename != "doc.txt" {
		t.Errorf("Filename = %q, want doc.txt", f.Filename)
	}
}

func TestDiskStoreCleanup(t *testing.T) {
	store := newTestStore(t, 0)

	oldID, err := store.Save("old.txt", "text/plain", 3, strings.NewReader("old"))
	if err != nil {
		t.Fatal(err)
	}

	// Age the entry both in memory and on disk.
	store.mu.Lock()
	store.files[oldID].CreatedAt = time.Now().Add(-2 * time.Hour)
	store.mu.Unlock()
	past := time.Now().Add(-2 * time.Hour)
	os.Chtimes(filepath.Join(store.dir, oldID), past, past)
	os.Chtimes(store.metaPath(oldID), past, past)

	freshID, err := store.Save("fresh.txt", "text/plain", 5, strings.NewReader("fresh"))
	if err != nil {
		t.Fatal(err)
	}

	if err := store.Cleanup(time.Hour); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	if _, err := store.Claim(oldID); !errors.Is(err, ErrNotFound) {
		t.Errorf("old file should be cleaned up, Claim = %v", err)
	}
	f, err := store.Claim(freshID)
	if err != nil {
		t.Fatalf("fresh file should survive, Claim = %v", err)
	}
	f.Close()
}
