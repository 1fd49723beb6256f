package blob

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalStore(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(filepath.Join(t.TempDir(), "blobs"))
	if err != nil {
		t.Fatalf("NewLocalStore() error = %v", err)
	}

	key := DocumentKey("abc")
	data := []byte("%PDF-1.4 test")
	if err := s.Put(ctx, key, data); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Get() = %q, want %q", got, data)
	}

	if err := s.Put(ctx, key, []byte("other")); !errors.Is(err, ErrExists) {
		t.Errorf("second Put() error = %v, want ErrExists", err)
	}
	got, _ = s.Get(ctx, key)
	if !bytes.Equal(got, data) {
		t.Errorf("object mutated by second Put: %q", got)
	}

	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, key); err != nil {
		t.Errorf("Delete() of missing key error = %v", err)
	}
}

func TestLocalStoreNoTempFilesLeft(t *testing.T) {
	root := t.TempDir()
	s, _ := NewLocalStore(root)
	if err := s.Put(context.Background(), "a/b.pdf", []byte("x")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	entries, err := os.ReadDir(filepath.Join(root, "a"))
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "b.pdf" {
		t.Errorf("entries = %v, want only b.pdf", entries)
	}
}

func TestCleanKey(t *testing.T) {
	tests := []struct {
		key     string
		want    string
		wantErr bool
	}{
		{"documents/a.pdf", "documents/a.pdf", false},
		{"/documents/a.pdf", "documents/a.pdf", false},
		{"", "", true},
		{"../etc/passwd", "", true},
		{"documents/../../x", "", true},
		{"documents//a.pdf", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := cleanKey(tt.key)
			if (err != nil) != tt.wantErr {
				t.Fatalf("cleanKey(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("cleanKey(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}
