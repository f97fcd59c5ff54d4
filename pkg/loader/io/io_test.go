package io

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/loader"
)

func TestIOGraphFileLoader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "carol.txt")
	if err := os.WriteFile(path, []byte("Marley was dead."), 0o600); err != nil {
		t.Fatal(err)
	}

	l := NewIOGraphFileLoader()
	f := loader.NewGraphFile(loader.NewGraphFileParams{ID: "carol", FilePath: path, Loader: l})

	got, err := f.GetText(t.Context())
	if err != nil || string(got) != "Marley was dead." {
		t.Fatalf("got %q, %v", got, err)
	}

	// served from the cache after the file is gone
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if got, err := f.GetText(t.Context()); err != nil || string(got) != "Marley was dead." {
		t.Fatalf("expected cached content, got %q, %v", got, err)
	}
}

func TestIOGraphFileLoaderMissingFile(t *testing.T) {
	l := NewIOGraphFileLoader()
	f := loader.NewGraphFile(loader.NewGraphFileParams{ID: "x", FilePath: filepath.Join(t.TempDir(), "missing.txt"), Loader: l})
	if _, err := f.GetText(t.Context()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected os.ErrNotExist, got %v", err)
	}
}
