package cmn

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAnonymousUniqueIdCreatesAndPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "var", "lib", "zypp", "AnonymousUniqueId")

	first, err := AnonymousUniqueId(path)
	if err != nil {
		t.Fatalf("AnonymousUniqueId: %v", err)
	}
	if first == "" {
		t.Fatalf("expected a non-empty id")
	}

	second, err := AnonymousUniqueId(path)
	if err != nil {
		t.Fatalf("AnonymousUniqueId (second call): %v", err)
	}
	if second != first {
		t.Fatalf("expected the id to persist across calls, got %q then %q", first, second)
	}
}

func TestAnonymousUniqueIdIgnoresBlankExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "AnonymousUniqueId")
	if err := os.WriteFile(path, []byte("   \n"), 0o644); err != nil {
		t.Fatalf("seed blank file: %v", err)
	}

	id, err := AnonymousUniqueId(path)
	if err != nil {
		t.Fatalf("AnonymousUniqueId: %v", err)
	}
	if id == "" {
		t.Fatalf("expected a freshly generated id to replace the blank file")
	}
}
