package repo

import (
	"os"
	"testing"

	"github.com/openSUSE/libzypp-sub001/fs"
)

func newTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	dir, err := os.MkdirTemp("", "zypp-registry-")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	layout := fs.NewLayout(dir)
	if err := os.MkdirAll(layout.ReposDir(), 0o755); err != nil {
		t.Fatalf("MkdirAll repos.d: %v", err)
	}
	if err := os.MkdirAll(layout.ServicesDir(), 0o755); err != nil {
		t.Fatalf("MkdirAll services.d: %v", err)
	}
	reg, err := NewRegistry(layout)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg, dir
}

func TestAddRejectsDuplicateAlias(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ri := &RepoInfo{Alias: "factory", BaseURLs: []string{"http://example.com/factory"}}
	if _, err := reg.Add(ri); err != nil {
		t.Fatalf("first Add: %v", err)
	}
	if _, err := reg.Add(ri); err == nil {
		t.Fatalf("expected duplicate alias to be rejected")
	}
}

func TestAddAssignsCachePaths(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ri := &RepoInfo{Alias: "factory", BaseURLs: []string{"http://example.com/factory"}}
	got, err := reg.Add(ri)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if got.MetadataPath == "" || got.PackagesPath == "" || got.FilePath == "" {
		t.Fatalf("expected cache paths to be assigned, got %+v", got)
	}
	if !fileExists(got.FilePath) {
		t.Fatalf("expected repo file to exist at %s", got.FilePath)
	}
}

func TestRoundTripPreservesFields(t *testing.T) {
	reg, dir := newTestRegistry(t)
	ri := &RepoInfo{
		Alias:        "factory",
		Name:         "openSUSE Factory",
		Enabled:      true,
		Autorefresh:  true,
		BaseURLs:     []string{"http://a/repo", "http://b/repo"},
		Path:         "/",
		Type:         KindRpmMd,
		Priority:     42,
		KeepPackages: true,
		GpgCheck:     TristateOn,
	}
	if _, err := reg.Add(ri); err != nil {
		t.Fatalf("Add: %v", err)
	}

	layout := fs.NewLayout(dir)
	reloaded, err := NewRegistry(layout)
	if err != nil {
		t.Fatalf("reload registry: %v", err)
	}
	got, ok := reloaded.Get("factory")
	if !ok {
		t.Fatalf("expected reloaded registry to contain 'factory'")
	}
	if got.Name != ri.Name || got.Priority != ri.Priority || len(got.BaseURLs) != 2 {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
	if got.BaseURLs[0] != "http://a/repo" || got.BaseURLs[1] != "http://b/repo" {
		t.Fatalf("baseurl order not preserved: %v", got.BaseURLs)
	}
	if got.GpgCheck != TristateOn {
		t.Fatalf("expected gpgcheck=on to round-trip, got %v", got.GpgCheck)
	}
}

func TestRemoveDeletesSectionAndCaches(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ri := &RepoInfo{Alias: "factory", BaseURLs: []string{"http://a/repo"}}
	added, err := reg.Add(ri)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	os.MkdirAll(added.MetadataPath, 0o755)

	if err := reg.Remove("factory"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok := reg.Get("factory"); ok {
		t.Fatalf("expected alias to be gone after Remove")
	}
	if fileExists(added.MetadataPath) {
		t.Fatalf("expected raw cache dir to be removed")
	}
}

func TestModifyRenamesAliasAndChecksUniqueness(t *testing.T) {
	reg, _ := newTestRegistry(t)
	if _, err := reg.Add(&RepoInfo{Alias: "a", BaseURLs: []string{"http://a/repo"}}); err != nil {
		t.Fatalf("Add a: %v", err)
	}
	if _, err := reg.Add(&RepoInfo{Alias: "b", BaseURLs: []string{"http://b/repo"}}); err != nil {
		t.Fatalf("Add b: %v", err)
	}

	if _, err := reg.Modify("a", &RepoInfo{Alias: "b", BaseURLs: []string{"http://a/repo"}}); err == nil {
		t.Fatalf("expected rename colliding with existing alias to fail")
	}

	got, err := reg.Modify("a", &RepoInfo{Alias: "c", BaseURLs: []string{"http://a/repo"}})
	if err != nil {
		t.Fatalf("Modify: %v", err)
	}
	if got.Alias != "c" {
		t.Fatalf("expected renamed alias 'c', got %q", got.Alias)
	}
	if _, ok := reg.Get("a"); ok {
		t.Fatalf("expected old alias 'a' to be gone")
	}
}

func TestGenerateNonExistingNameAppendsSuffix(t *testing.T) {
	dir, err := os.MkdirTemp("", "zypp-gen-")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer os.RemoveAll(dir)

	first := GenerateNonExistingName(dir, "factory")
	os.WriteFile(first, []byte{}, 0o644)
	second := GenerateNonExistingName(dir, "factory")
	if first == second {
		t.Fatalf("expected a distinct name once %q exists", first)
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
