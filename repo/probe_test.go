package repo

import (
	"os"
	"testing"
)

type fakeProber struct {
	existing map[string]bool
}

func (p fakeProber) Exists(baseURL, relPath string) (bool, error) {
	return p.existing[baseURL+"|"+relPath], nil
}

func TestProbeDetectsRpmMd(t *testing.T) {
	p := fakeProber{existing: map[string]bool{"http://a/repo|repodata/repomd.xml": true}}
	kind, err := Probe(p, "http", "", "http://a/repo")
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if kind != KindRpmMd {
		t.Fatalf("expected rpmmd, got %v", kind)
	}
}

func TestProbeDetectsYaST2(t *testing.T) {
	p := fakeProber{existing: map[string]bool{"http://a/repo|content": true}}
	kind, err := Probe(p, "http", "", "http://a/repo")
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if kind != KindYaST2 {
		t.Fatalf("expected yast2, got %v", kind)
	}
}

func TestProbeFallsBackToPlainDirOnLocalMount(t *testing.T) {
	dir := t.TempDir()
	p := fakeProber{}
	kind, err := Probe(p, "nfs", dir, "nfs://server/share")
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if kind != KindPlainDir {
		t.Fatalf("expected plaindir fallback, got %v", kind)
	}
}

func TestProbeReturnsNoneWhenNothingMatches(t *testing.T) {
	p := fakeProber{}
	kind, err := Probe(p, "http", "", "http://a/repo")
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if kind != KindNone {
		t.Fatalf("expected NONE, got %v", kind)
	}
}

func TestProbeDirSchemeShortCircuitsOnMissingPath(t *testing.T) {
	p := fakeProber{existing: map[string]bool{"dir:///missing|repodata/repomd.xml": true}}
	kind, err := Probe(p, "dir", "/does/not/exist", "dir:///missing")
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if kind != KindNone {
		t.Fatalf("expected NONE for a dir scheme whose local path is absent, got %v", kind)
	}
}

func TestLocalProberOnlyAnswersDirScheme(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(dir+"/content", []byte("x"), 0o644); err != nil {
		t.Fatalf("write content: %v", err)
	}
	p := LocalProber{Root: dir}

	ok, err := p.Exists("dir:///repo", "content")
	if err != nil || !ok {
		t.Fatalf("expected dir-scheme probe to find content, ok=%v err=%v", ok, err)
	}
	ok, err = p.Exists("http://example.com/repo", "content")
	if err != nil || ok {
		t.Fatalf("expected non-dir scheme to never match, ok=%v err=%v", ok, err)
	}
}
