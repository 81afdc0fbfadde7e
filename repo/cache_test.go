package repo

import (
	"os"
	"testing"
	"time"

	"github.com/openSUSE/libzypp-sub001/cmn"
)

func TestBuildCacheSkipsRebuildWhenCookieMatchesRawDigest(t *testing.T) {
	dir := t.TempDir()
	layout := newLayoutForTest(dir)
	alias := "factory"
	mkCacheDirs(t, layout, alias)

	if err := os.WriteFile(layout.RawCacheDir(alias)+"/repomd.xml", []byte("<repomd/>"), 0o644); err != nil {
		t.Fatalf("seed raw cache: %v", err)
	}
	digest, err := hashRawCache(layout, alias)
	if err != nil {
		t.Fatalf("hashRawCache: %v", err)
	}
	if err := writeCookie(layout, alias, cmn.RepoStatus{Fingerprint: digest, Mtime: time.Now()}); err != nil {
		t.Fatalf("writeCookie: %v", err)
	}
	if err := os.WriteFile(layout.SolvFile(alias), []byte("solv-placeholder"), 0o644); err != nil {
		t.Fatalf("seed solv file: %v", err)
	}

	calls := 0
	ri := &RepoInfo{Alias: alias, BaseURLs: []string{"http://example.com/factory"}}
	err = BuildCache(layout, ri, BuildIfNeeded, func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("BuildCache: %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected no refresh call when raw digest already matches the cookie")
	}
	if !fileExists(layout.SolvIndexFile(alias)) {
		t.Fatalf("expected solv.idx to be (re)generated for the unchanged cache")
	}
}

func TestBuildCacheCallsRefreshWhenNoCookieExists(t *testing.T) {
	dir := t.TempDir()
	layout := newLayoutForTest(dir)
	alias := "factory"
	mkCacheDirs(t, layout, alias)

	calls := 0
	ri := &RepoInfo{Alias: alias, BaseURLs: []string{"http://example.com/factory"}}
	err := BuildCache(layout, ri, BuildIfNeeded, func() error {
		calls++
		// simulate the refresh populating the raw cache and its cookie
		if err := os.WriteFile(layout.RawCacheDir(alias)+"/repomd.xml", []byte("<repomd/>"), 0o644); err != nil {
			return err
		}
		digest, err := hashRawCache(layout, alias)
		if err != nil {
			return err
		}
		return writeCookie(layout, alias, cmn.RepoStatus{Fingerprint: digest, Mtime: time.Now()})
	})
	// runRepo2Solv will fail since no real repo2solv binary exists in the test
	// environment; the interesting assertion is that refresh was invoked
	// exactly once before that external step was attempted.
	if calls != 1 {
		t.Fatalf("expected exactly one refresh call, got %d (err=%v)", calls, err)
	}
}

func TestBuildCacheReturnsErrorWithNoRefreshHookAndNoCookie(t *testing.T) {
	dir := t.TempDir()
	layout := newLayoutForTest(dir)
	alias := "factory"
	mkCacheDirs(t, layout, alias)

	ri := &RepoInfo{Alias: alias, BaseURLs: []string{"http://example.com/factory"}}
	if err := BuildCache(layout, ri, BuildIfNeeded, nil); err == nil {
		t.Fatalf("expected an error when the cache is empty and no refresh hook is supplied")
	}
}

func TestEnsureSolvIndexIsNoopWhenIndexAlreadyExists(t *testing.T) {
	dir := t.TempDir()
	layout := newLayoutForTest(dir)
	alias := "factory"
	mkCacheDirs(t, layout, alias)

	if err := os.WriteFile(layout.SolvIndexFile(alias), []byte("stale-index\n"), 0o644); err != nil {
		t.Fatalf("seed solv.idx: %v", err)
	}
	if err := ensureSolvIndex(layout, alias); err != nil {
		t.Fatalf("ensureSolvIndex: %v", err)
	}
	got, err := os.ReadFile(layout.SolvIndexFile(alias))
	if err != nil {
		t.Fatalf("read solv.idx: %v", err)
	}
	if string(got) != "stale-index\n" {
		t.Fatalf("expected ensureSolvIndex to leave an existing index untouched, got %q", got)
	}
}

func TestRegenerateSolvIndexHashesSolvFile(t *testing.T) {
	dir := t.TempDir()
	layout := newLayoutForTest(dir)
	alias := "factory"
	mkCacheDirs(t, layout, alias)

	if err := os.WriteFile(layout.SolvFile(alias), []byte("some solv bytes"), 0o644); err != nil {
		t.Fatalf("seed solv file: %v", err)
	}
	if err := regenerateSolvIndex(layout, alias); err != nil {
		t.Fatalf("regenerateSolvIndex: %v", err)
	}
	if !fileExists(layout.SolvIndexFile(alias)) {
		t.Fatalf("expected solv.idx to be created")
	}
}
