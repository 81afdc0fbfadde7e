package repo

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/openSUSE/libzypp-sub001/cmn"
	"github.com/openSUSE/libzypp-sub001/fs"
)

func newLayoutForTest(root string) *fs.Layout { return fs.NewLayout(root) }

func mkCacheDirs(t *testing.T, layout *fs.Layout, alias string) {
	t.Helper()
	if err := os.MkdirAll(layout.RawCacheDir(alias), 0o755); err != nil {
		t.Fatalf("MkdirAll raw cache: %v", err)
	}
	if err := os.MkdirAll(layout.SolvCacheDir(alias), 0o755); err != nil {
		t.Fatalf("MkdirAll solv cache: %v", err)
	}
}

func sameStatus() (cmn.RepoStatus, error) {
	return cmn.RepoStatus{Fingerprint: "same", Mtime: time.Now()}, nil
}

func changedStatus() (cmn.RepoStatus, error) {
	return cmn.RepoStatus{Fingerprint: "changed", Mtime: time.Now()}, nil
}

func TestCheckIfToRefreshNeededWhenNoCookie(t *testing.T) {
	rc := &RefreshContext{Repo: &RepoInfo{Alias: "x"}, Policy: IfNeeded, Default: time.Hour}
	result, err := checkIfToRefresh(rc, "http://a/repo", cmn.RepoStatus{}, sameStatus)
	if err != nil {
		t.Fatalf("checkIfToRefresh: %v", err)
	}
	if result != ResultNeeded {
		t.Fatalf("expected ResultNeeded with no cookie, got %v", result)
	}
}

func TestCheckIfToRefreshForcedAlwaysNeeded(t *testing.T) {
	rc := &RefreshContext{Repo: &RepoInfo{Alias: "x"}, Policy: Forced, Default: time.Hour}
	old := cmn.RepoStatus{Fingerprint: "same", Mtime: time.Now()}
	result, err := checkIfToRefresh(rc, "http://a/repo", old, sameStatus)
	if err != nil {
		t.Fatalf("checkIfToRefresh: %v", err)
	}
	if result != ResultNeeded {
		t.Fatalf("expected ResultNeeded under Forced policy, got %v", result)
	}
}

func TestCheckIfToRefreshVolatileMountIsAlwaysUpToDate(t *testing.T) {
	rc := &RefreshContext{Repo: &RepoInfo{Alias: "x"}, Policy: IfNeeded, Default: time.Hour}
	old := cmn.RepoStatus{Fingerprint: "same", Mtime: time.Now().Add(-2 * time.Hour)}
	result, err := checkIfToRefresh(rc, "dvd://drive0/", old, func() (cmn.RepoStatus, error) {
		return cmn.RepoStatus{}, errors.New("should not be called for a dvd mount")
	})
	if err != nil {
		t.Fatalf("checkIfToRefresh: %v", err)
	}
	if result != ResultUpToDate {
		t.Fatalf("expected ResultUpToDate for a dvd mount, got %v", result)
	}
}

func TestCheckIfToRefreshDirSchemeIgnoresDelay(t *testing.T) {
	rc := &RefreshContext{Repo: &RepoInfo{Alias: "x"}, Policy: IfNeeded, Default: time.Hour}
	old := cmn.RepoStatus{Fingerprint: "same", Mtime: time.Now()}
	result, err := checkIfToRefresh(rc, "dir:///mnt/repo", old, sameStatus)
	if err != nil {
		t.Fatalf("checkIfToRefresh: %v", err)
	}
	if result != ResultUpToDate {
		t.Fatalf("expected dir scheme to compare remote status immediately and find it unchanged, got %v", result)
	}
}

func TestCheckIfToRefreshDelayedWhenRecentlyChecked(t *testing.T) {
	rc := &RefreshContext{Repo: &RepoInfo{Alias: "x"}, Policy: IfNeeded, Default: time.Hour, Now: time.Now()}
	old := cmn.RepoStatus{Fingerprint: "same", Mtime: rc.Now.Add(-time.Minute)}
	result, err := checkIfToRefresh(rc, "http://a/repo", old, func() (cmn.RepoStatus, error) {
		return cmn.RepoStatus{}, errors.New("should not be called before the delay elapses")
	})
	if err != nil {
		t.Fatalf("checkIfToRefresh: %v", err)
	}
	if result != ResultCheckDelayed {
		t.Fatalf("expected ResultCheckDelayed within repo.refresh.delay, got %v", result)
	}
}

func TestCheckIfToRefreshIgnoreDelayComparesRemote(t *testing.T) {
	rc := &RefreshContext{Repo: &RepoInfo{Alias: "x"}, Policy: IfNeededIgnoreDelay, Default: time.Hour, Now: time.Now()}
	old := cmn.RepoStatus{Fingerprint: "same", Mtime: rc.Now.Add(-time.Second)}

	result, err := checkIfToRefresh(rc, "http://a/repo", old, sameStatus)
	if err != nil {
		t.Fatalf("checkIfToRefresh: %v", err)
	}
	if result != ResultUpToDate {
		t.Fatalf("expected ResultUpToDate when remote status matches, got %v", result)
	}

	result, err = checkIfToRefresh(rc, "http://a/repo", old, changedStatus)
	if err != nil {
		t.Fatalf("checkIfToRefresh: %v", err)
	}
	if result != ResultNeeded {
		t.Fatalf("expected ResultNeeded when remote status differs, got %v", result)
	}
}

func TestCookieRoundTrip(t *testing.T) {
	dir := t.TempDir()
	layout := newLayoutForTest(dir)
	mkCacheDirs(t, layout, "factory")

	st := cmn.RepoStatus{Fingerprint: "abc123", Mtime: time.Unix(1700000000, 0)}
	if err := writeCookie(layout, "factory", st); err != nil {
		t.Fatalf("writeCookie: %v", err)
	}
	got := metadataStatus(layout, "factory")
	if !got.Equal(st) || !got.Mtime.Equal(st.Mtime) {
		t.Fatalf("cookie round-trip mismatch: got %+v want %+v", got, st)
	}
}

func TestMetadataStatusEmptyWhenCookieMissing(t *testing.T) {
	dir := t.TempDir()
	layout := newLayoutForTest(dir)
	mkCacheDirs(t, layout, "factory")

	got := metadataStatus(layout, "factory")
	if !got.Empty() {
		t.Fatalf("expected empty status for a repo with no cookie, got %+v", got)
	}
}
