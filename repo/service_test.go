package repo

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/openSUSE/libzypp-sub001/cmn"
)

// writeFakePlugin writes an executable shell script standing in for a
// service plugin binary, so refreshServicePlugin's exec.Command path can be
// exercised without a real compiled helper.
func writeFakePlugin(t *testing.T, dir, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake plugin scripts require a POSIX shell")
	}
	path := filepath.Join(dir, "plugin.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
		t.Fatalf("write fake plugin: %v", err)
	}
	return path
}

func TestRefreshServicePluginParsesStdout(t *testing.T) {
	dir := t.TempDir()
	bin := writeFakePlugin(t, dir, `echo '[{"alias":"repo-a","urls":["http://example.com/a"],"enabled":true}]'`)
	repos, err := refreshServicePlugin(bin)
	if err != nil {
		t.Fatalf("refreshServicePlugin: %v", err)
	}
	if len(repos) != 1 || repos[0].Alias != "repo-a" {
		t.Fatalf("unexpected repos: %+v", repos)
	}
}

func TestRefreshServicePluginMalformedOutputIsInformal(t *testing.T) {
	dir := t.TempDir()
	bin := writeFakePlugin(t, dir, `echo 'not json'`)
	_, err := refreshServicePlugin(bin)
	if err == nil {
		t.Fatalf("expected an error for malformed plugin output")
	}
	if _, ok := err.(*cmn.ServicePluginInformalException); !ok {
		t.Fatalf("expected *cmn.ServicePluginInformalException, got %T: %v", err, err)
	}
}

func TestRefreshServicePluginNonZeroExitIsInformal(t *testing.T) {
	dir := t.TempDir()
	bin := writeFakePlugin(t, dir, `echo 'broken upstream feed' 1>&2; exit 1`)
	_, err := refreshServicePlugin(bin)
	if err == nil {
		t.Fatalf("expected an error for a failing plugin")
	}
	if _, ok := err.(*cmn.ServicePluginInformalException); !ok {
		t.Fatalf("expected *cmn.ServicePluginInformalException, got %T: %v", err, err)
	}
}

func TestRefreshServicePluginMissingBinaryIsNotInformal(t *testing.T) {
	_, err := refreshServicePlugin(filepath.Join(t.TempDir(), "does-not-exist"))
	if err == nil {
		t.Fatalf("expected an error for a missing plugin binary")
	}
	if _, ok := err.(*cmn.ServicePluginInformalException); ok {
		t.Fatalf("a binary that could not be started at all should not be an informal exception")
	}
}

// TestRefreshServicePluginWithRetrySucceedsOnSecondAttempt simulates a
// plugin whose first invocation is an informal failure and whose second
// invocation (the retry) succeeds, by having the script flip a sentinel
// file on disk between runs.
func TestRefreshServicePluginWithRetrySucceedsOnSecondAttempt(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "ran-once")
	bin := writeFakePlugin(t, dir, `
if [ -f "`+marker+`" ]; then
  echo '[{"alias":"repo-a","urls":["http://example.com/a"],"enabled":true}]'
else
  touch "`+marker+`"
  echo 'not json'
fi`)
	repos, err := refreshServicePluginWithRetry(bin)
	if err != nil {
		t.Fatalf("refreshServicePluginWithRetry: %v", err)
	}
	if len(repos) != 1 || repos[0].Alias != "repo-a" {
		t.Fatalf("unexpected repos after retry: %+v", repos)
	}
}

func TestRefreshServicePluginWithRetryFailsAfterSecondAttempt(t *testing.T) {
	dir := t.TempDir()
	bin := writeFakePlugin(t, dir, `echo 'still not json'`)
	_, err := refreshServicePluginWithRetry(bin)
	if err == nil {
		t.Fatalf("expected refreshServicePluginWithRetry to fail when both attempts are informal failures")
	}
}

func TestRefreshServiceReconcilesPluginRepos(t *testing.T) {
	reg, dir := newTestRegistry(t)
	bin := writeFakePlugin(t, dir, `echo '[{"alias":"repo-a","urls":["http://example.com/a"],"enabled":true},{"alias":"repo-b","urls":["http://example.com/b"],"enabled":false}]'`)

	reg.mu.Lock()
	reg.services["myservice"] = &ServiceInfo{
		Alias:    "myservice",
		Type:     ServicePlugin,
		URL:      "",
		Repos:    map[string]bool{},
		FilePath: reg.layout.ServiceFile("myservice"),
	}
	reg.mu.Unlock()

	if err := reg.RefreshService(context.Background(), nil, "myservice", ServiceRefreshOptions{}, "", bin); err != nil {
		t.Fatalf("RefreshService: %v", err)
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, ok := reg.repos["repo-a"]; !ok {
		t.Fatalf("expected repo-a to be created from plugin output")
	}
	if _, ok := reg.repos["repo-b"]; !ok {
		t.Fatalf("expected repo-b to be created from plugin output")
	}
	if len(reg.services["myservice"].Repos) != 2 {
		t.Fatalf("expected service to track 2 repos, got %d", len(reg.services["myservice"].Repos))
	}
}

func TestRefreshServiceRemovesReposNoLongerListed(t *testing.T) {
	reg, dir := newTestRegistry(t)
	bin := writeFakePlugin(t, dir, `echo '[]'`)

	reg.mu.Lock()
	reg.repos["repo-a"] = &RepoInfo{Alias: "repo-a", FilePath: reg.layout.RepoFile("repo-a")}
	reg.services["myservice"] = &ServiceInfo{
		Alias:    "myservice",
		Type:     ServicePlugin,
		Repos:    map[string]bool{"repo-a": true},
		FilePath: reg.layout.ServiceFile("myservice"),
	}
	reg.mu.Unlock()

	if err := reg.RefreshService(context.Background(), nil, "myservice", ServiceRefreshOptions{}, "", bin); err != nil {
		t.Fatalf("RefreshService: %v", err)
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, ok := reg.repos["repo-a"]; ok {
		t.Fatalf("expected repo-a to be removed once the plugin stopped listing it")
	}
}

func TestRefreshServiceUnknownAliasErrors(t *testing.T) {
	reg, _ := newTestRegistry(t)
	if err := reg.RefreshService(context.Background(), nil, "nope", ServiceRefreshOptions{}, "", ""); err == nil {
		t.Fatalf("expected an error for an unknown service alias")
	}
}
