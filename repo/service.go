package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"sort"

	"github.com/golang-jwt/jwt/v4"

	"github.com/openSUSE/libzypp-sub001/cmn"
	"github.com/openSUSE/libzypp-sub001/provider"
)

// RemoteRepo is one entry returned by a service's repository listing,
// either the RIS index or a plugin's stdout (§4.7 "Services").
type RemoteRepo struct {
	Alias       string   `json:"alias"`
	Name        string   `json:"name"`
	BaseURLs    []string `json:"urls"`
	Enabled     bool     `json:"enabled"`
	Autorefresh bool     `json:"autorefresh"`
	Priority    int      `json:"priority"`
}

// ServiceRefreshOptions mirrors the §4.7 refreshService(alias, options)
// call: whether user-enabled overrides on existing repos survive
// reconciliation.
type ServiceRefreshOptions struct {
	PreserveUserEnabled bool
}

// refreshServiceRIS downloads the signed repository index at si.URL via the
// scheduler and verifies it with the service's shared signing secret,
// grounded on the teacher's authn.DecryptToken pattern (HMAC-signed JSON
// claims carried as a JWT).
func refreshServiceRIS(ctx context.Context, sched *provider.Scheduler, si *ServiceInfo, secret string) ([]RemoteRepo, error) {
	origin, err := cmn.NewMirroredOrigin(si.URL)
	if err != nil {
		return nil, err
	}
	item, err := sched.Provide(origin, map[string]string{"accept": "application/jwt"})
	if err != nil {
		return nil, err
	}
	msg, err := item.Wait(ctx)
	if err != nil {
		return nil, err
	}
	if msg.Code.IsError() {
		return nil, cmn.NewErr(msg.Code.Kind(), int(msg.Code), "refresh service %q: %s", si.Alias, msg.Reason())
	}
	if secret == "" {
		var repos []RemoteRepo
		if err := json.Unmarshal(msg.Body, &repos); err != nil {
			return nil, cmn.NewErr(cmn.KindInvalidInput, 0, "service %q: malformed repository index: %v", si.Alias, err)
		}
		return repos, nil
	}
	return parseSignedRepoIndex(string(msg.Body), secret)
}

func parseSignedRepoIndex(tokenStr, secret string) ([]RemoteRepo, error) {
	token, err := jwt.Parse(tokenStr, func(tk *jwt.Token) (interface{}, error) {
		if _, ok := tk.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tk.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, cmn.NewErr(cmn.KindAuth, 0, "service index signature invalid: %v", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, cmn.NewErr(cmn.KindAuth, 0, "service index token invalid")
	}
	raw, err := json.Marshal(claims["repos"])
	if err != nil {
		return nil, err
	}
	var repos []RemoteRepo
	if err := json.Unmarshal(raw, &repos); err != nil {
		return nil, err
	}
	return repos, nil
}

// refreshServicePlugin invokes the service's external program once and
// parses its stdout as a JSON array of RemoteRepo, analogous to a worker's
// handshake but over a single request/response exec rather than a
// long-lived process. A plugin that ran but produced something unusable
// (non-zero exit, unparseable stdout) fails with
// ServicePluginInformalException rather than a bare error, so the caller
// can tell "the plugin itself complained" from "we could not even start
// it." Only *exec.ExitError means the process actually ran; any other
// error (missing binary, permission denied, LookPath failure) means it
// never started at all.
func refreshServicePlugin(binPath string, args ...string) ([]RemoteRepo, error) {
	cmd := exec.Command(binPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, cmn.NewErr(cmn.KindConfiguration, 0, "service plugin %q: %v", binPath, err)
		}
		return nil, cmn.NewServicePluginInformalException(binPath, fmt.Errorf("%v: %s", err, stderr.String()))
	}
	var repos []RemoteRepo
	if err := json.Unmarshal(stdout.Bytes(), &repos); err != nil {
		return nil, cmn.NewServicePluginInformalException(binPath, fmt.Errorf("malformed output: %w", err))
	}
	return repos, nil
}

// refreshServicePluginWithRetry runs the plugin once and, if it fails with
// the informal condition above, runs it exactly once more before giving up
// -- the original's "caught, then rethrown after further work" path (§9).
func refreshServicePluginWithRetry(binPath string, args ...string) ([]RemoteRepo, error) {
	repos, err := refreshServicePlugin(binPath, args...)
	if err == nil {
		return repos, nil
	}
	if _, ok := err.(*cmn.ServicePluginInformalException); !ok {
		return nil, err
	}
	return refreshServicePlugin(binPath, args...)
}

// RefreshService implements §4.7's refreshService: fetch the remote
// listing, reconcile against the registry's stored repos (create missing,
// delete absent unless user-enabled override applies), and persist the new
// per-repo state map on the ServiceInfo.
func (r *Registry) RefreshService(ctx context.Context, sched *provider.Scheduler, alias string, opts ServiceRefreshOptions, secret string, pluginBin string) error {
	r.mu.Lock()
	si, ok := r.services[alias]
	r.mu.Unlock()
	if !ok {
		return cmn.NewErr(cmn.KindInvalidInput, 0, "service %q does not exist", alias)
	}

	var remote []RemoteRepo
	var err error
	switch si.Type {
	case ServicePlugin:
		remote, err = refreshServicePluginWithRetry(pluginBin, si.URL)
	default:
		remote, err = refreshServiceRIS(ctx, sched, si, secret)
	}
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(remote))
	for _, rr := range remote {
		seen[rr.Alias] = true
		ri := &RepoInfo{
			Alias:       rr.Alias,
			Name:        rr.Name,
			BaseURLs:    rr.BaseURLs,
			Enabled:     rr.Enabled,
			Autorefresh: rr.Autorefresh,
			Priority:    rr.Priority,
			Path:        "/",
			Type:        KindNone,
		}
		if existing, exists := r.repos[rr.Alias]; exists {
			if opts.PreserveUserEnabled {
				if override, ok := si.Repos[rr.Alias]; ok {
					ri.Enabled = override
				} else {
					ri.Enabled = existing.Enabled
				}
			}
			ri.MetadataPath = existing.MetadataPath
			ri.PackagesPath = existing.PackagesPath
			ri.FilePath = existing.FilePath
			r.repos[rr.Alias] = ri
			_ = r.saveRepoFile(ri.FilePath)
		} else {
			ri.MetadataPath = r.layout.RawCacheDir(ri.Alias)
			ri.PackagesPath = r.layout.SolvCacheDir(ri.Alias)
			ri.FilePath = r.layout.RepoFile(ri.Alias)
			r.repos[ri.Alias] = ri
			_ = r.saveRepoFile(ri.FilePath)
		}
		si.Repos[rr.Alias] = ri.Enabled
	}

	// A repo is "ours" iff it already appeared in si.Repos from a prior
	// refresh; anything ours that the remote listing no longer mentions is
	// a removal candidate.
	var stale []string
	for alias := range si.Repos {
		if !seen[alias] {
			stale = append(stale, alias)
		}
	}
	sort.Strings(stale)
	for _, alias := range stale {
		if opts.PreserveUserEnabled && si.Repos[alias] {
			continue // user explicitly enabled it; keep despite removal upstream
		}
		ri, exists := r.repos[alias]
		delete(si.Repos, alias)
		if !exists {
			continue
		}
		delete(r.repos, alias)
		_ = r.saveRepoFile(ri.FilePath)
	}

	r.hist.Append("service-refreshed", alias)
	return r.saveServiceFile(si.FilePath)
}
