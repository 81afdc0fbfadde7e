package repo

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/openSUSE/libzypp-sub001/cmn"
	"github.com/openSUSE/libzypp-sub001/cmn/cos"
	"github.com/openSUSE/libzypp-sub001/fs"
	"github.com/openSUSE/libzypp-sub001/provider"
)

// RefreshPolicy controls how aggressively checkIfToRefresh honors
// repo.refresh.delay (§4.5).
type RefreshPolicy uint8

const (
	IfNeeded RefreshPolicy = iota
	IfNeededIgnoreDelay
	Forced
)

// RefreshResult is the outcome of checkIfToRefresh / Refresh (§4.5).
type RefreshResult uint8

const (
	ResultUpToDate RefreshResult = iota
	ResultNeeded
	ResultCheckDelayed
	ResultDone
)

// RefreshContext bundles the inputs to one refresh pipeline run (§4.5).
type RefreshContext struct {
	Repo    *RepoInfo
	Layout  *fs.Layout
	Policy  RefreshPolicy
	Now     time.Time
	Default time.Duration // repo.refresh.delay, used when Repo carries none
}

// metadataStatus computes oldStatus from the raw cache cookie file (§6.1
// "Cookie file format": SHA1 hex digest of the raw metadata directory and
// the mtime epoch, newline-separated).
func metadataStatus(layout *fs.Layout, alias string) cmn.RepoStatus {
	data, err := os.ReadFile(layout.CookieFile(alias))
	if err != nil {
		return cmn.RepoStatus{}
	}
	lines := strings.SplitN(strings.TrimSpace(string(data)), "\n", 2)
	if len(lines) != 2 {
		return cmn.RepoStatus{}
	}
	epoch, err := strconv.ParseInt(lines[1], 10, 64)
	if err != nil {
		return cmn.RepoStatus{}
	}
	return cmn.RepoStatus{Fingerprint: lines[0], Mtime: time.Unix(epoch, 0)}
}

// writeCookie persists a RepoStatus in the §6.1 cookie format.
func writeCookie(layout *fs.Layout, alias string, st cmn.RepoStatus) error {
	body := st.Fingerprint + "\n" + strconv.FormatInt(st.Mtime.Unix(), 10) + "\n"
	tmp := cos.TempName(layout.CookieFile(alias))
	f, err := cos.CreateFile(tmp)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(body); err != nil {
		cos.Close(f)
		_ = cos.RemoveFile(tmp)
		return err
	}
	if err := cos.FlushClose(f); err != nil {
		_ = cos.RemoveFile(tmp)
		return err
	}
	return cos.CommitRename(tmp, layout.CookieFile(alias))
}

// hashRawCache computes the raw metadata directory's SHA1 digest, used both
// to produce the cookie and to compare against a freshly probed remote
// status.
func hashRawCache(layout *fs.Layout, alias string) (string, error) {
	return hashDir(layout.RawCacheDir(alias))
}

// hashDir computes the SHA1 digest of every file under dir, in deterministic
// order; used on the live raw cache (via hashRawCache) and on a staging
// directory before it is committed over the live one (§4.5 step 4).
func hashDir(dir string) (string, error) {
	h := sha1.New()
	err := fs.WalkDir(dir, func(path string) error {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer cos.Close(f)
		_, err = io.Copy(h, f)
		return err
	})
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// checkIfToRefresh implements §4.5 step 3.
func checkIfToRefresh(rc *RefreshContext, activeURL string, oldStatus cmn.RepoStatus, remoteStatus func() (cmn.RepoStatus, error)) (RefreshResult, error) {
	if oldStatus.Empty() {
		return ResultNeeded, nil
	}

	scheme, err := cmn.ParseScheme(activeURL)
	if err != nil {
		return ResultNeeded, err
	}
	if scheme == "cd" || scheme == "dvd" {
		return ResultUpToDate, nil
	}

	policy := rc.Policy
	if policy == Forced {
		return ResultNeeded, nil
	}
	if scheme == "dir" {
		policy = IfNeededIgnoreDelay
	}

	if policy != IfNeededIgnoreDelay {
		delay := rc.Default
		now := rc.Now
		if now.IsZero() {
			now = time.Now()
		}
		elapsed := now.Sub(oldStatus.Mtime)
		if elapsed < 0 {
			glog.Warningf("repo %q: cookie mtime is in the future", rc.Repo.Alias)
		} else if elapsed < delay {
			return ResultCheckDelayed, nil
		}
	}

	newStatus, err := remoteStatus()
	if err != nil {
		return ResultNeeded, err
	}
	if newStatus.Equal(oldStatus) {
		return ResultUpToDate, nil
	}
	return ResultNeeded, nil
}

// Refresh runs the §4.5 pipeline for one RepoInfo, trying each origin URL
// in order with the same first-cause/history mirror strategy used by the
// provider scheduler's own fail-over (§4.3.3).
func Refresh(ctx context.Context, sched *provider.Scheduler, rc *RefreshContext) (RefreshResult, error) {
	ri := rc.Repo
	if ri.Alias == "" || len(ri.BaseURLs) == 0 {
		return ResultUpToDate, cmn.NewErr(cmn.KindInvalidInput, 0, "repository requires an alias and at least one baseurl")
	}

	origin, err := ri.Origin()
	if err != nil {
		return ResultUpToDate, err
	}

	var firstErr error
	for _, url := range origin.URLs() {
		result, err := refreshOneURL(ctx, sched, rc, url)
		if err == nil {
			return result, nil
		}
		if _, ok := err.(*cmn.RepoNoPermissionException); ok {
			return ResultUpToDate, err
		}
		if firstErr == nil {
			firstErr = err
		} else if e, ok := firstErr.(*cmn.Err); ok {
			e.Wrap(err)
		}
	}
	return ResultUpToDate, firstErr
}

func refreshOneURL(ctx context.Context, sched *provider.Scheduler, rc *RefreshContext, url string) (RefreshResult, error) {
	ri := rc.Repo
	oldStatus := metadataStatus(rc.Layout, ri.Alias)

	remoteStatus := func() (cmn.RepoStatus, error) {
		digest, err := hashRawCache(rc.Layout, ri.Alias)
		if err != nil {
			return cmn.RepoStatus{}, err
		}
		return cmn.RepoStatus{Fingerprint: digest, Mtime: time.Now()}, nil
	}

	result, err := checkIfToRefresh(rc, url, oldStatus, remoteStatus)
	if err != nil {
		return ResultUpToDate, err
	}
	switch result {
	case ResultUpToDate:
		_ = writeCookie(rc.Layout, ri.Alias, cmn.RepoStatus{Fingerprint: oldStatus.Fingerprint, Mtime: time.Now()})
		return ResultUpToDate, nil
	case ResultCheckDelayed:
		return ResultCheckDelayed, nil
	}

	rawDir := rc.Layout.RawCacheDir(ri.Alias)
	if err := checkWritable(rawDir); err != nil {
		return ResultUpToDate, cmn.NewRepoNoPermissionException(rawDir)
	}

	// Download into a sibling staging directory and commit it over the live
	// raw cache only once it has landed in full (§4.5 step 4, §3.3 invariant
	// 8): a worker failure or crash mid-download then leaves rawDir
	// untouched instead of half-overwritten, and a concurrent reader never
	// observes a partial cache.
	stageDir := cos.TempName(rawDir)
	if err := os.MkdirAll(stageDir, 0o755); err != nil {
		return ResultUpToDate, err
	}
	defer func() { _ = os.RemoveAll(stageDir) }()

	origin, err := cmn.NewMirroredOrigin(url)
	if err != nil {
		return ResultUpToDate, err
	}
	item, err := sched.Provide(origin, map[string]string{"destdir": stageDir})
	if err != nil {
		return ResultUpToDate, err
	}
	msg, err := item.Wait(ctx)
	if err != nil {
		return ResultUpToDate, err
	}
	if msg.Code.IsError() {
		kind := msg.Code.Kind()
		return ResultUpToDate, cmn.NewErr(kind, int(msg.Code), "%s", msg.Reason())
	}

	digest, err := hashDir(stageDir)
	if err != nil {
		return ResultUpToDate, err
	}
	if err := cos.CommitRenameDir(stageDir, rawDir); err != nil {
		return ResultUpToDate, err
	}
	if err := writeCookie(rc.Layout, ri.Alias, cmn.RepoStatus{Fingerprint: digest, Mtime: time.Now()}); err != nil {
		return ResultUpToDate, err
	}
	return ResultDone, nil
}

func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	probe := dir + "/.writable-probe"
	f, err := os.Create(probe)
	if err != nil {
		return err
	}
	cos.Close(f)
	return os.Remove(probe)
}
