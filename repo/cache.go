package repo

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/openSUSE/libzypp-sub001/cmn"
	"github.com/openSUSE/libzypp-sub001/cmn/cos"
	"github.com/openSUSE/libzypp-sub001/cmn/debug"
	"github.com/openSUSE/libzypp-sub001/cmn/jsp"
	"github.com/openSUSE/libzypp-sub001/fs"
)

// CachePolicy controls whether BuildCache may skip a rebuild when the
// stored cache cookie already matches the raw metadata status (§4.6 step
// 3).
type CachePolicy uint8

const (
	BuildIfNeeded CachePolicy = iota
	BuildForced
)

// Repo2SolvPath names the external converter invoked by BuildCache (§6.4).
// Overridable for tests.
var Repo2SolvPath = "repo2solv"

// BuildCache implements §4.6: probe the local raw cache for its actual
// kind, invoke repo2solv, and commit the resulting solv file plus its
// content-digest index. The cookie stored alongside the solv file records
// the raw-cache fingerprint the solv file was built from (§3.3 invariant
// 3: "A cached solv file is considered valid iff its stored cookie equals
// the raw metadata's RepoStatus").
func BuildCache(layout *fs.Layout, ri *RepoInfo, policy CachePolicy, refresh func() error) error {
	solvDir := layout.SolvCacheDir(ri.Alias)
	if err := os.MkdirAll(solvDir, 0o755); err != nil {
		return cmn.NewErr(cmn.KindPermission, 0, "create solv cache dir %s: %v", solvDir, err)
	}

	cachedStatus := metadataStatus(layout, ri.Alias)
	if cachedStatus.Empty() {
		if refresh == nil {
			return cmn.NewErr(cmn.KindInvalidInput, 0, "repository %q has no raw cache and no refresh hook was provided", ri.Alias)
		}
		if err := refresh(); err != nil {
			return err
		}
		cachedStatus = metadataStatus(layout, ri.Alias)
	}

	rawDigest, err := hashRawCache(layout, ri.Alias)
	if err != nil {
		return err
	}
	rawStatus := cmn.RepoStatus{Fingerprint: rawDigest, Mtime: cachedStatus.Mtime}

	if policy == BuildIfNeeded && cos.Exists(layout.SolvFile(ri.Alias)) && cachedStatus.Equal(rawStatus) {
		debug.Assert(!rawStatus.Empty(), "a matching cachedStatus is never empty, since Equal never matches an empty fingerprint")
		return ensureSolvIndex(layout, ri.Alias)
	}

	localProber := LocalProber{Root: layout.RawCacheDir(ri.Alias)}
	kind, err := Probe(localProber, "dir", layout.RawCacheDir(ri.Alias), "dir://"+layout.RawCacheDir(ri.Alias))
	if err != nil {
		return err
	}

	switch kind {
	case KindRpmMd, KindYaST2, KindPlainDir:
		if err := runRepo2Solv(layout, ri, kind); err != nil {
			return err
		}
	default:
		return cmn.NewRepoUnknownTypeException(ri.Alias)
	}

	return writeSolvCookie(layout, ri.Alias, cmn.RepoStatus{Fingerprint: rawStatus.Fingerprint, Mtime: time.Now()})
}

func runRepo2Solv(layout *fs.Layout, ri *RepoInfo, kind RepoKind) error {
	solvFile := layout.SolvFile(ri.Alias)
	tmp := cos.TempName(solvFile)

	args := []string{"-o", tmp, "-X"}
	if kind == KindPlainDir {
		args = append(args, "-R", filepath.Join(layout.RawCacheDir(ri.Alias), ri.Path))
	} else {
		args = append(args, layout.RawCacheDir(ri.Alias))
	}

	cmdline := append([]string{Repo2SolvPath}, args...)
	cmd := exec.Command(Repo2SolvPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if runErr != nil {
		_ = cos.RemoveFile(tmp)
		exitStatus := -1
		if ee, ok := runErr.(*exec.ExitError); ok {
			exitStatus = ee.ExitCode()
		}
		e := cmn.NewRepoException("repo2solv failed for %q: %v (argv=%v, exit=%d)", ri.Alias, runErr, cmdline, exitStatus)
		for _, line := range splitLines(stderr.String()) {
			e.Wrap(cmn.NewErr(cmn.KindInternal, 0, "%s", line))
		}
		return e
	}

	if err := cos.CommitRename(tmp, solvFile); err != nil {
		return err
	}
	return regenerateSolvIndex(layout, ri.Alias)
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

// solvIndexRecord is the JSON body of a solv.idx file: the solv file's
// content digest plus when it was computed, so a diagnostic dump can show
// cache age without re-hashing the solv file itself.
type solvIndexRecord struct {
	Digest  string    `json:"digest"`
	BuiltAt time.Time `json:"built_at"`
}

// regenerateSolvIndex writes a short content-digest index next to the solv
// file, used by ensureSolvIndex to avoid recomputation on an unchanged
// cache (§4.6 step 3).
func regenerateSolvIndex(layout *fs.Layout, alias string) error {
	data, err := os.ReadFile(layout.SolvFile(alias))
	if err != nil {
		return err
	}
	sum := sha1.Sum(data)
	rec := solvIndexRecord{Digest: hex.EncodeToString(sum[:]), BuiltAt: time.Now()}
	return jsp.Save(layout.SolvIndexFile(alias), &rec, jsp.Options{})
}

func ensureSolvIndex(layout *fs.Layout, alias string) error {
	if cos.Exists(layout.SolvIndexFile(alias)) {
		return nil
	}
	return regenerateSolvIndex(layout, alias)
}

func writeSolvCookie(layout *fs.Layout, alias string, st cmn.RepoStatus) error {
	return writeCookie(layout, alias, st)
}
