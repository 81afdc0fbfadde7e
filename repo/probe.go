package repo

import (
	"path/filepath"

	"github.com/openSUSE/libzypp-sub001/cmn"
	"github.com/openSUSE/libzypp-sub001/cmn/cos"
)

// Prober fetches a small file relative to a repository's base URL, used to
// probe for repodata/repomd.xml and content markers without downloading the
// whole metadata set. Implemented by the provider scheduler in the daemon;
// kept as a narrow interface here so probing can be unit tested without a
// live scheduler.
type Prober interface {
	Exists(baseURL, relPath string) (bool, error)
}

// Probe implements §4.5 "Probe": dir-scheme local paths are checked
// directly; every other scheme is probed in order for repodata/repomd.xml,
// then content, falling back to plaindir when the mount exists locally.
func Probe(p Prober, scheme, localPath, baseURL string) (RepoKind, error) {
	if scheme == "dir" {
		if !cos.IsDir(localPath) {
			return KindNone, nil
		}
	}

	if ok, err := p.Exists(baseURL, "repodata/repomd.xml"); err != nil {
		return KindNone, err
	} else if ok {
		return KindRpmMd, nil
	}

	if ok, err := p.Exists(baseURL, "content"); err != nil {
		return KindNone, err
	} else if ok {
		return KindYaST2, nil
	}

	if isLocalMountScheme(scheme) && cos.IsDir(localPath) {
		return KindPlainDir, nil
	}
	return KindNone, nil
}

func isLocalMountScheme(scheme string) bool {
	switch scheme {
	case "nfs", "smb", "cifs", "iso", "dir", "hdfs", "cd", "dvd":
		return true
	default:
		return false
	}
}

// LocalProber probes a `dir`-scheme repository directly on the local
// filesystem, with no network I/O — the common case exercised by tests and
// by plaindir repositories mounted under the cache root.
type LocalProber struct{ Root string }

func (p LocalProber) Exists(baseURL, relPath string) (bool, error) {
	scheme, err := cmn.ParseScheme(baseURL)
	if err != nil || scheme != "dir" {
		return false, nil
	}
	return cos.Exists(filepath.Join(p.Root, relPath)), nil
}
