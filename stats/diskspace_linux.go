//go:build linux

package stats

import "golang.org/x/sys/unix"

// statCacheRoot reports available bytes under path, grounded on the
// teacher's ios.GetFSStats (ios/fsutils_darwin.go) split by GOOS; this is
// the Linux side of that split, backed by a raw statfs(2) instead of
// darwin's BSD statfs layout.
func statCacheRoot(path string) (bavail uint64, bsize int64, err error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, 0, err
	}
	return st.Bavail, int64(st.Bsize), nil
}
