//go:build !linux

package stats

import "fmt"

// statCacheRoot has no portable implementation outside Linux in this tree
// (the teacher itself splits ios.GetFSStats by GOOS and only carries a
// darwin variant); SampleCacheSpace treats this as a soft failure.
func statCacheRoot(path string) (bavail uint64, bsize int64, err error) {
	return 0, 0, fmt.Errorf("cache free-space sampling is not implemented on this platform")
}
