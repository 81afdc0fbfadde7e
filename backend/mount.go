package backend

import (
	"context"
	"io"
	"net/url"
	"os"

	"github.com/openSUSE/libzypp-sub001/cmn"
	"github.com/openSUSE/libzypp-sub001/cmn/cos"
)

// mountBackend serves nfs/smb/dir/cd/dvd/iso schemes, all of which name an
// already-mounted local path by the time a worker sees them (the actual
// mount/unmount lifecycle belongs to the operating system, not this
// daemon, per §3.1's scheme classification).
type mountBackend struct{}

func newMountBackend() *mountBackend { return &mountBackend{} }

func (b *mountBackend) Fetch(ctx context.Context, rawURL, destPath string, headers map[string]string) (int64, error) {
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		path = u.Path
	}

	src, err := os.Open(path)
	if err != nil {
		return 0, cmn.NewErr(cmn.KindResource, 0, "mount fetch %s: %v", rawURL, err)
	}
	defer src.Close()

	tmp := cos.TempName(destPath)
	f, err := cos.CreateFile(tmp)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, src)
	if err != nil {
		cos.Close(f)
		_ = cos.RemoveFile(tmp)
		return 0, err
	}
	if err := cos.FlushClose(f); err != nil {
		_ = cos.RemoveFile(tmp)
		return 0, err
	}
	if err := cos.CommitRename(tmp, destPath); err != nil {
		return 0, err
	}
	return n, nil
}
