package backend

import (
	"context"
	"io"
	"net/url"

	"github.com/colinmarc/hdfs/v2"

	"github.com/openSUSE/libzypp-sub001/cmn"
	"github.com/openSUSE/libzypp-sub001/cmn/cos"
)

// hdfsBackend fetches hdfs:// paths via colinmarc/hdfs, the mountable
// scheme's SDK named in the domain stack.
type hdfsBackend struct{}

func newHDFSBackend() *hdfsBackend { return &hdfsBackend{} }

func (b *hdfsBackend) Fetch(ctx context.Context, rawURL, destPath string, headers map[string]string) (int64, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, cmn.NewErr(cmn.KindInvalidInput, 0, "invalid hdfs url %q: %v", rawURL, err)
	}
	client, err := hdfs.New(u.Host)
	if err != nil {
		return 0, cmn.NewErr(cmn.KindInternal, 0, "hdfs namenode %s: %v", u.Host, err)
	}
	defer client.Close()

	src, err := client.Open(u.Path)
	if err != nil {
		return 0, cmn.NewErr(cmn.KindResource, 0, "hdfs open %s: %v", rawURL, err)
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
		return 0, cmn.NewErr(cmn.KindTransient, 0, "hdfs fetch %s: %v", rawURL, err)
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
