package backend

import (
	"context"
	"io"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/openSUSE/libzypp-sub001/cmn"
	"github.com/openSUSE/libzypp-sub001/cmn/cos"
)

// gcsBackend downloads gs:// URLs via cloud.google.com/go/storage.
type gcsBackend struct{}

func newGCSBackend() *gcsBackend { return &gcsBackend{} }

func (b *gcsBackend) Fetch(ctx context.Context, rawURL, destPath string, headers map[string]string) (int64, error) {
	bucket, object, err := parseGSURL(rawURL)
	if err != nil {
		return 0, err
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return 0, cmn.NewErr(cmn.KindInternal, 0, "gcs client: %v", err)
	}
	defer client.Close()

	rc, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return 0, cmn.NewErr(cmn.KindTransient, 0, "gcs fetch %s: %v", rawURL, err)
	}
	defer rc.Close()

	tmp := cos.TempName(destPath)
	f, err := cos.CreateFile(tmp)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, rc)
	if err != nil {
		cos.Close(f)
		_ = cos.RemoveFile(tmp)
		return 0, cmn.NewErr(cmn.KindTransient, 0, "gcs fetch %s: %v", rawURL, err)
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

func parseGSURL(raw string) (bucket, object string, err error) {
	u, perr := url.Parse(raw)
	if perr != nil {
		return "", "", cmn.NewErr(cmn.KindInvalidInput, 0, "invalid gs url %q: %v", raw, perr)
	}
	bucket = u.Host
	object = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || object == "" {
		return "", "", cmn.NewErr(cmn.KindInvalidInput, 0, "gs url %q missing bucket or object", raw)
	}
	return bucket, object, nil
}
