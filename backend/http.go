package backend

import (
	"context"
	"os"

	"github.com/valyala/fasthttp"

	"github.com/openSUSE/libzypp-sub001/cmn"
	"github.com/openSUSE/libzypp-sub001/cmn/cos"
)

// httpBackend downloads http(s)/ftp/tftp URLs with valyala/fasthttp, the
// same client family the multi-range fetch engine uses for ranged reads
// (fetch/transport.go), here doing one whole-file GET.
type httpBackend struct {
	client *fasthttp.Client
}

func newHTTPBackend() *httpBackend {
	return &httpBackend{client: &fasthttp.Client{MaxConnsPerHost: 32}}
}

func (b *httpBackend) Fetch(ctx context.Context, url, destPath string, headers map[string]string) (int64, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	deadline, ok := ctx.Deadline()
	var err error
	if ok {
		err = b.client.DoDeadline(req, resp, deadline)
	} else {
		err = b.client.Do(req, resp)
	}
	if err != nil {
		return 0, cmn.NewErr(cmn.KindTransient, 0, "http fetch %s: %v", url, err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return 0, cmn.NewErr(cmn.KindResource, resp.StatusCode(), "http fetch %s: status %d", url, resp.StatusCode())
	}

	tmp := cos.TempName(destPath)
	f, err := cos.CreateFile(tmp)
	if err != nil {
		return 0, err
	}
	body := resp.Body()
	if _, err := f.Write(body); err != nil {
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
	fi, err := os.Stat(destPath)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}
