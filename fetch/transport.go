package fetch

import (
	"fmt"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/openSUSE/libzypp-sub001/cmn"
)

// Fetcher performs one ranged GET against a mirror and returns the bytes
// read, letting the engine be tested against a stub without opening real
// sockets.
type Fetcher interface {
	FetchRange(url string, offset, size int64, timeout time.Duration) ([]byte, error)
}

// httpFetcher is the production Fetcher, grounded on the same
// valyala/fasthttp client the worker protocol's downloading workers use for
// plain HTTP(S) transfers.
type httpFetcher struct {
	client *fasthttp.Client
}

func newHTTPFetcher() *httpFetcher {
	return &httpFetcher{client: &fasthttp.Client{
		MaxConnsPerHost: 64,
	}}
}

func (h *httpFetcher) FetchRange(url string, offset, size int64, timeout time.Duration) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+size-1))

	if err := h.client.DoTimeout(req, resp, timeout); err != nil {
		return nil, cmn.NewErr(cmn.KindTransient, 0, "fetch %s [%d:%d]: %v", url, offset, offset+size, err)
	}
	status := resp.StatusCode()
	if status != fasthttp.StatusPartialContent && status != fasthttp.StatusOK {
		return nil, cmn.NewErr(cmn.KindTransient, status, "fetch %s [%d:%d]: unexpected status %d", url, offset, offset+size, status)
	}

	body := resp.Body()
	out := make([]byte, len(body))
	copy(out, body)
	return out, nil
}
