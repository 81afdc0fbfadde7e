package provider

import (
	"golang.org/x/sync/semaphore"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/openSUSE/libzypp-sub001/cmn"
)

func newTestScheduler() *Scheduler {
	cfg := cmn.DefaultConfig("/tmp").Provider
	return &Scheduler{
		cfg:     cfg,
		queues:  make(map[string]*queue),
		hostSem: make(map[string]*semaphore.Weighted),
		media:   newMediaCache(),
		auth:    newCredentialCache(),
		closeCh: make(chan struct{}),
	}
}

var _ = Describe("mirror fail-over", func() {
	It("tries the next URL on a transient failure", func() {
		origin, err := cmn.NewMirroredOrigin("http://primary/repo", "http://mirror1/repo", "http://mirror2/repo")
		Expect(err).NotTo(HaveOccurred())

		req := &ProvideRequest{
			ID:            1,
			Origin:        origin,
			ActiveURL:     origin.Authority(),
			PastRedirects: map[string]bool{},
			Tried:         map[string]bool{},
		}
		item := newProvideItem(req)
		s := newTestScheduler()

		done := s.failover(req, NewMessage(CodeErrConnFailed, 1).Set("reason", "connection refused"))
		Expect(done).To(BeFalse())
		Expect(req.ActiveURL).To(Equal("http://mirror1/repo"))

		done = s.failover(req, NewMessage(CodeErrTimeout, 1).Set("reason", "timed out"))
		Expect(done).To(BeFalse())
		Expect(req.ActiveURL).To(Equal("http://mirror2/repo"))

		done = s.failover(req, NewMessage(CodeErrConnFailed, 1).Set("reason", "connection refused again"))
		Expect(done).To(BeTrue())
		Expect(item.state).To(Equal(ItemFinished))
		// the first exception is preserved as the terminal result
		Expect(item.Result.Reason()).To(Equal("connection refused"))
	})

	It("completes with the first exception when the origin is a single URL", func() {
		origin, _ := cmn.NewMirroredOrigin("http://only/repo")
		req := &ProvideRequest{ID: 2, Origin: origin, ActiveURL: origin.Authority(), PastRedirects: map[string]bool{}}
		_ = newProvideItem(req)
		s := newTestScheduler()

		done := s.failover(req, NewMessage(CodeErrConnFailed, 2).Set("reason", "no route"))
		Expect(done).To(BeTrue())
		Expect(req.item.Result.Reason()).To(Equal("no route"))
	})
})

var _ = Describe("redirect handling", func() {
	It("rejects a redirect into a non-downloading scheme", func() {
		origin, _ := cmn.NewMirroredOrigin("http://a/repo")
		req := &ProvideRequest{ID: 3, Origin: origin, ActiveURL: origin.Authority(), PastRedirects: map[string]bool{}}
		_ = newProvideItem(req)
		s := newTestScheduler()

		msg := NewMessage(CodeRedirect, 3).Set("location", "nfs://host/share")
		done := s.handleRedirect(&Worker{inFlt: map[uint32]*ProvideRequest{}, recvCh: make(chan *Message)}, req, msg)
		Expect(done).To(BeTrue())
		Expect(req.item.Result.Code).To(Equal(CodeErrBadRequest))
	})

	It("detects a redirect loop via past-redirect membership", func() {
		origin, _ := cmn.NewMirroredOrigin("http://a/repo")
		req := &ProvideRequest{
			ID: 4, Origin: origin, ActiveURL: origin.Authority(),
			PastRedirects: map[string]bool{"http://b/repo": true},
		}
		_ = newProvideItem(req)
		s := newTestScheduler()

		msg := NewMessage(CodeRedirect, 4).Set("location", "http://b/repo")
		done := s.handleRedirect(&Worker{inFlt: map[uint32]*ProvideRequest{}, recvCh: make(chan *Message)}, req, msg)
		Expect(done).To(BeTrue())
		Expect(req.item.Result.Code).To(Equal(CodeErrBadRequest))
	})

	It("accepts a redirect between two downloading schemes and re-queues", func() {
		origin, _ := cmn.NewMirroredOrigin("http://a/repo")
		req := &ProvideRequest{ID: 5, Origin: origin, ActiveURL: origin.Authority(), PastRedirects: map[string]bool{}}
		_ = newProvideItem(req)
		s := newTestScheduler()

		msg := NewMessage(CodeRedirect, 5).Set("location", "https://b/repo")
		done := s.handleRedirect(&Worker{inFlt: map[uint32]*ProvideRequest{}, recvCh: make(chan *Message)}, req, msg)
		Expect(done).To(BeFalse())
		Expect(req.ActiveURL).To(Equal("https://b/repo"))
		Expect(s.queueFor("http").len()).To(Equal(1))
	})
})
