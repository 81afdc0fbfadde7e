package provider

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/openSUSE/libzypp-sub001/cmn"
)

// ItemState is the lifecycle of one user-visible provide operation (§3.2).
type ItemState uint8

const (
	ItemUninit ItemState = iota
	ItemPending
	ItemRunning
	ItemFinalizing
	ItemFinished
)

// ProvideRequest is the in-flight unit dispatched to a worker. It is
// exclusively owned by its ProvideItem; the scheduler holds only a weak
// reference (by id, in Worker.inFlt) while it is queued or dispatched
// (§3.4).
type ProvideRequest struct {
	ID             uint32
	Kind           Code // CodeProvide, CodeAttach, CodeDetach
	Headers        map[string]string
	Origin         *cmn.MirroredOrigin
	PastRedirects  map[string]bool
	ActiveURL      string
	MediaSpec      string
	AttachID       string // set for Detach requests
	Tried          map[string]bool // URLs already attempted this item, §4.3.3

	item   *ProvideItem
	worker *Worker
}

// remainingURLs returns the origin's URLs, in order, excluding every URL
// already attempted (including the currently active one).
func (r *ProvideRequest) remainingURLs() []string {
	all := r.Origin.URLs()
	out := make([]string, 0, len(all))
	for _, u := range all {
		if u == r.ActiveURL || r.Tried[u] {
			continue
		}
		out = append(out, u)
	}
	return out
}

// ProvideItem is the user-facing awaitable backing one scheduler operation.
// Shared between the scheduler and the caller (§3.4); all field access is
// mediated by mu.
type ProvideItem struct {
	mu    sync.Mutex
	state ItemState
	req   *ProvideRequest

	Result *Message // terminal success or first-cause failure
	done    chan struct{}
	cancel  atomic.Bool
}

func newProvideItem(req *ProvideRequest) *ProvideItem {
	it := &ProvideItem{state: ItemPending, req: req, done: make(chan struct{})}
	req.item = it
	return it
}

func (it *ProvideItem) finish(result *Message) {
	it.mu.Lock()
	if it.state == ItemFinished {
		it.mu.Unlock()
		return
	}
	it.state = ItemFinished
	it.Result = result
	it.mu.Unlock()
	close(it.done)
}

// Wait blocks until the item reaches a terminal state or ctx is cancelled.
func (it *ProvideItem) Wait(ctx context.Context) (*Message, error) {
	select {
	case <-it.done:
		return it.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (it *ProvideItem) Cancel() { it.cancel.Store(true) }

func (it *ProvideItem) cancelled() bool { return it.cancel.Load() }

// queue is the per-effective-scheme FIFO of §4.3.1.
type queue struct {
	mu      sync.Mutex
	pending []*ProvideRequest
	workers []*Worker
}

func (q *queue) push(r *ProvideRequest) {
	q.mu.Lock()
	q.pending = append(q.pending, r)
	q.mu.Unlock()
}

func (q *queue) pop() (*ProvideRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, false
	}
	r := q.pending[0]
	q.pending = q.pending[1:]
	return r, true
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// BinaryLocator resolves the worker binary for a scheme, analogous to the
// teacher's plugin-path resolution.
type BinaryLocator func(scheme string) (path string, config map[string]string, err error)

// Scheduler is the §4.3 provider scheduler: per-scheme admission, dispatch,
// retry/fail-over, auth coalescing, and the media attach cache.
type Scheduler struct {
	cfg     cmn.ProviderConfig
	locator BinaryLocator
	prompt  PromptFunc

	mu       sync.Mutex
	queues   map[string]*queue // keyed by effective scheme
	hostSem  map[string]*semaphore.Weighted
	nextID   atomic.Uint32

	media *mediaCache
	auth  *credentialCache

	pulse   *time.Ticker
	closeCh chan struct{}
	wg      sync.WaitGroup
}

func NewScheduler(cfg cmn.ProviderConfig, locator BinaryLocator, prompt PromptFunc) *Scheduler {
	s := &Scheduler{
		cfg:     cfg,
		locator: locator,
		prompt:  prompt,
		queues:  make(map[string]*queue),
		hostSem: make(map[string]*semaphore.Weighted),
		media:   newMediaCache(),
		auth:    newCredentialCache(),
		closeCh: make(chan struct{}),
	}
	return s
}

// Start launches the 100ms scheduling pulse of §4.3.2. Stop must be called
// to release the ticker goroutine.
func (s *Scheduler) Start() {
	interval := s.cfg.PulseInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	s.pulse = time.NewTicker(interval)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-s.pulse.C:
				s.runCycle()
			case <-s.closeCh:
				return
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	close(s.closeCh)
	if s.pulse != nil {
		s.pulse.Stop()
	}
	s.wg.Wait()
}

func (s *Scheduler) effectiveScheme(scheme string) string {
	return cmn.EffectiveScheme(scheme, s.cfg.SchemeAliases)
}

func (s *Scheduler) queueFor(effScheme string) *queue {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[effScheme]
	if !ok {
		q = &queue{}
		s.queues[effScheme] = q
	}
	return q
}

func (s *Scheduler) hostSemFor(host string) *semaphore.Weighted {
	s.mu.Lock()
	defer s.mu.Unlock()
	sem, ok := s.hostSem[host]
	if !ok {
		n := s.cfg.MaxInstancesPerHost
		if n <= 0 {
			n = 5
		}
		sem = semaphore.NewWeighted(int64(n))
		s.hostSem[host] = sem
	}
	return sem
}

// Provide enqueues a fetch request and returns the backing item (§4.3.1,
// §3.4). The caller observes completion via ProvideItem.Wait.
func (s *Scheduler) Provide(origin *cmn.MirroredOrigin, headers map[string]string) (*ProvideItem, error) {
	if origin.Empty() {
		return nil, cmn.NewErr(cmn.KindInvalidInput, int(CodeErrBadRequest), "provide requires a non-empty origin")
	}
	req := &ProvideRequest{
		ID:            s.nextID.Inc(),
		Kind:          CodeProvide,
		Headers:       headers,
		Origin:        origin,
		PastRedirects: make(map[string]bool),
		Tried:         make(map[string]bool),
		ActiveURL:     origin.Authority(),
	}
	item := newProvideItem(req)
	scheme, err := cmn.ParseScheme(req.ActiveURL)
	if err != nil {
		return nil, err
	}
	s.queueFor(s.effectiveScheme(scheme)).push(req)
	return item, nil
}

// Attach resolves or creates an AttachedMediaInfo for origin (§4.3.5).
func (s *Scheduler) Attach(origin *cmn.MirroredOrigin, mediaSpec string) (*AttachedMediaInfo, error) {
	key := attachKey(origin, mediaSpec)
	if m, ok := s.media.lookup(key); ok {
		m.Ref()
		return m, nil
	}
	req := &ProvideRequest{
		ID:            s.nextID.Inc(),
		Kind:          CodeAttach,
		Origin:        origin,
		MediaSpec:     mediaSpec,
		PastRedirects: make(map[string]bool),
		Tried:         make(map[string]bool),
		ActiveURL:     origin.Authority(),
	}
	item := newProvideItem(req)
	scheme, err := cmn.ParseScheme(req.ActiveURL)
	if err != nil {
		return nil, err
	}
	s.queueFor(s.effectiveScheme(scheme)).push(req)

	result, err := item.Wait(context.Background())
	if err != nil {
		return nil, err
	}
	if result.Code.IsError() {
		return nil, cmn.NewErr(result.Code.Kind(), int(result.Code), "%s", result.Reason())
	}
	m := &AttachedMediaInfo{
		AttachID:   newAttachID(),
		URLs:       origin.URLs(),
		MediaSpec:  mediaSpec,
		MountPoint: result.Get("mountpoint"),
		owner:      req.worker,
		refcount:   1,
	}
	s.media.insert(key, m)
	return m, nil
}

// Detach drops a reference; when the scheduler is left as sole holder the
// medium becomes eligible for idle reaping (§3.3 invariant 6).
func (s *Scheduler) Detach(m *AttachedMediaInfo) { m.Unref() }

// runCycle implements §4.3.2: admission/dispatch, idle worker reaping, idle
// media reaping.
func (s *Scheduler) runCycle() {
	s.mu.Lock()
	schemes := make([]string, 0, len(s.queues))
	for k := range s.queues {
		schemes = append(schemes, k)
	}
	s.mu.Unlock()

	for _, scheme := range schemes {
		s.dispatchScheme(scheme)
	}
	s.reapIdleWorkers()
	s.media.reapIdle(s.mediaIdleTTL(), s.detachMedium)
}

func (s *Scheduler) mediaIdleTTL() time.Duration {
	if s.cfg.MediaIdleTTL > 0 {
		return s.cfg.MediaIdleTTL
	}
	return 60 * time.Second
}

func (s *Scheduler) idleTTL() time.Duration {
	if s.cfg.IdleTTL > 0 {
		return s.cfg.IdleTTL
	}
	return 30 * time.Second
}

func (s *Scheduler) dispatchScheme(scheme string) {
	q := s.queueFor(scheme)
	for q.len() > 0 {
		req, ok := q.pop()
		if !ok {
			return
		}
		w, err := s.pickWorker(scheme, req)
		if err != nil {
			req.item.finish(NewMessage(CodeErrInternal, req.ID).Set("reason", err.Error()))
			continue
		}
		s.dispatch(w, req)
	}
}

// pickWorker implements admission (§4.3.1): reuse an idle worker capable of
// accepting more work, or spawn a new one up to max_instances, honoring
// per-host caps for downloading schemes and SingleInstance/Pipeline
// semantics.
func (s *Scheduler) pickWorker(scheme string, req *ProvideRequest) (*Worker, error) {
	q := s.queueFor(scheme)

	q.mu.Lock()
	for _, w := range q.workers {
		if !w.IsIdle() {
			if w.Caps.Has(CapPipeline) && w.InFlightCount() > 0 {
				q.mu.Unlock()
				return w, nil
			}
			continue
		}
		q.mu.Unlock()
		return w, nil
	}
	numWorkers := len(q.workers)
	singleInstanceRunning := false
	for _, w := range q.workers {
		if w.Caps.Has(CapSingleInstance) {
			singleInstanceRunning = true
		}
	}
	q.mu.Unlock()

	maxInstances := s.cfg.MaxInstancesDefault
	if maxInstances <= 0 {
		maxInstances = 10
	}
	if singleInstanceRunning {
		return nil, cmn.NewErr(cmn.KindResource, 0, "single-instance worker busy for %s", scheme)
	}
	if numWorkers >= maxInstances {
		return nil, cmn.NewErr(cmn.KindResource, 0, "max_instances reached for %s", scheme)
	}

	if host := cmn.HostOf(req.ActiveURL); host != "" {
		sem := s.hostSemFor(host)
		if !sem.TryAcquire(1) {
			return nil, cmn.NewErr(cmn.KindResource, 0, "per-host cap reached for %s", host)
		}
	}

	binPath, config, err := s.locator(scheme)
	if err != nil {
		return nil, err
	}
	w, err := SpawnWorker(context.Background(), binPath, scheme, config)
	if err != nil {
		return nil, err
	}
	q.mu.Lock()
	q.workers = append(q.workers, w)
	q.mu.Unlock()
	return w, nil
}

func (s *Scheduler) dispatch(w *Worker, req *ProvideRequest) {
	req.worker = w
	w.trackRequest(req)

	m := NewMessage(req.Kind, req.ID).Set("url", req.ActiveURL)
	if req.MediaSpec != "" {
		m.Set("mediaSpec", req.MediaSpec)
	}
	if req.Kind == CodeDetach {
		m.Set("attachId", req.AttachID)
	}
	for k, v := range req.Headers {
		m.Set(k, v)
	}
	if err := w.Send(m); err != nil {
		w.untrackRequest(req.ID)
		s.onTerminalFailure(req, NewMessage(CodeErrInternal, req.ID).Set("reason", err.Error()))
		return
	}

	s.wg.Add(1)
	go s.pumpResponses(w, req)
}

// pumpResponses reads messages for a single request until a terminal
// response or cancellation grace expiry (§4.3.3, §4.3.6).
func (s *Scheduler) pumpResponses(w *Worker, req *ProvideRequest) {
	defer s.wg.Done()
	grace := s.cfg.CancelGrace
	if grace <= 0 {
		grace = 5 * time.Second
	}
	var cancelSentAt time.Time

	for {
		if req.item.cancelled() && cancelSentAt.IsZero() {
			_ = w.Send(NewMessage(CodeCancel, req.ID))
			cancelSentAt = time.Now()
		}
		var timeout <-chan time.Time
		if !cancelSentAt.IsZero() {
			timeout = time.After(grace)
		}
		select {
		case m, ok := <-w.recvCh:
			if !ok {
				w.untrackRequest(req.ID)
				s.onTerminalFailure(req, NewMessage(CodeErrConnFailed, req.ID).Set("reason", "worker closed connection").Set("transient", "true"))
				return
			}
			if m.RequestID != req.ID {
				continue
			}
			if s.handleMessage(w, req, m) {
				return
			}
		case <-timeout:
			glog.Warningf("worker %s: cancel grace expired for request %d, killing", w.Name, req.ID)
			_ = w.Kill()
			w.untrackRequest(req.ID)
			s.onTerminalFailure(req, NewMessage(CodeErrCancelled, req.ID).Set("reason", "cancel grace expired"))
			return
		}
	}
}

// handleMessage processes one worker response, returning true when the
// request has reached a terminal outcome.
func (s *Scheduler) handleMessage(w *Worker, req *ProvideRequest, m *Message) bool {
	switch m.Code {
	case CodeProvideStarted:
		return false
	case CodeProvideFinished, CodeAttachFinished, CodeDetachFinished:
		w.untrackRequest(req.ID)
		w.MarkIdle()
		req.item.finish(m)
		return true
	case CodeAuthRequired:
		s.handleAuthRequired(w, req, m)
		return false
	case CodeRedirect:
		return s.handleRedirect(w, req, m)
	case CodeMetalink:
		// Multiple usable URLs: treat as a new origin and let fail-over /
		// the fetch engine pick it up on the next scheduling cycle.
		w.untrackRequest(req.ID)
		req.item.finish(m)
		return true
	default:
		if m.Code.IsError() {
			w.untrackRequest(req.ID)
			w.MarkIdle()
			if m.IsTransient() || transientCode(m.Code) {
				if s.failover(req, m) {
					return true // exhausted, terminal
				}
				return false // re-dispatched on a new mirror
			}
			s.onTerminalFailure(req, m)
			return true
		}
		return false
	}
}

func transientCode(c Code) bool {
	switch c {
	case CodeErrConnFailed, CodeErrTimeout, CodeErrMountFailed, CodeErrMediumNotDesired:
		return true
	default:
		return false
	}
}

// failover implements §4.3.3: try the next URL in the origin; if exhausted,
// complete with the first exception and the remaining failures appended to
// history.
func (s *Scheduler) failover(req *ProvideRequest, failure *Message) bool {
	req.item.mu.Lock()
	if req.item.Result == nil {
		req.item.Result = failure
	} else {
		req.item.Result.Headers["history"] = req.item.Result.Headers["history"] + "; " + failure.Reason()
	}
	req.item.mu.Unlock()

	if req.Tried == nil {
		req.Tried = make(map[string]bool)
	}
	req.Tried[req.ActiveURL] = true

	remaining := req.remainingURLs()
	if len(remaining) == 0 {
		req.item.finish(req.item.Result)
		return true
	}
	req.ActiveURL = remaining[0]
	scheme, err := cmn.ParseScheme(req.ActiveURL)
	if err != nil {
		req.item.finish(req.item.Result)
		return true
	}
	s.queueFor(s.effectiveScheme(scheme)).push(req)
	return false
}

func (s *Scheduler) onTerminalFailure(req *ProvideRequest, failure *Message) {
	req.item.finish(failure)
}

func (s *Scheduler) handleAuthRequired(w *Worker, req *ProvideRequest, m *Message) {
	usernameHint := m.Get("usernameHint")
	lastTry, _ := time.Parse(time.RFC3339, m.Get("lastAuthTimestamp"))
	key := authKey(req.ActiveURL, usernameHint)
	go func() {
		cred, err := s.auth.resolveAuth(key, req.ActiveURL, usernameHint, lastTry, s.prompt)
		if err != nil {
			_ = w.Send(NewMessage(CodeCancel, req.ID))
			return
		}
		reply := NewMessage(CodeAuthInfo, req.ID).Set("username", cred.Username).Set("password", cred.Password)
		_ = w.Send(reply)
	}()
}

// handleRedirect implements §4.3.3 redirect semantics for code 300. Returns
// true if the request reached a terminal state.
func (s *Scheduler) handleRedirect(w *Worker, req *ProvideRequest, m *Message) bool {
	target := m.Get("location")
	curScheme, err1 := cmn.ParseScheme(req.ActiveURL)
	newScheme, err2 := cmn.ParseScheme(target)
	if err1 != nil || err2 != nil ||
		cmn.ClassOf(curScheme, s.cfg.SchemeAliases) != cmn.SchemeDownloading ||
		cmn.ClassOf(newScheme, s.cfg.SchemeAliases) != cmn.SchemeDownloading {
		w.untrackRequest(req.ID)
		w.MarkIdle()
		s.onTerminalFailure(req, NewMessage(CodeErrBadRequest, req.ID).Set("reason", "redirect to non-downloading scheme"))
		return true
	}
	if req.PastRedirects[target] {
		w.untrackRequest(req.ID)
		w.MarkIdle()
		s.onTerminalFailure(req, NewMessage(CodeErrBadRequest, req.ID).Set("reason", "redirect loop detected"))
		return true
	}
	req.PastRedirects[req.ActiveURL] = true
	req.ActiveURL = target

	w.untrackRequest(req.ID)
	w.MarkIdle()
	s.queueFor(s.effectiveScheme(newScheme)).push(req)
	return false
}

func (s *Scheduler) detachMedium(m *AttachedMediaInfo) {
	if m.owner == nil {
		return
	}
	msg := NewMessage(CodeDetach, s.nextID.Inc()).Set("attachId", m.AttachID)
	if err := m.owner.Send(msg); err != nil {
		glog.Warningf("detach %s: %v", m.AttachID, err)
	}
}

// reapIdleWorkers implements §4.3.2 step 2.
func (s *Scheduler) reapIdleWorkers() {
	ttl := s.idleTTL()
	now := time.Now()

	s.mu.Lock()
	queues := make([]*queue, 0, len(s.queues))
	for _, q := range s.queues {
		queues = append(queues, q)
	}
	s.mu.Unlock()

	for _, q := range queues {
		q.mu.Lock()
		keep := q.workers[:0]
		var victims []*Worker
		for _, w := range q.workers {
			if w.IsIdle() && now.Sub(w.IdleSince()) > ttl {
				victims = append(victims, w)
				continue
			}
			keep = append(keep, w)
		}
		q.workers = keep
		q.mu.Unlock()

		for _, w := range victims {
			if err := w.Kill(); err != nil {
				glog.Warningf("reap worker %s: %v", w.Name, err)
			}
		}
	}
}

// DrainAll kills every worker process of every scheme queue, used on daemon
// shutdown; it does not cancel queued requests or wait for in-flight ones to
// settle. Grounded on the teacher's errgroup-based shutdown idiom.
func (s *Scheduler) DrainAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	s.mu.Lock()
	for _, q := range s.queues {
		q := q
		g.Go(func() error {
			q.mu.Lock()
			workers := append([]*Worker(nil), q.workers...)
			q.mu.Unlock()
			for _, w := range workers {
				if err := w.Kill(); err != nil {
					return err
				}
			}
			return nil
		})
	}
	s.mu.Unlock()
	return g.Wait()
}
