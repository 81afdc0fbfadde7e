package fetch

import (
	"context"
	"math"
	"os"
	"sync"
	"time"

	"github.com/openSUSE/libzypp-sub001/cmn"
)

// Engine owns a destination file, a parsed BlockList, and a mirror list,
// dispatching a bounded worker pool across them per §4.4.2-§4.4.7. Its
// outer loop is a plain goroutine-per-worker fan-in instead of the curl
// multi-socket readiness primitive the original polls: Go's scheduler
// already multiplexes blocking I/O across OS threads, so one goroutine per
// worker gets the same concurrency without hand-rolled socket polling (see
// DESIGN.md).
type Engine struct {
	cfg       cmn.FetchConfig
	dest      *os.File
	blockList *BlockList
	mirrors   []string
	fetcher   Fetcher
	resolver  *resolver

	mu           sync.Mutex
	workers      []*Worker
	lastErr      error
	lastProgress time.Time
	goodBytes    int64

	expectedDigest string // whole-file SHA-256, set by SetExpectedDigest
}

// SetExpectedDigest records the whole-file digest Run verifies against once
// every block is Finalized (§4.4.8). Leaving it unset skips the check, for
// sources that carry no whole-file digest.
func (e *Engine) SetExpectedDigest(hexDigest string) {
	e.expectedDigest = hexDigest
}

// NewEngine wires a BlockList already produced by PlanBlocks to up to
// cfg.MaxConns workers, one per mirror URL, cycling mirrors when there are
// fewer of them than connections (§4.4.2: "up to max_conns workers... each
// bound to one mirror URL").
func NewEngine(dest *os.File, bl *BlockList, mirrors []string, cfg cmn.FetchConfig, fetcher Fetcher) (*Engine, error) {
	if len(mirrors) == 0 {
		return nil, cmn.NewErr(cmn.KindInvalidInput, 0, "multi-range fetch requires at least one mirror URL")
	}
	if fetcher == nil {
		fetcher = newHTTPFetcher()
	}
	e := &Engine{
		cfg:          cfg,
		dest:         dest,
		blockList:    bl,
		mirrors:      mirrors,
		fetcher:      fetcher,
		resolver:     newResolver(cfg.ConnectTimeout),
		lastProgress: time.Now(),
	}
	n := cfg.MaxConns
	if n <= 0 {
		n = 10
	}
	if n > len(bl.Stripes) && len(bl.Stripes) > 0 {
		n = len(bl.Stripes)
	}
	for i := 0; i < n; i++ {
		e.workers = append(e.workers, newWorker(i, mirrors[i%len(mirrors)]))
	}
	return e, nil
}

// Run drives every worker to completion and returns the first Broken
// worker's error when blocks remain unfinished once every worker is Broken
// or Done. A worker that goes Broken is not replaced: only the workers
// NewEngine created run, so mirror URLs beyond those assigned to them are
// never used.
func (e *Engine) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, w := range e.workers {
		wg.Add(1)
		go e.runWorker(ctx, w, &wg)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	timeout := e.cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return e.finalError()
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.mu.Lock()
			stale := time.Since(e.lastProgress) > timeout
			e.mu.Unlock()
			if stale {
				return cmn.NewErr(cmn.KindTransient, 0, "multi-range fetch: no progress for %s", timeout)
			}
		}
	}
}

func (e *Engine) finalError() error {
	if !e.allFinalized() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.lastErr != nil {
			return e.lastErr
		}
		return cmn.NewErr(cmn.KindTransient, 0, "multi-range fetch ended with unfinished blocks")
	}
	if e.expectedDigest == "" {
		return nil
	}
	if err := e.dest.Sync(); err != nil {
		return err
	}
	return VerifyWholeFile(e.dest.Name(), e.expectedDigest)
}

func (e *Engine) allFinalized() bool {
	for _, s := range e.blockList.Stripes {
		if !s.allFinalized() {
			return false
		}
	}
	return true
}

func (e *Engine) runWorker(ctx context.Context, w *Worker, wg *sync.WaitGroup) {
	defer wg.Done()
	w.setState(LookupState)

	host := cmn.HostOf(w.Mirror)
	if host != "" && !cmn.ProxyOverride(schemeOf(w.Mirror)) {
		if !e.resolver.precheck(host) {
			w.mu.Lock()
			w.lastErr = cmn.NewErr(cmn.KindTransient, 0, "dns pre-check failed for %s", host)
			w.mu.Unlock()
			w.setState(Broken)
			e.recordBroken(w)
			return
		}
	}
	w.setState(FetchState)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		idx, pass, stealing := e.nextJob(w)
		if idx < 0 {
			return // Done, set by nextJob
		}
		w.mu.Lock()
		w.stripeIdx = idx
		w.pass = pass
		w.mu.Unlock()

		if err := e.runJob(ctx, w, idx, stealing); err != nil {
			w.mu.Lock()
			w.lastErr = err
			w.mu.Unlock()
			w.setState(Broken)
			e.recordBroken(w)
			return
		}

		if backoff := e.backoffFor(w); backoff > 0 {
			w.setState(Sleep)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			w.setState(FetchState)
		}
	}
}

// runJob implements §4.4.5 for every block of one stripe.
func (e *Engine) runJob(ctx context.Context, w *Worker, stripeIdx int, stealing bool) error {
	stripe := e.blockList.Stripes[stripeIdx]
	for i, blockIdx := range stripe.Blocks {
		block := e.blockList.Blocks[blockIdx]

		if stripe.get(i) == Finalized {
			continue // another worker already finished this one; no bytes written
		}

		claimedFirst := stripe.compareAndSet(i, Pending, Fetch)
		if !claimedFirst {
			stripe.set(i, Competing)
		}

		w.mu.Lock()
		w.remaining = block.Size
		w.mu.Unlock()

		start := time.Now()
		data, err := e.fetcher.FetchRange(w.Mirror, block.Offset, block.Size, e.cfg.RequestTimeout)
		if err != nil {
			stripe.set(i, Refetch)
			return err
		}
		w.recordThroughput(int64(len(data)), time.Since(start))
		e.touchProgress()

		if stripe.get(i) == Finalized {
			continue // the competing peer already won; self-discard with no write
		}

		ok := verifyBlock(block, data)
		if !ok {
			stripe.set(i, Refetch)
			continue
		}
		if _, err := e.dest.WriteAt(data, block.Offset); err != nil {
			return err
		}
		stripe.set(i, Finalized)
		e.mu.Lock()
		e.goodBytes += int64(len(data))
		e.mu.Unlock()
	}
	return nil
}

func (e *Engine) touchProgress() {
	e.mu.Lock()
	e.lastProgress = time.Now()
	e.mu.Unlock()
}

// recordBroken keeps the first worker failure as the primary cause and
// appends every subsequent one to its history (§8.6: "fails with the first
// error as cause; the error's history contains all subsequent attempts in
// order"), instead of discarding every failure after the first.
func (e *Engine) recordBroken(w *Worker) {
	w.mu.Lock()
	cause := w.lastErr
	w.mu.Unlock()
	if cause == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastErr == nil {
		e.lastErr = cause
		return
	}
	if primary, ok := e.lastErr.(*cmn.Err); ok {
		primary.Wrap(cause)
	}
}

// backoffFor implements the §4.4.6 slow-worker backoff: sleep r^2 seconds
// (capped at 1s) when trailing the fastest peer by ratio r.
func (e *Engine) backoffFor(w *Worker) time.Duration {
	fastest := 0.0
	for _, peer := range e.workers {
		if s := peer.speed(); s > fastest {
			fastest = s
		}
	}
	mine := w.speed()
	if fastest <= 0 || mine <= 0 || mine >= fastest {
		return 0
	}
	r := mine / fastest
	secs := math.Min(r*r, 1.0)
	return time.Duration(secs * float64(time.Second))
}

func schemeOf(raw string) string {
	s, err := cmn.ParseScheme(raw)
	if err != nil {
		return ""
	}
	return s
}
