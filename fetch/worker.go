package fetch

import (
	"sync"
	"sync/atomic"
	"time"
)

// WorkerState is a mirror worker's position in the §4.4.2 state machine.
type WorkerState uint8

const (
	Starting WorkerState = iota
	LookupState
	FetchState
	Discard
	Done
	Sleep
	Broken
)

// Worker fetches blocks from one mirror URL, stealing stripes from peers
// still fetching an unfinished stripe once its own assignment is exhausted
// (§4.4.4).
type Worker struct {
	ID     int
	Mirror string

	mu         sync.Mutex
	state      WorkerState
	stripeIdx  int
	pass       int32
	bytesDone  int64
	avgSpeed   float64 // bytes/sec, exponential moving average
	lastErr    error
	remaining  int64 // remaining bytes of the block currently in flight
	resolvedOK bool
}

func newWorker(id int, mirror string) *Worker {
	return &Worker{ID: id, Mirror: mirror, state: Starting, stripeIdx: -1}
}

func (w *Worker) State() WorkerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) setState(s WorkerState) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

func (w *Worker) Pass() int32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pass
}

func (w *Worker) StripeIdx() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stripeIdx
}

func (w *Worker) recordThroughput(n int64, elapsed time.Duration) {
	if elapsed <= 0 {
		return
	}
	rate := float64(n) / elapsed.Seconds()
	w.mu.Lock()
	w.bytesDone += n
	if w.avgSpeed == 0 {
		w.avgSpeed = rate
	} else {
		// standard EMA, alpha chosen to react within a handful of blocks
		const alpha = 0.3
		w.avgSpeed = alpha*rate + (1-alpha)*w.avgSpeed
	}
	w.mu.Unlock()
}

func (w *Worker) speed() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.avgSpeed
}

func (w *Worker) eta() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.avgSpeed <= 0 {
		return 1e18
	}
	return float64(w.remaining) / w.avgSpeed
}

// nextJob claims the next unclaimed stripe, or enters stealing mode against
// peers when the plan is exhausted (§4.4.4).
func (e *Engine) nextJob(w *Worker) (stripeIdx int, pass int32, stealing bool) {
	if idx := e.claimUnclaimedStripe(); idx >= 0 {
		return idx, 0, false
	}
	best := e.bestStealCandidate(w)
	if best == nil {
		w.setState(Done)
		return -1, 0, false
	}
	return best.StripeIdx(), best.Pass() + 1, true
}

func (e *Engine) claimUnclaimedStripe() int {
	for {
		idx := atomic.LoadInt32(&e.blockList.next)
		if int(idx) >= len(e.blockList.Stripes) {
			return -1
		}
		if e.blockList.casNext(idx, idx+1) {
			return int(idx)
		}
	}
}

// bestStealCandidate implements the §4.4.4 best-candidate rule.
func (e *Engine) bestStealCandidate(self *Worker) *Worker {
	var best *Worker
	for _, w := range e.workers {
		if w == self {
			continue
		}
		switch w.State() {
		case Discard, Done, Sleep, Broken:
			continue
		}
		if w.Pass() == -1 {
			continue
		}
		if idx := w.StripeIdx(); idx < 0 || idx >= len(e.blockList.Stripes) || e.blockList.Stripes[idx].allFinalized() {
			continue // nothing left to steal from this peer's current stripe
		}
		if best == nil {
			best = w
			continue
		}
		bp, wp := best.Pass(), w.Pass()
		switch {
		case bp > wp:
			best = w
		case bp < wp:
			// skip
		case best.StripeIdx() == w.StripeIdx():
			if w.eta() < best.eta() {
				best = w
			}
		default:
			if w.eta() > best.eta() {
				best = w
			}
		}
	}
	return best
}
