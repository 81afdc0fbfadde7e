package fetch

import (
	"context"
	"net"
	"sync"
	"time"
)

// resolver implements §4.4.3's DNS pre-check: confirm a mirror's host
// resolves before handing work to it, remembering successes for the
// engine's lifetime. The original forks a short-lived child calling
// getaddrinfo under an alarm; Go's net.Resolver already performs
// cancellable, timeout-bound resolution on its own goroutine without a
// subprocess, so that is what this does instead (see DESIGN.md).
type resolver struct {
	mu    sync.Mutex
	good  map[string]bool
	timeout time.Duration
}

func newResolver(timeout time.Duration) *resolver {
	return &resolver{good: make(map[string]bool), timeout: timeout}
}

// precheck reports whether host resolves, skipping the lookup entirely for
// numeric literals and hosts already confirmed this engine run.
func (r *resolver) precheck(host string) bool {
	if net.ParseIP(host) != nil {
		return true
	}
	r.mu.Lock()
	if ok, seen := r.good[host]; seen {
		r.mu.Unlock()
		return ok
	}
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	_, err := net.DefaultResolver.LookupHost(ctx, host)
	ok := err == nil

	r.mu.Lock()
	r.good[host] = ok
	r.mu.Unlock()
	return ok
}
