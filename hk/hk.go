// Package hk implements a small housekeeping registrar: named callbacks
// that self-reschedule by returning their next interval, grounded on the
// teacher's hk.Reg usage (cluster/lom_cache_hk.go: "hk.Reg(name, fn,
// interval)"). cmd/zyppd registers the periodic autorefresh sweep through
// it; the provider scheduler's own worker/media reaping runs on its
// latency-sensitive pulse ticker instead, since that loop needs a fixed
// short period rather than a self-rescheduling one.
package hk

import (
	"sync"
	"time"

	"github.com/golang/glog"
)

type entry struct {
	name string
	fn   func() time.Duration
	timer *time.Timer
}

type registrar struct {
	mu      sync.Mutex
	entries map[string]*entry
	stopCh  chan struct{}
}

var def = &registrar{entries: make(map[string]*entry)}

// Reg registers fn to run every interval, then every duration fn itself
// returns. A zero or negative returned duration re-uses the last interval.
func Reg(name string, fn func() time.Duration, interval time.Duration) {
	def.reg(name, fn, interval)
}

// Unreg cancels a previously registered callback.
func Unreg(name string) {
	def.unreg(name)
}

func (r *registrar) reg(name string, fn func() time.Duration, interval time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := &entry{name: name, fn: fn}
	e.timer = time.AfterFunc(interval, func() { r.fire(e, interval) })
	r.entries[name] = e
}

func (r *registrar) fire(e *entry, last time.Duration) {
	next := e.fn()
	if next <= 0 {
		next = last
	}
	r.mu.Lock()
	if _, ok := r.entries[e.name]; !ok {
		r.mu.Unlock()
		return // unregistered while running
	}
	e.timer = time.AfterFunc(next, func() { r.fire(e, next) })
	r.mu.Unlock()
}

func (r *registrar) unreg(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[name]; ok {
		e.timer.Stop()
		delete(r.entries, name)
	}
}

func init() {
	glog.V(4).Info("hk: registrar initialized")
}
