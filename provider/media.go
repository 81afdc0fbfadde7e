package provider

import (
	"strconv"
	"sync"
	"time"

	"github.com/teris-io/shortid"

	"github.com/openSUSE/libzypp-sub001/cmn"
)

// AttachedMediaInfo is shared between the scheduler and user handles; the
// scheduler holds exactly one strong reference while cached, callers add
// further references (§3.2, §3.3 invariant 6).
type AttachedMediaInfo struct {
	AttachID   string
	WorkerType WorkerType
	URLs       []string
	MediaSpec  string // content-id, when present
	MountPoint string
	owner      *Worker

	mu       sync.Mutex
	refcount int
	idleAt   time.Time
}

func newAttachID() string {
	id, err := shortid.Generate()
	if err != nil {
		return "attach-" + strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return id
}

// Ref/Unref implement the refcounted ownership handle called for in §9
// ("Shared reference-counted wrappers ... -> ownership handles whose
// destructor performs the disposer action").
func (m *AttachedMediaInfo) Ref() {
	m.mu.Lock()
	m.refcount++
	m.mu.Unlock()
}

// Unref drops a reference. When only the scheduler's own reference remains
// the idle timer starts (§3.3 invariant 6).
func (m *AttachedMediaInfo) Unref() {
	m.mu.Lock()
	m.refcount--
	if m.refcount <= 1 {
		m.idleAt = time.Now()
	}
	m.mu.Unlock()
}

func (m *AttachedMediaInfo) onlySchedulerHolds() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refcount <= 1
}

func (m *AttachedMediaInfo) idleSince() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.idleAt
}

// mediaCache keys AttachedMediaInfo by (sorted URL set, media-spec content
// id) per §4.3.5.
type mediaCache struct {
	mu    sync.Mutex
	byKey map[string]*AttachedMediaInfo
}

func newMediaCache() *mediaCache {
	return &mediaCache{byKey: make(map[string]*AttachedMediaInfo)}
}

func attachKey(origin *cmn.MirroredOrigin, mediaSpec string) string {
	return origin.SortedKey() + "\x00" + mediaSpec
}

func (c *mediaCache) lookup(key string) (*AttachedMediaInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.byKey[key]
	return m, ok
}

func (c *mediaCache) insert(key string, m *AttachedMediaInfo) {
	c.mu.Lock()
	c.byKey[key] = m
	c.mu.Unlock()
}

func (c *mediaCache) remove(key string) {
	c.mu.Lock()
	delete(c.byKey, key)
	c.mu.Unlock()
}

// reapIdle implements §4.3.2 step 3: detach media whose only strong holder
// is the scheduler and whose idle time exceeds ttl.
func (c *mediaCache) reapIdle(ttl time.Duration, detach func(*AttachedMediaInfo)) {
	c.mu.Lock()
	var victims []string
	now := time.Now()
	for k, m := range c.byKey {
		if m.onlySchedulerHolds() && now.Sub(m.idleSince()) > ttl {
			victims = append(victims, k)
		}
	}
	c.mu.Unlock()

	for _, k := range victims {
		c.mu.Lock()
		m := c.byKey[k]
		delete(c.byKey, k)
		c.mu.Unlock()
		if m != nil {
			detach(m)
		}
	}
}
