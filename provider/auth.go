package provider

import (
	"crypto/rand"
	"sync"
	"time"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/sync/singleflight"

	"github.com/openSUSE/libzypp-sub001/cmn"
)

// Credentials is the answer to an auth prompt.
type Credentials struct {
	Username  string
	Password  string
	Timestamp time.Time
}

// credentialCache stores answers keyed by (effective-url, username-hint),
// encrypted at rest with a process-lifetime nacl/secretbox key -- the auth
// coalescing cache is the one place this service persists plaintext-ish
// secrets, so ambient-security wiring encrypts them the way the ambient
// stack treats every other on-disk artifact with care (SPEC_FULL.md §2).
type credentialCache struct {
	mu      sync.RWMutex
	entries map[string]sealedCred
	key     [32]byte

	// coalesce ensures a single in-flight prompt per key, matching §4.3.4:
	// "subsequent 700s for the same key block on the in-flight prompt and
	// receive the same answer."
	coalesce singleflight.Group
}

type sealedCred struct {
	nonce [24]byte
	box   []byte
	ts    time.Time
}

func newCredentialCache() *credentialCache {
	c := &credentialCache{entries: make(map[string]sealedCred)}
	_, _ = rand.Read(c.key[:])
	return c
}

func authKey(effectiveURL, usernameHint string) string {
	return effectiveURL + "\x00" + usernameHint
}

func (c *credentialCache) get(key string) (Credentials, bool) {
	c.mu.RLock()
	sc, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return Credentials{}, false
	}
	plain, ok := secretbox.Open(nil, sc.box, &sc.nonce, &c.key)
	if !ok {
		return Credentials{}, false
	}
	parts := splitNUL(plain)
	if len(parts) != 2 {
		return Credentials{}, false
	}
	return Credentials{Username: parts[0], Password: parts[1], Timestamp: sc.ts}, true
}

func (c *credentialCache) put(key string, cred Credentials) {
	plain := append([]byte(cred.Username), 0)
	plain = append(plain, []byte(cred.Password)...)
	var sc sealedCred
	_, _ = rand.Read(sc.nonce[:])
	sc.box = secretbox.Seal(nil, plain, &sc.nonce, &c.key)
	sc.ts = cred.Timestamp
	c.mu.Lock()
	c.entries[key] = sc
	c.mu.Unlock()
}

func splitNUL(b []byte) []string {
	for i, c := range b {
		if c == 0 {
			return []string{string(b[:i]), string(b[i+1:])}
		}
	}
	return nil
}

// PromptFunc is the interactive credential manager collaborator (out of
// scope per spec.md §1; invoked through this narrow interface).
type PromptFunc func(effectiveURL, usernameHint string) (Credentials, error)

// resolveAuth implements §4.3.4: the first 700 for a key invokes prompt;
// concurrent callers for the same key block on the same singleflight call
// and get the same answer. If the worker's lastAuthTimestamp is newer than
// our cached answer, the cache is considered stale and re-prompted.
func (c *credentialCache) resolveAuth(key, effectiveURL, usernameHint string, lastAuthTimestamp time.Time, prompt PromptFunc) (Credentials, error) {
	if cached, ok := c.get(key); ok && !lastAuthTimestamp.After(cached.Timestamp) {
		return cached, nil
	}
	v, err, _ := c.coalesce.Do(key, func() (interface{}, error) {
		cred, err := prompt(effectiveURL, usernameHint)
		if err != nil {
			return nil, cmn.NewErr(cmn.KindAuth, int(CodeErrNoAuthData), "auth prompt failed: %v", err)
		}
		cred.Timestamp = time.Now()
		c.put(key, cred)
		return cred, nil
	})
	if err != nil {
		return Credentials{}, err
	}
	return v.(Credentials), nil
}
