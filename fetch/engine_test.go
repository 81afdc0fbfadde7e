package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/openSUSE/libzypp-sub001/cmn"
)

// memFetcher serves ranges out of an in-memory source, letting tests drive
// the stealing/finalization state machine without real sockets.
type memFetcher struct {
	mu     sync.Mutex
	src    []byte
	delay  time.Duration
	failOn map[string]bool // "mirror|offset" -> force an error once
}

func (m *memFetcher) FetchRange(url string, offset, size int64, timeout time.Duration) ([]byte, error) {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := url + "|" + strconv.FormatInt(offset, 10)
	if m.failOn[key] {
		delete(m.failOn, key)
		return nil, cmn.NewErr(cmn.KindTransient, 0, "forced failure for %s", key)
	}
	out := make([]byte, size)
	copy(out, m.src[offset:offset+size])
	return out, nil
}

func digestOf(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func TestPlanBlocksSynthesizesWhenNoneSupplied(t *testing.T) {
	cfg := cmn.FetchConfig{MaxConns: 4, MinBlockSize: 1024}
	bl, err := PlanBlocks(10000, nil, cfg)
	if err != nil {
		t.Fatalf("PlanBlocks: %v", err)
	}
	if len(bl.Blocks) == 0 {
		t.Fatalf("expected synthesized blocks")
	}
	var total int64
	for _, b := range bl.Blocks {
		total += b.Size
	}
	if total != 10000 {
		t.Fatalf("expected blocks to cover the whole file, got %d", total)
	}
}

func TestPlanBlocksErrorsWithNoSizeOrList(t *testing.T) {
	cfg := cmn.FetchConfig{MaxConns: 4, MinBlockSize: 1024}
	if _, err := PlanBlocks(0, nil, cfg); err == nil {
		t.Fatalf("expected an error when neither blocklist nor filesize is known")
	}
}

func TestEngineRunWritesAllBlocksAndVerifiesWholeFile(t *testing.T) {
	src := make([]byte, 20000)
	for i := range src {
		src[i] = byte(i % 251)
	}
	cfg := cmn.FetchConfig{MaxConns: 3, MinBlockSize: 2048, RequestTimeout: 5 * time.Second}
	bl, err := PlanBlocks(int64(len(src)), nil, cfg)
	if err != nil {
		t.Fatalf("PlanBlocks: %v", err)
	}

	dir := t.TempDir()
	dest, err := os.Create(dir + "/out.bin")
	if err != nil {
		t.Fatalf("create dest: %v", err)
	}
	defer dest.Close()
	if err := dest.Truncate(int64(len(src))); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	eng, err := NewEngine(dest, bl, []string{"http://127.0.0.1/file", "http://127.0.0.2/file"}, cfg, &memFetcher{src: src})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	eng.SetExpectedDigest(digestOf(src))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := eng.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, err := os.ReadFile(dir + "/out.bin")
	if err != nil {
		t.Fatalf("read dest: %v", err)
	}
	if len(got) != len(src) {
		t.Fatalf("expected %d bytes written, got %d", len(src), len(got))
	}
	for i := range src {
		if got[i] != src[i] {
			t.Fatalf("byte mismatch at offset %d", i)
		}
	}

	if err := VerifyWholeFile(dir+"/out.bin", digestOf(src)); err != nil {
		t.Fatalf("VerifyWholeFile: %v", err)
	}
}

func TestEngineRunDetectsWholeFileMismatch(t *testing.T) {
	src := make([]byte, 4096)
	cfg := cmn.FetchConfig{MaxConns: 2, MinBlockSize: 1024, RequestTimeout: 5 * time.Second}
	bl, err := PlanBlocks(int64(len(src)), nil, cfg)
	if err != nil {
		t.Fatalf("PlanBlocks: %v", err)
	}

	dir := t.TempDir()
	dest, err := os.Create(dir + "/out.bin")
	if err != nil {
		t.Fatalf("create dest: %v", err)
	}
	defer dest.Close()
	if err := dest.Truncate(int64(len(src))); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	eng, err := NewEngine(dest, bl, []string{"http://127.0.0.1/file"}, cfg, &memFetcher{src: src})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	eng.SetExpectedDigest(digestOf([]byte("not the actual content")))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := eng.Run(ctx); err == nil {
		t.Fatalf("expected Run to fail on a whole-file digest mismatch")
	}
}

func TestVerifyWholeFileDetectsMismatch(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/f"
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := VerifyWholeFile(path, digestOf([]byte("goodbye"))); err == nil {
		t.Fatalf("expected a digest mismatch error")
	}
}

func TestVerifyBlockAcceptsBlockWithNoDigest(t *testing.T) {
	if !verifyBlock(Block{}, []byte("anything")) {
		t.Fatalf("expected a block with no checksum to always verify")
	}
}

func TestVerifyBlockRejectsBadDigest(t *testing.T) {
	b := Block{Checksum: digestOf([]byte("expected"))}
	if verifyBlock(b, []byte("actual")) {
		t.Fatalf("expected checksum mismatch to be rejected")
	}
}

func TestBestStealCandidateIgnoresInactiveWorkers(t *testing.T) {
	bl := &BlockList{Stripes: []*Stripe{{Blocks: []int{0}, State: []BlockState{Pending}}}}
	eng := &Engine{blockList: bl}
	w1 := newWorker(1, "http://a")
	w1.setState(Done)
	w2 := newWorker(2, "http://b")
	w2.setState(FetchState)
	w2.stripeIdx = 0
	eng.workers = []*Worker{w1, w2}

	self := newWorker(0, "http://c")
	best := eng.bestStealCandidate(self)
	if best != w2 {
		t.Fatalf("expected the only active worker to be chosen, got %+v", best)
	}
}
