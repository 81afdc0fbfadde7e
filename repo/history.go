package repo

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pierrec/lz4/v3"

	"github.com/openSUSE/libzypp-sub001/cmn/cos"
)

// History appends a line per registry mutation to the configured history
// file (§6.1), rotating and lz4-compressing the previous file before an
// append would take it past rotateSize (grounded on the teacher's per-target activity log,
// here narrowed to the fixed single history file named in the layout).
type History struct {
	path       string
	rotateSize int64

	mu sync.Mutex
}

const defaultRotateSize = 1 << 20 // 1 MiB

func NewHistory(path string) *History {
	return &History{path: path, rotateSize: defaultRotateSize}
}

// Append writes one "<RFC3339> <kind> <alias>" line, creating parent
// directories as needed. Failures are silently ignored and never reported
// to the caller; history is best-effort bookkeeping, never a correctness
// dependency.
func (h *History) Append(kind, alias string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	line := fmt.Sprintf("%s %s %s\n", time.Now().Format(time.RFC3339), kind, alias)
	if fi, err := os.Stat(h.path); err == nil && fi.Size()+int64(len(line)) > h.rotateSize {
		_ = h.rotate()
	}

	if err := os.MkdirAll(filepath.Dir(h.path), 0o755); err != nil {
		return
	}
	f, err := os.OpenFile(h.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer cos.Close(f)
	_, _ = f.WriteString(line)
}

// rotate compresses the current history file to
// <path>.<YYYYMMDDhhmmss>.lz4 and removes it, so the next append starts a
// fresh one.
func (h *History) rotate() error {
	src, err := os.Open(h.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer cos.Close(src)

	dstPath := h.path + "." + time.Now().Format("20060102150405") + ".lz4"
	dst, err := cos.CreateFile(dstPath)
	if err != nil {
		return err
	}
	defer cos.Close(dst)

	zw := lz4.NewWriter(dst)
	if _, err := io.Copy(zw, src); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return os.Remove(h.path)
}
