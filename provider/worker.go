package provider

import (
	"context"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/golang/glog"
	"go.uber.org/atomic"

	"github.com/openSUSE/libzypp-sub001/cmn"
	"github.com/openSUSE/libzypp-sub001/wire"
)

// WorkerState tracks admission bookkeeping for one spawned worker process.
type WorkerState uint8

const (
	WorkerStarting WorkerState = iota
	WorkerIdle
	WorkerBusy
	WorkerStopping
	WorkerDead
)

// Worker is one long-running child process implementing a single access
// scheme, talking the frame protocol over its stdin/stdout (§4.2, §5:
// "independent OS processes ... spawned with close-on-exec").
type Worker struct {
	Scheme string
	Name   string // from WorkerCaps
	Type   WorkerType
	Caps   Caps

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	reader *wire.Reader
	writer *wire.Writer

	mu      sync.Mutex
	state   WorkerState
	idle    atomic.Bool
	idleAt  time.Time
	inFlt   map[uint32]*ProvideRequest
	recvCh  chan *Message
	closeCh chan struct{}
}

// SpawnWorker starts the worker binary for scheme and performs the
// handshake of §4.2: the scheduler writes ProviderConfiguration, the worker
// replies with WorkerCaps.
func SpawnWorker(ctx context.Context, binPath, scheme string, config map[string]string) (*Worker, error) {
	cmd := exec.CommandContext(ctx, binPath, scheme)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = os.Stderr // inherits parent stderr for logs per §5

	if err := cmd.Start(); err != nil {
		return nil, cmn.NewErr(cmn.KindInternal, 0, "spawn worker for scheme %s: %v", scheme, err)
	}

	w := &Worker{
		Scheme:  scheme,
		cmd:     cmd,
		stdin:   stdin,
		reader:  wire.NewReader(stdout),
		writer:  wire.NewWriter(stdin),
		state:   WorkerStarting,
		inFlt:   make(map[uint32]*ProvideRequest),
		recvCh:  make(chan *Message, 32),
		closeCh: make(chan struct{}),
	}

	if err := w.handshake(config); err != nil {
		_ = w.Kill()
		return nil, err
	}

	go w.recvLoop()
	return w, nil
}

func (w *Worker) handshake(config map[string]string) error {
	cfg := wire.NewFrame("ProviderConfiguration")
	for k, v := range config {
		cfg.Set(k, v)
	}
	if err := w.writer.WriteFrame(cfg); err != nil {
		return cmn.NewErr(cmn.KindInternal, 0, "write ProviderConfiguration: %v", err)
	}
	reply, err := w.reader.ReadFrame()
	if err != nil {
		return cmn.NewErr(cmn.KindInternal, 0, "read WorkerCaps: %v", err)
	}
	if reply.Command != "WorkerCaps" {
		return cmn.WrapPkg(cmn.NewErr(cmn.KindInternal, 0, "expected WorkerCaps, got %q", reply.Command), "worker handshake")
	}
	ver, _ := strconv.ParseUint(reply.Headers["protocol-version"], 10, 32)
	if uint32(ver) != ProtocolVersion {
		return cmn.NewErr(cmn.KindConfiguration, 0, "unsupported protocol version %d", ver)
	}
	w.Type = WorkerType(reply.Headers["worker-type"])
	w.Name = reply.Headers["worker-name"]
	capBits, _ := strconv.ParseUint(reply.Headers["capabilities"], 10, 8)
	w.Caps = Caps(capBits)
	w.state = WorkerIdle
	w.idle.Store(true)
	return nil
}

func (w *Worker) recvLoop() {
	defer close(w.recvCh)
	for {
		f, err := w.reader.ReadFrame()
		if err != nil {
			if err != io.EOF {
				glog.Warningf("worker %s: recv loop ended: %v", w.Name, err)
			}
			return
		}
		m, err := FromFrame(f)
		if err != nil {
			glog.Warningf("worker %s: malformed message: %v", w.Name, err)
			continue
		}
		select {
		case w.recvCh <- m:
		case <-w.closeCh:
			return
		}
	}
}

// Send transmits m to the worker, tracking admission state.
func (w *Worker) Send(m *Message) error {
	w.mu.Lock()
	w.idle.Store(false)
	w.state = WorkerBusy
	w.mu.Unlock()
	return w.writer.WriteFrame(m.ToFrame())
}

func (w *Worker) MarkIdle() {
	w.mu.Lock()
	w.idleAt = time.Now()
	w.state = WorkerIdle
	w.mu.Unlock()
	w.idle.Store(true)
}

func (w *Worker) IsIdle() bool { return w.idle.Load() }

func (w *Worker) IdleSince() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.idleAt
}

// InFlightCount reports the number of requests currently dispatched to this
// worker, used to enforce the Pipeline/non-Pipeline admission rule (§4.3.1).
func (w *Worker) InFlightCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.inFlt)
}

func (w *Worker) trackRequest(req *ProvideRequest) {
	w.mu.Lock()
	w.inFlt[req.ID] = req
	w.mu.Unlock()
}

func (w *Worker) untrackRequest(id uint32) {
	w.mu.Lock()
	delete(w.inFlt, id)
	if len(w.inFlt) == 0 {
		w.state = WorkerIdle
	}
	w.mu.Unlock()
}

func (w *Worker) Kill() error {
	close(w.closeCh)
	w.mu.Lock()
	w.state = WorkerDead
	w.mu.Unlock()
	_ = w.stdin.Close()
	if w.cmd.Process != nil {
		return w.cmd.Process.Kill()
	}
	return nil
}

func (w *Worker) Wait() error { return w.cmd.Wait() }
