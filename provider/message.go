// Package provider implements the scheduler of §4.3: admission, queueing,
// mirror fan-out, retry, auth coalescing, and the media attachment cache. It
// talks to worker child processes using the frame-layered protocol of §4.2
// and §6.3.
package provider

import (
	"strconv"

	"github.com/openSUSE/libzypp-sub001/cmn"
	"github.com/openSUSE/libzypp-sub001/wire"
)

// Code is the worker-protocol requestCode (§4.2 code table).
type Code uint32

const (
	CodeProvideStarted  Code = 100
	CodeProvideFinished Code = 200
	CodeAttachFinished  Code = 201
	CodeAuthInfo        Code = 202
	CodeMediaChanged    Code = 203
	CodeDetachFinished  Code = 204
	CodeRedirect        Code = 300
	CodeMetalink        Code = 301

	// client-side errors, 400-416
	CodeErrBadRequest       Code = 400
	CodeErrUnauthorized     Code = 401
	CodeErrForbidden        Code = 402
	CodeErrPeerCertInvalid  Code = 403
	CodeErrNotFound         Code = 404
	CodeErrConnFailed       Code = 406
	CodeErrTimeout          Code = 407
	CodeErrCancelled        Code = 408
	CodeErrInvalidChecksum  Code = 409
	CodeErrMountFailed      Code = 410
	CodeErrJammed           Code = 411
	CodeErrMediaChangeAbort Code = 412
	CodeErrMediaChangeSkip  Code = 413
	CodeErrNoAuthData       Code = 414
	CodeErrSizeExceeded     Code = 405
	CodeErrMediumNotDesired Code = 416

	CodeErrServer   Code = 500
	CodeErrInternal Code = 501

	CodeProvide Code = 600
	CodeCancel  Code = 601
	CodeAttach  Code = 602
	CodeDetach  Code = 603

	CodeAuthRequired        Code = 700
	CodeMediaChangeRequired Code = 701
)

// Transient reports whether this error code authorizes mirror fail-over
// (§4.3.3: "terminal failure with a transient flag or with error code in
// {406,407,410,416}").
func (c Code) Transient() bool {
	switch c {
	case CodeErrConnFailed, CodeErrTimeout, CodeErrMountFailed, CodeErrMediumNotDesired:
		return true
	default:
		return false
	}
}

func (c Code) IsError() bool {
	return (c >= 400 && c <= 416) || c == CodeErrServer || c == CodeErrInternal
}

// Kind maps a worker-protocol code onto the §7 error taxonomy.
func (c Code) Kind() cmn.ErrKind {
	switch c {
	case CodeErrBadRequest:
		return cmn.KindInvalidInput
	case CodeErrUnauthorized, CodeErrForbidden, CodeErrPeerCertInvalid, CodeErrNoAuthData:
		return cmn.KindAuth
	case CodeErrNotFound, CodeErrMediumNotDesired, CodeErrMountFailed:
		return cmn.KindResource
	case CodeErrConnFailed, CodeErrTimeout, CodeErrSizeExceeded, CodeErrJammed:
		return cmn.KindTransient
	case CodeErrCancelled, CodeErrMediaChangeAbort, CodeErrMediaChangeSkip:
		return cmn.KindUser
	case CodeErrInvalidChecksum:
		return cmn.KindIntegrity
	case CodeErrServer, CodeErrInternal:
		return cmn.KindInternal
	default:
		return cmn.KindUnknown
	}
}

// Message wraps a decoded wire.Frame with protocol headers parsed into
// typed fields used by the scheduler.
type Message struct {
	Code      Code
	RequestID uint32
	Headers   map[string]string
	Body      []byte
}

func NewMessage(code Code, requestID uint32) *Message {
	return &Message{Code: code, RequestID: requestID, Headers: map[string]string{}}
}

func (m *Message) Set(key, value string) *Message {
	m.Headers[key] = value
	return m
}

func (m *Message) Get(key string) string { return m.Headers[key] }

func (m *Message) Reason() string    { return m.Headers["reason"] }
func (m *Message) History() string   { return m.Headers["history"] }
func (m *Message) IsTransient() bool { return cmn.ParseBool(m.Headers["transient"], false) }

// ToFrame encodes m as a wire.Frame. Every message's command is always
// "ProvideMessage"; the pseudo-commands live in the requestCode header
// (§4.2).
func (m *Message) ToFrame() *wire.Frame {
	f := wire.NewFrame("ProvideMessage")
	f.Set("requestCode", strconv.FormatUint(uint64(m.Code), 10))
	f.Set("requestId", strconv.FormatUint(uint64(m.RequestID), 10))
	for k, v := range m.Headers {
		f.Set(k, v)
	}
	f.Body = m.Body
	return f
}

// FromFrame decodes a wire.Frame previously produced by ToFrame.
func FromFrame(f *wire.Frame) (*Message, error) {
	codeStr, ok := f.Get("requestCode")
	if !ok {
		return nil, cmn.NewErr(cmn.KindInvalidInput, int(CodeErrBadRequest), "missing requestCode")
	}
	code, err := strconv.ParseUint(codeStr, 10, 32)
	if err != nil {
		return nil, cmn.NewErr(cmn.KindInvalidInput, int(CodeErrBadRequest), "invalid requestCode %q", codeStr)
	}
	idStr, ok := f.Get("requestId")
	if !ok {
		return nil, cmn.NewErr(cmn.KindInvalidInput, int(CodeErrBadRequest), "missing requestId")
	}
	id, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil {
		return nil, cmn.NewErr(cmn.KindInvalidInput, int(CodeErrBadRequest), "invalid requestId %q", idStr)
	}
	m := &Message{Code: Code(code), RequestID: uint32(id), Headers: map[string]string{}, Body: f.Body}
	for k, v := range f.Headers {
		if k == "requestCode" || k == "requestId" {
			continue
		}
		m.Headers[k] = v
	}
	return m, nil
}

// WorkerType enumerates the handshake-declared worker categories (§4.2).
type WorkerType string

const (
	WorkerDownloading  WorkerType = "Downloading"
	WorkerSimpleMount  WorkerType = "SimpleMount"
	WorkerVolatileMnt  WorkerType = "VolatileMount"
	WorkerCPUBound     WorkerType = "CPUBound"
)

// Caps is the bitfield of worker capability flags carried by WorkerCaps.
type Caps uint8

const (
	CapSingleInstance Caps = 1 << iota
	CapPipeline
	CapZyppLogFormat
	CapFileArtifacts
)

func (c Caps) Has(f Caps) bool { return c&f != 0 }

const ProtocolVersion uint32 = 1
