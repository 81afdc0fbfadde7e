package wire

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	f := NewFrame("ProvideMessage")
	f.Set("requestCode", "600")
	f.Set("requestId", "1")
	f.Body = []byte("hello")

	var buf bytes.Buffer
	if err := NewWriter(&buf).WriteFrame(f); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := NewReader(&buf).ReadFrame()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Command != "ProvideMessage" {
		t.Errorf("command = %q", got.Command)
	}
	if got.Headers["requestCode"] != "600" {
		t.Errorf("requestCode = %q", got.Headers["requestCode"])
	}
	if string(got.Body) != "hello" {
		t.Errorf("body = %q", got.Body)
	}
}

func TestLeadingEmptyLinesIgnored(t *testing.T) {
	raw := "\n\nProvideMessage\nrequestCode:601\n\n\x00"
	f, err := NewReader(strings.NewReader(raw)).ReadFrame()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if f.Command != "ProvideMessage" {
		t.Errorf("command = %q", f.Command)
	}
}

func TestCommandLineBoundary(t *testing.T) {
	// 256 bytes including the LF parses.
	cmdOK := strings.Repeat("a", 255) + "\n"
	raw := cmdOK + "\n\x00"
	if _, err := NewReader(strings.NewReader(raw)).ReadFrame(); err != nil {
		t.Errorf("255+LF should parse: %v", err)
	}

	// 257 bytes (including LF) raises ProtocolError.
	cmdBad := strings.Repeat("a", 256) + "\n"
	rawBad := cmdBad + "\n\x00"
	if _, err := NewReader(strings.NewReader(rawBad)).ReadFrame(); err != ErrInvalidFrame {
		t.Errorf("256+LF should be ErrInvalidFrame, got %v", err)
	}
}

func TestHeaderLineBoundary(t *testing.T) {
	// 8 KiB header line (including LF) parses.
	key := "k"
	val := strings.Repeat("v", MaxHeaderLen-len(key)-2) // -1 for ':' -1 for '\n'
	raw := "ProvideMessage\n" + key + ":" + val + "\n\n\x00"
	if _, err := NewReader(strings.NewReader(raw)).ReadFrame(); err != nil {
		t.Errorf("8KiB header should parse: %v", err)
	}

	valBad := val + "x"
	rawBad := "ProvideMessage\n" + key + ":" + valBad + "\n\n\x00"
	if _, err := NewReader(strings.NewReader(rawBad)).ReadFrame(); err != ErrInvalidFrame {
		t.Errorf("8KiB+1 header should be ErrInvalidFrame, got %v", err)
	}
}

func TestBodyWithoutNULOverflow(t *testing.T) {
	raw := "ProvideMessage\n\n" + strings.Repeat("x", MaxBodyLen+1)
	_, err := NewReader(strings.NewReader(raw)).ReadFrame()
	if err != ErrInvalidFrame {
		t.Errorf("expected ErrInvalidFrame, got %v", err)
	}
}

func TestMalformedHeaderNoColon(t *testing.T) {
	raw := "ProvideMessage\nnocolonhere\n\n\x00"
	if _, err := NewReader(strings.NewReader(raw)).ReadFrame(); err != ErrInvalidFrame {
		t.Errorf("expected ErrInvalidFrame, got %v", err)
	}
}

func TestEmptyBodyContentLengthZero(t *testing.T) {
	raw := "ProvideMessage\ncontent-length:0\n\n\x00"
	f, err := NewReader(strings.NewReader(raw)).ReadFrame()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(f.Body) != 0 {
		t.Errorf("expected empty body, got %q", f.Body)
	}
}

func TestInvalidContentLength(t *testing.T) {
	raw := "ProvideMessage\ncontent-length:not-a-number\n\n\x00"
	if _, err := NewReader(strings.NewReader(raw)).ReadFrame(); err != ErrInvalidFrame {
		t.Errorf("expected ErrInvalidFrame, got %v", err)
	}
}

func TestErrorRecoveryResumesAtNextFrame(t *testing.T) {
	raw := "ProvideMessage\nbadheader\n\n\x00" + "ProvideMessage\ncontent-length:0\n\n\x00"
	r := NewReader(strings.NewReader(raw))
	if _, err := r.ReadFrame(); err != ErrInvalidFrame {
		t.Fatalf("first frame should error, got %v", err)
	}
	// the reader's own error path already discarded through the first NUL,
	// so the next call starts cleanly at the second frame's command line.
	f, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if f.Command != "ProvideMessage" {
		t.Errorf("command = %q", f.Command)
	}
}

func TestEOFBetweenFrames(t *testing.T) {
	_, err := NewReader(strings.NewReader("")).ReadFrame()
	if err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}
