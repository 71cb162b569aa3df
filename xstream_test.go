package xstream

import (
	"errors"
	"io"
	"testing"
	"time"
)

func newTestOutboundXStream(cfg Config) (xs *XStream, mainPeer, errPeer *pipeSubstream) {
	main, mainPeer := newPipePair()
	errS, errPeer := newPipePair()
	xs = newXStream(cfg, NewXStreamID(), "peer", Outbound, main, errS, nil)
	return xs, mainPeer, errPeer
}

func newTestInboundXStream(cfg Config) (xs *XStream, mainPeer, errPeer *pipeSubstream) {
	main, mainPeer := newPipePair()
	errS, errPeer := newPipePair()
	xs = newXStream(cfg, NewXStreamID(), "peer", Inbound, main, errS, nil)
	return xs, mainPeer, errPeer
}

func TestXStreamHappyPathOutbound(t *testing.T) {
	xs, mainPeer, errPeer := newTestOutboundXStream(DefaultConfig())
	defer xs.Close()

	go func() {
		mainPeer.Write([]byte("hello"))
		mainPeer.CloseWrite()
		errPeer.CloseWrite() // graceful sentinel: nothing written
	}()

	buf := make([]byte, 16)
	n, err := xs.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("got %q, want %q", buf[:n], "hello")
	}

	_, err = xs.Read(buf)
	if err != io.EOF {
		t.Fatalf("expected io.EOF after graceful sentinel, got %v", err)
	}
	if xs.State() != StateRemoteClosed {
		t.Fatalf("expected RemoteClosed, got %v", xs.State())
	}
}

func TestXStreamErrorSubstreamPreemptsMainRead(t *testing.T) {
	xs, _, errPeer := newTestOutboundXStream(DefaultConfig())
	defer xs.Close()

	payload := []byte("boom")
	done := make(chan struct{})
	go func() {
		errPeer.Write(payload)
		errPeer.CloseWrite()
		close(done)
	}()
	<-done

	buf := make([]byte, 16)
	_, err := xs.Read(buf)
	var se *StreamError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StreamError, got %v", err)
	}
	if string(se.Payload) != "boom" {
		t.Fatalf("got payload %q, want %q", se.Payload, "boom")
	}
	if xs.State() != StateError {
		t.Fatalf("expected Error state, got %v", xs.State())
	}

	// idempotence: a second Read returns the same cached error.
	_, err2 := xs.Read(buf)
	if err2 != err {
		t.Fatalf("expected the identical cached error on repeat Read, got %v vs %v", err2, err)
	}
}

func TestXStreamAbruptClose(t *testing.T) {
	xs, _, errPeer := newTestOutboundXStream(DefaultConfig())
	defer xs.Close()

	errPeer.CloseWithError(errors.New("connection reset")) // no sentinel, no payload, not a clean EOF

	_, err := xs.ErrorRead()
	var se *StreamError
	if !errors.As(err, &se) || !se.Abrupt {
		t.Fatalf("expected an Abrupt StreamError, got %v", err)
	}
	if !errors.Is(err, ErrAbruptClose) {
		t.Fatalf("expected errors.Is match against ErrAbruptClose, got %v", err)
	}
}

func TestXStreamErrorReadIdempotent(t *testing.T) {
	xs, _, errPeer := newTestOutboundXStream(DefaultConfig())
	defer xs.Close()

	errPeer.Write([]byte("payload"))
	errPeer.CloseWrite()

	p1, err1 := xs.ErrorRead()
	p2, err2 := xs.ErrorRead()
	if err1 != nil || err2 != nil {
		t.Fatalf("unexpected errors: %v, %v", err1, err2)
	}
	if string(p1) != "payload" || string(p2) != "payload" {
		t.Fatalf("expected stable cached payload, got %q then %q", p1, p2)
	}
}

func TestXStreamInboundErrorWriteOnce(t *testing.T) {
	xs, _, _ := newTestInboundXStream(DefaultConfig())
	defer xs.Close()

	if err := xs.ErrorWrite([]byte("first"), false); err != nil {
		t.Fatalf("first ErrorWrite: %v", err)
	}
	if err := xs.ErrorWrite([]byte("second"), false); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on second ErrorWrite, got %v", err)
	}
}

func TestXStreamInboundCannotErrorReadOrOutboundCannotErrorWrite(t *testing.T) {
	in, _, _ := newTestInboundXStream(DefaultConfig())
	defer in.Close()
	if _, err := in.ErrorRead(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Inbound ErrorRead should be rejected, got %v", err)
	}

	out, _, outErrPeer := newTestOutboundXStream(DefaultConfig())
	defer out.Close()
	// Outbound Close waits for the error substream's EOF; deliver it first.
	defer outErrPeer.CloseWrite()
	if err := out.ErrorWrite([]byte("x"), false); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Outbound ErrorWrite should be rejected, got %v", err)
	}
}

func TestXStreamWriteEOFTransitionsToLocalClosed(t *testing.T) {
	xs, mainPeer, errPeer := newTestOutboundXStream(DefaultConfig())
	defer xs.Close()
	// Outbound Close waits for the error substream's EOF; deliver it first.
	defer errPeer.CloseWrite()

	go io.Copy(io.Discard, mainPeer)

	if err := xs.WriteEOF(); err != nil {
		t.Fatalf("WriteEOF: %v", err)
	}
	if xs.State() != StateLocalClosed {
		t.Fatalf("expected LocalClosed, got %v", xs.State())
	}
	if _, err := xs.Write([]byte("x")); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState writing after WriteEOF, got %v", err)
	}
}

func TestXStreamCloseIsIdempotent(t *testing.T) {
	xs, mainPeer, errPeer := newTestOutboundXStream(DefaultConfig())
	go func() {
		io.Copy(io.Discard, mainPeer)
	}()
	go func() {
		errPeer.CloseWrite()
	}()

	if err := xs.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := xs.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got %v", err)
	}
}

func TestXStreamOversizedErrorPayload(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxErrorPayloadSize = 4
	xs, _, errPeer := newTestOutboundXStream(cfg)
	defer xs.Close()

	errPeer.Write([]byte("way too long"))
	errPeer.CloseWrite()

	_, err := xs.ErrorRead()
	var se *StreamError
	if !errors.As(err, &se) {
		t.Fatalf("expected a *StreamError for an oversized payload, got %v", err)
	}
}

func TestReadRestAfterErrorCapturesOrphanedBytes(t *testing.T) {
	xs, mainPeer, errPeer := newTestOutboundXStream(DefaultConfig())
	defer xs.Close()

	readDone := make(chan struct{})
	go func() {
		buf := make([]byte, 4)
		xs.Read(buf) // will be preempted by the error substream
		close(readDone)
	}()

	// Give the read goroutine a chance to start before the peer writes,
	// so the race genuinely has both sides in flight.
	time.Sleep(10 * time.Millisecond)
	errPeer.Write([]byte("err!"))
	errPeer.CloseWrite()
	<-readDone

	mainPeer.Write([]byte("late"))
	time.Sleep(20 * time.Millisecond) // let the orphaned read goroutine observe it

	rest := xs.ReadRestAfterError()
	if len(rest) == 0 {
		t.Skip("orphaned main read had not yet completed; timing-dependent")
	}
}
