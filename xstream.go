package xstream

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// XStream is a logical bidirectional channel composed of a paired Main
// and Error substream. Exactly one read and one write may be in flight
// at a time on the main substream; the error substream is supervised
// continuously in the background for Outbound streams.
type XStream struct {
	id      XStreamID
	peer    PeerID
	dir     Direction
	created time.Time

	main Substream
	errS Substream // error-read half (Outbound) or error-write half (Inbound)

	state *Register

	maxErrorPayload int
	notify          chan<- StreamClosed

	readMu  sync.Mutex
	writeMu sync.Mutex

	errMu      sync.Mutex
	errWritten bool

	termMu  sync.Mutex
	termErr error // cached terminal error, immutable once set

	restMu  sync.Mutex
	restBuf []byte

	// Outbound-only error-substream monitor state.
	monitorDone chan struct{}
	errReady    chan struct{}
	outcomeMu   sync.Mutex
	outcome     monitorOutcome

	closeOnce sync.Once
}

type monitorKind int

const (
	monitorPending monitorKind = iota
	monitorGraceful
	monitorPayload
	monitorTooLarge
	monitorAbrupt
)

type monitorOutcome struct {
	kind    monitorKind
	payload []byte
}

// newXStream constructs an XStream from an assembled pair. It is called
// only by the behaviour adapter once a PairReady event's substreams have
// been validated: error-read populated iff Outbound, error-write
// populated iff Inbound.
func newXStream(cfg Config, id XStreamID, peer PeerID, dir Direction, main, errS Substream, notify chan<- StreamClosed) *XStream {
	xs := &XStream{
		id:              id,
		peer:            peer,
		dir:             dir,
		created:         time.Now(),
		main:            main,
		errS:            errS,
		state:           &Register{},
		maxErrorPayload: cfg.MaxErrorPayloadSize,
		notify:          notify,
		monitorDone:     make(chan struct{}),
		errReady:        make(chan struct{}),
	}
	if dir == Outbound {
		go xs.runErrorMonitor()
	} else {
		close(xs.monitorDone) // nothing to monitor; drain logic treats this as immediately resolved
	}
	return xs
}

// ID returns the XStream's identifier.
func (xs *XStream) ID() XStreamID { return xs.id }

// Peer returns the remote peer identity.
func (xs *XStream) Peer() PeerID { return xs.peer }

// Direction reports which side opened this XStream.
func (xs *XStream) Direction() Direction { return xs.dir }

// CreatedAt returns the XStream's construction time.
func (xs *XStream) CreatedAt() time.Time { return xs.created }

// State returns the current position in the XStream's lifecycle lattice.
func (xs *XStream) State() State { return xs.state.Load() }

// runErrorMonitor reads the error substream to EOF exactly once, from
// construction, classifying the outcome per the sentinel convention: an
// empty payload means a graceful close. It never blocks a caller:
// results are picked up lazily by Read/ErrorRead/Close.
func (xs *XStream) runErrorMonitor() {
	payload, readErr := readAllBounded(xs.errS, xs.maxErrorPayload)

	var out monitorOutcome
	switch {
	case len(payload) == 0 && (readErr == nil || readErr == io.EOF):
		out = monitorOutcome{kind: monitorGraceful}
	case readErr == errPayloadTooLarge:
		out = monitorOutcome{kind: monitorTooLarge}
	case len(payload) > 0:
		out = monitorOutcome{kind: monitorPayload, payload: payload}
	default:
		out = monitorOutcome{kind: monitorAbrupt}
	}

	xs.outcomeMu.Lock()
	xs.outcome = out
	xs.outcomeMu.Unlock()
	close(xs.monitorDone)
	if out.kind != monitorGraceful {
		close(xs.errReady)
	}
}

func (xs *XStream) loadOutcome() monitorOutcome {
	xs.outcomeMu.Lock()
	defer xs.outcomeMu.Unlock()
	return xs.outcome
}

// cacheTerminal records err as the cached terminal error if none is
// cached yet (the terminal error is immutable once set) and moves the
// state register to Error.
func (xs *XStream) cacheTerminal(err error) error {
	xs.termMu.Lock()
	defer xs.termMu.Unlock()
	if xs.termErr == nil {
		xs.termErr = err
	}
	xs.state.SetError()
	return xs.termErr
}

func (xs *XStream) cachedTerminal() error {
	xs.termMu.Lock()
	defer xs.termMu.Unlock()
	return xs.termErr
}

type ioResult struct {
	n   int
	err error
}

// Read implements io.Reader. On an Outbound stream it races the main
// substream read against the continuously running error-substream
// monitor: whichever completes first with a definitive outcome wins. A
// win by the error side cancels the in-flight main read; its
// eventually-delivered bytes become retrievable via ReadRestAfterError.
func (xs *XStream) Read(p []byte) (int, error) {
	xs.readMu.Lock()
	defer xs.readMu.Unlock()

	if err := xs.cachedTerminal(); err != nil {
		return 0, err
	}
	if !xs.state.CanReadMain() {
		return 0, ErrClosed
	}

	scratch := make([]byte, len(p))
	resultCh := make(chan ioResult, 1)
	go func() {
		n, err := xs.main.Read(scratch)
		resultCh <- ioResult{n, err}
	}()

	if xs.dir == Outbound {
		select {
		case res := <-resultCh:
			return xs.handleMainResult(p, scratch, res)
		case <-xs.errReady:
			out := xs.loadOutcome()
			err := xs.terminalFromOutcome(out)
			cached := xs.cacheTerminal(err)
			go func() {
				res := <-resultCh
				if res.n > 0 {
					xs.stashRest(scratch[:res.n])
				}
			}()
			return 0, cached
		}
	}

	res := <-resultCh
	return xs.handleMainResult(p, scratch, res)
}

func (xs *XStream) terminalFromOutcome(out monitorOutcome) error {
	switch out.kind {
	case monitorAbrupt:
		return &StreamError{Abrupt: true}
	case monitorTooLarge:
		return &StreamError{Payload: nil, Abrupt: false, oversized: true}
	default:
		return &StreamError{Payload: out.payload}
	}
}

// handleMainResult interprets one completed main-substream Read call.
func (xs *XStream) handleMainResult(dst, scratch []byte, res ioResult) (int, error) {
	if res.err == nil {
		n := copy(dst, scratch[:res.n])
		return n, nil
	}
	if res.err == io.EOF {
		if xs.dir == Outbound {
			<-xs.monitorDone
			out := xs.loadOutcome()
			switch out.kind {
			case monitorGraceful:
				xs.state.CloseRemote()
				return 0, io.EOF
			default:
				return 0, xs.cacheTerminal(xs.terminalFromOutcome(out))
			}
		}
		xs.state.CloseRemote()
		return 0, io.EOF
	}
	return 0, xs.cacheTerminal(fmt.Errorf("%w: %v", ErrTransport, res.err))
}

func (xs *XStream) stashRest(b []byte) {
	xs.restMu.Lock()
	xs.restBuf = append(xs.restBuf, b...)
	xs.restMu.Unlock()
}

// ReadRestAfterError returns and clears whatever bytes a cancelled main
// read (one that lost the race against the error monitor) had already
// received from the transport before it was orphaned.
func (xs *XStream) ReadRestAfterError() []byte {
	xs.restMu.Lock()
	defer xs.restMu.Unlock()
	rest := xs.restBuf
	xs.restBuf = nil
	return rest
}

// ReadExact fills buf entirely or returns the error that prevented it,
// mirroring io.ReadFull over Read.
func (xs *XStream) ReadExact(buf []byte) error {
	_, err := io.ReadFull(readerFunc(xs.Read), buf)
	return err
}

type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }

// ReadToEnd reads until EOF or a terminal error, returning whatever was
// accumulated either way.
func (xs *XStream) ReadToEnd() ([]byte, error) {
	var out []byte
	buf := make([]byte, 32*1024)
	for {
		n, err := xs.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
	}
}

// Write implements io.Writer.
func (xs *XStream) Write(p []byte) (int, error) {
	xs.writeMu.Lock()
	defer xs.writeMu.Unlock()

	if err := xs.cachedTerminal(); err != nil {
		return 0, err
	}
	if !xs.state.CanWriteMain() {
		return 0, ErrInvalidState
	}

	n, err := xs.main.Write(p)
	if err != nil {
		return n, xs.cacheTerminal(fmt.Errorf("%w: %v", ErrTransport, err))
	}
	return n, nil
}

// WriteAll writes p in full, looping over Write as needed.
func (xs *XStream) WriteAll(p []byte) error {
	for len(p) > 0 {
		n, err := xs.Write(p)
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}

// Flush is a no-op unless the underlying Substream exposes its own
// Flush method (most multiplexed stream types do not buffer writes).
func (xs *XStream) Flush() error {
	if f, ok := xs.main.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

// WriteEOF signals end of outgoing data on the main substream without
// tearing down the logical stream: the peer observes EOF on its reads,
// while this side may still read the peer's remaining data or the error
// substream's eventual outcome.
func (xs *XStream) WriteEOF() error {
	xs.writeMu.Lock()
	defer xs.writeMu.Unlock()

	if err := xs.cachedTerminal(); err != nil {
		return err
	}
	if xs.state.Load() != StateOpen {
		return ErrInvalidState
	}
	if err := xs.main.CloseWrite(); err != nil {
		return xs.cacheTerminal(fmt.Errorf("%w: %v", ErrTransport, err))
	}
	xs.state.CloseLocal()
	return nil
}

// ErrorWrite writes payload to the error substream. Inbound only, and at
// most once per lifetime. withDataFlush flushes the main substream first
// so payload ordering against in-flight writes is deterministic from
// the application's point of view.
func (xs *XStream) ErrorWrite(payload []byte, withDataFlush bool) error {
	if xs.dir != Inbound {
		return ErrInvalidState
	}
	if len(payload) == 0 {
		// The empty payload is reserved for the graceful sentinel.
		return ErrInvalidState
	}
	if len(payload) > xs.maxErrorPayload {
		return ErrErrorPayloadTooLarge
	}

	xs.errMu.Lock()
	defer xs.errMu.Unlock()

	if xs.errWritten {
		return ErrInvalidState
	}
	if !xs.state.CanWriteError(xs.dir) {
		return ErrInvalidState
	}
	if withDataFlush {
		if err := xs.Flush(); err != nil {
			return fmt.Errorf("%w: %v", ErrTransport, err)
		}
	}

	if _, err := xs.errS.Write(payload); err != nil {
		return xs.cacheTerminal(fmt.Errorf("%w: %v", ErrTransport, err))
	}
	xs.errWritten = true
	return nil
}

// ErrorRead is Outbound-only: it returns the cached error payload if one
// has already been observed, otherwise it blocks until the error
// substream reaches EOF and caches the result. Repeated calls after the
// first observation return the same payload.
func (xs *XStream) ErrorRead() ([]byte, error) {
	if xs.dir != Outbound {
		return nil, ErrInvalidState
	}
	<-xs.monitorDone
	out := xs.loadOutcome()
	switch out.kind {
	case monitorGraceful:
		return nil, nil
	case monitorAbrupt:
		return nil, &StreamError{Abrupt: true}
	case monitorTooLarge:
		return nil, &StreamError{oversized: true}
	default:
		return out.payload, nil
	}
}

// Close performs an orderly shutdown of both substreams. Calling Close
// twice is a no-op and never changes an already-cached terminal error.
// Close always returns nil. On an Outbound stream it blocks until the
// error substream reaches EOF and caches a non-graceful outcome as the
// terminal error; failures from closing the substreams themselves are
// logged, and are neither returned nor cached.
func (xs *XStream) Close() error {
	xs.closeOnce.Do(xs.closeOnceBody)
	return nil
}

func (xs *XStream) closeOnceBody() {
	if xs.dir == Inbound {
		xs.errMu.Lock()
		written := xs.errWritten
		xs.errMu.Unlock()
		if !written {
			// The graceful sentinel is the empty payload, so there is
			// nothing to write here — the peer observes it as an EOF with
			// zero bytes read.
			_ = xs.Flush()
		}
		closeAndLog(xs.errS, "[xstream] close of error substream (inbound)")
		closeAndLog(xs.main, "[xstream] close of main substream (inbound)")
	} else {
		closeWriteAndLog(xs.main, "[xstream] close-write of main substream (outbound)")
		<-xs.monitorDone
		out := xs.loadOutcome()
		if out.kind != monitorGraceful {
			xs.cacheTerminal(xs.terminalFromOutcome(out))
		} else {
			xs.state.CloseRemote()
		}
		closeAndLog(xs.errS, "[xstream] close of error substream (outbound)")
		closeAndLog(xs.main, "[xstream] close of main substream (outbound)")
	}

	xs.state.CloseLocal()

	if xs.notify != nil {
		notification := StreamClosed{Peer: xs.peer, ID: xs.id}
		go func() { xs.notify <- notification }()
	}
}

func closeAndLog(c Substream, msg string) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		log.Debug().Err(err).Msg(msg)
	}
}

func closeWriteAndLog(c Substream, msg string) {
	if c == nil {
		return
	}
	if err := c.CloseWrite(); err != nil {
		log.Debug().Err(err).Msg(msg)
	}
}
