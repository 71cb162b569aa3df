package xstream

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
)

// pipeSubstream is an in-memory, channel-backed Substream used by
// PipeSession. Ground: portal/transport_pipe.go's bufferedPipeStream,
// adapted here to also support CloseWrite since the Substream interface
// requires a half-close that net.Pipe-style synchronous pipes cannot
// express directly. outErr/inErr let a test simulate an abrupt close
// (distinct from a clean EOF) on either direction, mirroring
// io.PipeWriter.CloseWithError.
type pipeSubstream struct {
	mu      sync.Mutex
	out     chan []byte
	in      chan []byte
	pending []byte

	writeClosed bool
	outErr      *atomic.Value
	inErr       *atomic.Value
}

func newPipePair() (*pipeSubstream, *pipeSubstream) {
	ab := make(chan []byte, 16)
	ba := make(chan []byte, 16)
	abErr := &atomic.Value{}
	baErr := &atomic.Value{}
	a := &pipeSubstream{out: ab, in: ba, outErr: abErr, inErr: baErr}
	b := &pipeSubstream{out: ba, in: ab, outErr: baErr, inErr: abErr}
	return a, b
}

func (p *pipeSubstream) Read(buf []byte) (int, error) {
	for {
		p.mu.Lock()
		if len(p.pending) > 0 {
			n := copy(buf, p.pending)
			p.pending = p.pending[n:]
			p.mu.Unlock()
			return n, nil
		}
		p.mu.Unlock()

		chunk, ok := <-p.in
		if !ok {
			if err, _ := p.inErr.Load().(error); err != nil {
				return 0, err
			}
			return 0, io.EOF
		}
		if len(chunk) == 0 {
			continue
		}
		n := copy(buf, chunk)
		if n < len(chunk) {
			p.mu.Lock()
			p.pending = chunk[n:]
			p.mu.Unlock()
		}
		return n, nil
	}
}

func (p *pipeSubstream) Write(buf []byte) (int, error) {
	p.mu.Lock()
	if p.writeClosed {
		p.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	p.mu.Unlock()

	cp := append([]byte(nil), buf...)
	p.out <- cp
	return len(buf), nil
}

func (p *pipeSubstream) CloseWrite() error {
	return p.CloseWithError(nil)
}

// CloseWithError half-closes the write direction as CloseWrite does, but
// makes the peer's corresponding Read observe err instead of io.EOF —
// used by tests to simulate an abrupt disconnect.
func (p *pipeSubstream) CloseWithError(err error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.writeClosed {
		p.writeClosed = true
		if err != nil {
			p.outErr.Store(err)
		}
		close(p.out)
	}
	return nil
}

func (p *pipeSubstream) Close() error {
	return p.CloseWrite()
}

// PipeSession is an in-memory Session for tests: two PipeSessions
// constructed together via NewPipeSessionPair are connected such that
// one's OpenStream delivers a matching Substream to the other's
// AcceptStream. Ground: portal/transport_pipe.go's PipeSession /
// NewPipeSessionPair.
type PipeSession struct {
	mu       sync.Mutex
	closed   bool
	peer     *PipeSession
	acceptCh chan Substream
}

// NewPipeSessionPair returns two connected in-memory Sessions.
func NewPipeSessionPair() (a, b *PipeSession) {
	a = &PipeSession{acceptCh: make(chan Substream, 16)}
	b = &PipeSession{acceptCh: make(chan Substream, 16)}
	a.peer = b
	b.peer = a
	return a, b
}

func (s *PipeSession) OpenStream(ctx context.Context) (Substream, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	peer := s.peer
	s.mu.Unlock()

	local, remote := newPipePair()
	select {
	case peer.acceptCh <- remote:
		return local, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *PipeSession) AcceptStream(ctx context.Context) (Substream, error) {
	select {
	case sub, ok := <-s.acceptCh:
		if !ok {
			return nil, io.EOF
		}
		return sub, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *PipeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.acceptCh)
	return nil
}
