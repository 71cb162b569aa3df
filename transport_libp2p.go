package xstream

import (
	"context"
	"sync"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
)

// libp2pRegistry demultiplexes a single host-wide stream handler for one
// protocol.ID across however many Libp2pSessions (one per remote peer)
// are currently open, since libp2p only lets a protocol have one handler
// per Host. Ground: sdk/go/client.go's RelayClient, which registers one
// SetStreamHandler closure and routes by the dialing side's bookkeeping;
// here the routing key is the remote peer ID carried on each accepted
// network.Stream's connection.
type libp2pRegistry struct {
	mu       sync.Mutex
	sessions map[peer.ID]*Libp2pSession
}

func newLibp2pRegistry(h host.Host, proto protocol.ID) *libp2pRegistry {
	reg := &libp2pRegistry{sessions: make(map[peer.ID]*Libp2pSession)}
	h.SetStreamHandler(proto, func(s network.Stream) {
		remote := s.Conn().RemotePeer()
		reg.mu.Lock()
		sess, ok := reg.sessions[remote]
		reg.mu.Unlock()
		if !ok {
			_ = s.Reset()
			return
		}
		select {
		case sess.acceptCh <- s:
		default:
			_ = s.Reset()
		}
	})
	return reg
}

func (reg *libp2pRegistry) register(id peer.ID, s *Libp2pSession) {
	reg.mu.Lock()
	reg.sessions[id] = s
	reg.mu.Unlock()
}

func (reg *libp2pRegistry) unregister(id peer.ID) {
	reg.mu.Lock()
	delete(reg.sessions, id)
	reg.mu.Unlock()
}

type libp2pRegistryKey struct {
	h     host.Host
	proto protocol.ID
}

var libp2pRegistries sync.Map // libp2pRegistryKey -> *libp2pRegistry

func registryFor(h host.Host, proto protocol.ID) *libp2pRegistry {
	key := libp2pRegistryKey{h, proto}
	if v, ok := libp2pRegistries.Load(key); ok {
		return v.(*libp2pRegistry)
	}
	reg := newLibp2pRegistry(h, proto)
	actual, _ := libp2pRegistries.LoadOrStore(key, reg)
	return actual.(*libp2pRegistry)
}

// Libp2pSession adapts a libp2p host.Host, scoped to one remote peer and
// one protocol.ID, to Session. Ground: pkg/p2p.go's MakeHost/host
// plumbing and sdk/go/client.go's protocol/stream-handler wiring.
type Libp2pSession struct {
	h      host.Host
	proto  protocol.ID
	remote peer.ID
	reg    *libp2pRegistry

	acceptCh  chan network.Stream
	stopCh    chan struct{}
	closeOnce sync.Once
}

var _ Session = (*Libp2pSession)(nil)

// NewLibp2pSession binds h to remote over proto. Multiple
// Libp2pSessions may share the same (h, proto) pair as long as they
// target distinct remote peers.
func NewLibp2pSession(h host.Host, proto protocol.ID, remote peer.ID) *Libp2pSession {
	reg := registryFor(h, proto)
	s := &Libp2pSession{
		h:        h,
		proto:    proto,
		remote:   remote,
		reg:      reg,
		acceptCh: make(chan network.Stream, 16),
		stopCh:   make(chan struct{}),
	}
	reg.register(remote, s)
	return s
}

func (s *Libp2pSession) OpenStream(ctx context.Context) (Substream, error) {
	return s.h.NewStream(ctx, s.remote, s.proto)
}

func (s *Libp2pSession) AcceptStream(ctx context.Context) (Substream, error) {
	select {
	case st, ok := <-s.acceptCh:
		if !ok {
			return nil, ErrClosed
		}
		return st, nil
	case <-s.stopCh:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Libp2pSession) Close() error {
	s.closeOnce.Do(func() {
		s.reg.unregister(s.remote)
		close(s.stopCh)
	})
	return nil
}
