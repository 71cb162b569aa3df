package xstream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Adapter binds the pairing manager and the XStream I/O core to one
// underlying Session. It owns the accept loop that turns arriving
// substreams into matched pairs and the Open path that creates new
// ones, and it is the application's entry point into the protocol.
//
// One Adapter corresponds to one underlying connection; a peer with
// several connections to the same remote runs several Adapters.
type Adapter struct {
	cfg     Config
	session Session
	peer    PeerID
	conn    ConnID

	pairing *PairingManager

	incoming        chan *XStream
	upgradeRequests chan *InboundUpgradeRequest
	pairingFailures chan PairingFailure

	closeNotify chan StreamClosed
	closedOut   chan StreamClosed

	mu      sync.Mutex
	streams map[XStreamID]*XStream

	ctx    context.Context
	cancel context.CancelFunc
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// StreamSnapshot is a point-in-time diagnostic view of one live XStream.
type StreamSnapshot struct {
	ID        XStreamID
	Peer      PeerID
	Direction Direction
	State     State
	CreatedAt time.Time
}

// NewAdapter constructs an Adapter over session. Call Start to begin
// accepting inbound substreams and expiring stale pairings.
func NewAdapter(cfg Config, session Session, peer PeerID, conn ConnID) *Adapter {
	cfg = applyDefaults(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	return &Adapter{
		cfg:             cfg,
		session:         session,
		peer:            peer,
		conn:            conn,
		pairing:         NewPairingManager(cfg),
		incoming:        make(chan *XStream, 16),
		upgradeRequests: make(chan *InboundUpgradeRequest, 16),
		pairingFailures: make(chan PairingFailure, 16),
		closeNotify:     make(chan StreamClosed, 16),
		closedOut:       make(chan StreamClosed, 16),
		streams:         make(map[XStreamID]*XStream),
		ctx:             ctx,
		cancel:          cancel,
		stopCh:          make(chan struct{}),
	}
}

// Start launches the pairing sweep, the bookkeeping goroutine, and the
// accept loop.
func (a *Adapter) Start() {
	a.pairing.Start()
	a.wg.Add(2)
	go a.bookkeepingLoop()
	go a.acceptLoop()
}

// Close stops all of the Adapter's goroutines, drops any still-pending
// half-open substreams, and closes the underlying Session.
func (a *Adapter) Close() error {
	a.cancel()
	close(a.stopCh)
	a.pairing.Stop()
	a.pairing.DropAll()
	err := a.session.Close()
	a.wg.Wait()
	return err
}

// Incoming yields each inbound XStream as it is admitted (either
// immediately under AutoApprove, or after an InboundUpgradeRequest is
// approved under ApproveViaEvent).
func (a *Adapter) Incoming() <-chan *XStream { return a.incoming }

// UpgradeRequests yields one InboundUpgradeRequest per newly paired
// inbound substream when Config.InboundPolicy is ApproveViaEvent. It is
// never written to under AutoApprove.
func (a *Adapter) UpgradeRequests() <-chan *InboundUpgradeRequest { return a.upgradeRequests }

// PairingFailures surfaces pairing-level problems that are not reported
// directly to a caller of Open: SameRole collisions, timeouts, bad
// headers, and admission caps on inbound substreams.
func (a *Adapter) PairingFailures() <-chan PairingFailure { return a.pairingFailures }

// Closed yields a StreamClosed notification exactly once per
// constructed XStream, in addition to updating the Adapter's own
// diagnostics bookkeeping.
func (a *Adapter) Closed() <-chan StreamClosed { return a.closedOut }

// Streams returns a diagnostic snapshot of every XStream this Adapter
// has constructed and not yet seen close.
func (a *Adapter) Streams() []StreamSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]StreamSnapshot, 0, len(a.streams))
	for _, xs := range a.streams {
		out = append(out, StreamSnapshot{
			ID:        xs.ID(),
			Peer:      xs.Peer(),
			Direction: xs.Direction(),
			State:     xs.State(),
			CreatedAt: xs.CreatedAt(),
		})
	}
	return out
}

// PendingPairings returns a diagnostic snapshot of half-open substreams
// awaiting their partner.
func (a *Adapter) PendingPairings() []PendingSubstream {
	return a.pairing.Snapshot()
}

// Open creates a new outbound XStream: it opens the Main and Error
// substreams, writes their headers, and returns the assembled XStream.
// Since both substreams are opened locally in program order, no
// matching against arriving traffic is needed. When ctx carries no
// deadline, Config.PairingTimeout is applied as one to the whole
// two-substream open sequence; a deadline exceeded while opening
// (whether that one or the caller's own) surfaces as ErrOpenTimeout.
func (a *Adapter) Open(ctx context.Context) (*XStream, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.PairingTimeout)
		defer cancel()
	}

	id := NewXStreamID()

	mainS, err := a.session.OpenStream(ctx)
	if err != nil {
		return nil, openErr(err)
	}
	if err := WriteHeader(mainS, id, RoleMain); err != nil {
		closeSuppressed(mainS, "[behaviour] close of main substream after header write failure")
		return nil, openErr(err)
	}

	errS, err := a.session.OpenStream(ctx)
	if err != nil {
		closeSuppressed(mainS, "[behaviour] close of main substream after error-substream open failure")
		return nil, openErr(err)
	}
	if err := WriteHeader(errS, id, RoleError); err != nil {
		closeSuppressed(mainS, "[behaviour] close of main substream after error-substream header write failure")
		closeSuppressed(errS, "[behaviour] close of error substream after header write failure")
		return nil, openErr(err)
	}

	xs := newXStream(a.cfg, id, a.peer, Outbound, mainS, errS, a.closeNotify)
	a.registerStream(xs)
	return xs, nil
}

func openErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrOpenTimeout
	}
	return fmt.Errorf("%w: %v", ErrTransport, err)
}

func (a *Adapter) registerStream(xs *XStream) {
	a.mu.Lock()
	a.streams[xs.ID()] = xs
	a.mu.Unlock()
}

func (a *Adapter) bookkeepingLoop() {
	defer a.wg.Done()
	for {
		select {
		case sc := <-a.closeNotify:
			a.mu.Lock()
			delete(a.streams, sc.ID)
			a.mu.Unlock()
			select {
			case a.closedOut <- sc:
			case <-a.stopCh:
				return
			}
		case pe := <-a.pairing.Expired():
			a.emitFailure(PairingFailure{Peer: a.peer, Kind: pe.Kind, ID: pe.Key.ID})
		case <-a.stopCh:
			return
		}
	}
}

func (a *Adapter) acceptLoop() {
	defer a.wg.Done()
	for {
		s, err := a.session.AcceptStream(a.ctx)
		if err != nil {
			return
		}
		a.wg.Add(1)
		go a.handleArrival(s)
	}
}

func (a *Adapter) handleArrival(s Substream) {
	defer a.wg.Done()

	id, role, err := ReadHeader(s)
	if err != nil {
		closeSuppressed(s, "[behaviour] close of substream with unreadable header")
		a.emitFailure(PairingFailure{Peer: a.peer, Kind: PairingHeaderError})
		return
	}

	key := PairingKey{Direction: Inbound, Peer: a.peer, Conn: a.conn, ID: id}
	ready, failure := a.pairing.Submit(key, role, s, time.Now())
	if failure != nil {
		a.emitFailure(PairingFailure{Peer: a.peer, Kind: failure.Kind, ID: id, Role: role})
		return
	}
	if ready == nil {
		return // first half of a new pair; wait for its partner
	}

	a.admit(ready)
}

func (a *Adapter) emitFailure(f PairingFailure) {
	select {
	case a.pairingFailures <- f:
	case <-a.stopCh:
	default:
		log.Debug().Str("kind", f.Kind.String()).Msg("[behaviour] dropped pairing failure, consumer not keeping up")
	}
}

func (a *Adapter) admit(ready *PairReady) {
	if a.cfg.InboundPolicy == ApproveViaEvent {
		req := &InboundUpgradeRequest{Peer: a.peer, Conn: a.conn, ID: ready.Key.ID}
		req.respond = func(approved bool, reason []byte) {
			if !approved {
				if len(reason) > 0 && len(reason) <= a.cfg.MaxErrorPayloadSize {
					if _, err := ready.Error.Write(reason); err != nil {
						log.Debug().Err(err).Msg("[behaviour] rejection reason write failed")
					}
				}
				closeSuppressed(ready.Main, "[behaviour] close of rejected main substream")
				closeSuppressed(ready.Error, "[behaviour] close of rejected error substream")
				return
			}
			a.constructAndSurface(ready)
		}
		select {
		case a.upgradeRequests <- req:
		case <-a.stopCh:
			closeSuppressed(ready.Main, "[behaviour] close of main substream during shutdown")
			closeSuppressed(ready.Error, "[behaviour] close of error substream during shutdown")
		}
		return
	}

	a.constructAndSurface(ready)
}

func (a *Adapter) constructAndSurface(ready *PairReady) {
	xs := newXStream(a.cfg, ready.Key.ID, a.peer, ready.Direction, ready.Main, ready.Error, a.closeNotify)
	a.registerStream(xs)
	select {
	case a.incoming <- xs:
	case <-a.stopCh:
		_ = xs.Close()
	}
}
