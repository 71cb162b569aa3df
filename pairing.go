package xstream

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// PendingSubstream is a half-paired substream waiting for its other half
// to arrive.
type PendingSubstream struct {
	Key     PairingKey
	Role    Role
	Stream  Substream
	Arrived time.Time
}

// PairReady is emitted once both roles of a PairingKey have assembled.
// Main is always in the first slot, Error in the second, regardless of
// arrival order.
type PairReady struct {
	Key       PairingKey
	Direction Direction
	Main      Substream
	Error     Substream
}

// PairingManager buffers half-paired substreams and matches them by
// PairingKey. Submit is synchronous and never blocks, so it can be
// called directly from whatever goroutine observed a new substream (the
// behaviour adapter's per-arrival goroutines). The periodic timeout
// sweep runs on its own goroutine (ground: portal/session_v2.go's
// SessionManagerV2.cleanupWorker / portal/lease.go's
// LeaseManager.ttlWorker) and reports expiries asynchronously through
// Expired.
//
// The table is owned by one PairingManager instance per behaviour
// adapter; it is never shared across adapters.
type PairingManager struct {
	cfg Config

	mu      sync.Mutex
	pending map[PairingKey]*PendingSubstream
	counts  map[ConnID]int

	expired  chan PairingError
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// PairingError reports a failed pairing attempt and its kind.
type PairingError struct {
	Key  PairingKey
	Kind PairingErrorKind
}

// NewPairingManager creates a PairingManager governed by cfg. Call Start
// to begin the periodic expiry sweep and Stop to release it.
func NewPairingManager(cfg Config) *PairingManager {
	return &PairingManager{
		cfg:     cfg,
		pending: make(map[PairingKey]*PendingSubstream),
		counts:  make(map[ConnID]int),
		expired: make(chan PairingError, 64),
		stopCh:  make(chan struct{}),
	}
}

// Start launches the periodic pending-pairing sweep.
func (pm *PairingManager) Start() {
	pm.wg.Add(1)
	go pm.sweepLoop()
}

// Stop halts the sweep goroutine. It does not close or drop any
// remaining pending substreams; callers that are shutting down entirely
// should do that via DropAll.
func (pm *PairingManager) Stop() {
	pm.stopOnce.Do(func() { close(pm.stopCh) })
	pm.wg.Wait()
}

// Expired yields a PairingError{Kind: PairingTimedOut} for every
// substream the sweep loop expires.
func (pm *PairingManager) Expired() <-chan PairingError {
	return pm.expired
}

func (pm *PairingManager) sweepLoop() {
	defer pm.wg.Done()
	ticker := time.NewTicker(pm.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-pm.stopCh:
			return
		case now := <-ticker.C:
			for _, failure := range pm.sweep(now) {
				select {
				case pm.expired <- failure:
				case <-pm.stopCh:
					return
				}
			}
		}
	}
}

// sweep removes every pending substream older than PairingTimeout as of
// now, closing each (suppressing the close error) and returning the
// resulting PairingErrors.
func (pm *PairingManager) sweep(now time.Time) []PairingError {
	pm.mu.Lock()
	var expired []*PendingSubstream
	for key, p := range pm.pending {
		if now.Sub(p.Arrived) >= pm.cfg.PairingTimeout {
			expired = append(expired, p)
			pm.removeLocked(key)
		}
	}
	pm.mu.Unlock()

	failures := make([]PairingError, 0, len(expired))
	for _, p := range expired {
		closeSuppressed(p.Stream, "[pairing] close of timed-out substream")
		failures = append(failures, PairingError{Key: p.Key, Kind: PairingTimedOut})
	}
	return failures
}

// Submit feeds one arrived substream into the pairing table. It returns
// at most one of (ready, failure); both nil means the substream was
// buffered as the first half of a new pending pair.
func (pm *PairingManager) Submit(key PairingKey, role Role, s Substream, arrived time.Time) (*PairReady, *PairingError) {
	pm.mu.Lock()

	existing, ok := pm.pending[key]
	if !ok {
		if pm.cfg.MaxInFlightPairingsPerConn > 0 && pm.counts[key.Conn] >= pm.cfg.MaxInFlightPairingsPerConn {
			pm.mu.Unlock()
			closeSuppressed(s, "[pairing] close of substream rejected by in-flight cap")
			return nil, &PairingError{Key: key, Kind: PairingTooMany}
		}
		pm.pending[key] = &PendingSubstream{Key: key, Role: role, Stream: s, Arrived: arrived}
		pm.counts[key.Conn]++
		pm.mu.Unlock()
		return nil, nil
	}

	pm.removeLocked(key)
	pm.mu.Unlock()

	if existing.Role == role {
		closeSuppressed(existing.Stream, "[pairing] close of same-role substream (existing)")
		closeSuppressed(s, "[pairing] close of same-role substream (new)")
		return nil, &PairingError{Key: key, Kind: PairingSameRole}
	}

	var main, errStream Substream
	if role == RoleMain {
		main, errStream = s, existing.Stream
	} else {
		main, errStream = existing.Stream, s
	}
	return &PairReady{Key: key, Direction: key.Direction, Main: main, Error: errStream}, nil
}

// Drop removes and closes a pending substream without emitting an event,
// for a caller that decides to abandon a half-open pair itself.
func (pm *PairingManager) Drop(key PairingKey) {
	pm.mu.Lock()
	p, ok := pm.pending[key]
	if ok {
		pm.removeLocked(key)
	}
	pm.mu.Unlock()
	if ok {
		closeSuppressed(p.Stream, "[pairing] close of dropped substream")
	}
}

// DropAll closes every still-pending substream, for use during shutdown.
func (pm *PairingManager) DropAll() {
	pm.mu.Lock()
	all := make([]*PendingSubstream, 0, len(pm.pending))
	for key, p := range pm.pending {
		all = append(all, p)
		pm.removeLocked(key)
	}
	pm.mu.Unlock()

	for _, p := range all {
		closeSuppressed(p.Stream, "[pairing] close of substream during shutdown")
	}
}

// PendingCount returns the number of substreams currently awaiting a
// partner, for diagnostics.
func (pm *PairingManager) PendingCount() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return len(pm.pending)
}

// Snapshot returns a copy of the pending table's keys and arrival times,
// for the diagnostics HTTP surface.
func (pm *PairingManager) Snapshot() []PendingSubstream {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	out := make([]PendingSubstream, 0, len(pm.pending))
	for _, p := range pm.pending {
		out = append(out, PendingSubstream{Key: p.Key, Role: p.Role, Arrived: p.Arrived})
	}
	return out
}

// removeLocked deletes key from the pending table and decrements its
// connection's in-flight count. Caller must hold pm.mu.
func (pm *PairingManager) removeLocked(key PairingKey) {
	delete(pm.pending, key)
	if pm.counts[key.Conn] > 0 {
		pm.counts[key.Conn]--
	}
	if pm.counts[key.Conn] == 0 {
		delete(pm.counts, key.Conn)
	}
}

// closeSuppressed closes c, logging rather than propagating any error.
// Ground: portal/helper.go's closeWithLog.
func closeSuppressed(c Substream, message string) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		log.Debug().Err(err).Msg(message)
	}
}
