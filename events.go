package xstream

// StreamClosed is the terminal notification delivered exactly once per
// constructed XStream, via the behaviour adapter's closure-notifier
// bookkeeping channel.
type StreamClosed struct {
	Peer PeerID
	ID   XStreamID
}

// PairingFailure is the aggregate diagnostic surfaced for pairing
// failures that are not simply an outbound open timing out (those are
// returned directly to the opening caller instead).
type PairingFailure struct {
	Peer PeerID
	Kind PairingErrorKind
	ID   XStreamID
	Role Role
}

// InboundUpgradeRequest is emitted under ApproveViaEvent once a pair has
// assembled but before the XStream is constructed. The application must
// call Approve or Reject exactly once.
type InboundUpgradeRequest struct {
	Peer PeerID
	Conn ConnID
	ID   XStreamID

	respond func(approved bool, reason []byte)
}

// Approve admits the paired substreams and causes an IncomingStream event
// to be emitted.
func (r *InboundUpgradeRequest) Approve() {
	r.respond(true, nil)
}

// Reject writes reason to the error substream (permitted since direction
// is always Inbound here) and closes both substreams without ever
// constructing an XStream. A reason that is empty or longer than
// Config.MaxErrorPayloadSize is not written.
func (r *InboundUpgradeRequest) Reject(reason []byte) {
	r.respond(false, reason)
}
