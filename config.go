package xstream

import "time"

// InboundPolicy controls whether inbound XStreams are surfaced
// automatically or gated by an application-supplied decision.
type InboundPolicy int

const (
	// AutoApprove constructs and surfaces every paired inbound XStream
	// immediately.
	AutoApprove InboundPolicy = iota
	// ApproveViaEvent parks the paired substreams and emits an
	// InboundUpgradeRequest, waiting for the application to approve or
	// reject.
	ApproveViaEvent
)

// Config holds the tunable parameters of the XStream core. The zero value
// is not directly usable; call DefaultConfig or pass a partially filled
// Config through applyDefaults (ground: sdk/go/client.go's ClientConfig /
// applyDefaults shape).
type Config struct {
	// PairingTimeout bounds how long a half-paired substream may wait
	// before it is expired. Default 15s.
	PairingTimeout time.Duration
	// CleanupInterval is the cadence of the periodic pending-pairing
	// sweep. Default 5s.
	CleanupInterval time.Duration
	// InboundPolicy controls admission of inbound XStreams. Default
	// AutoApprove.
	InboundPolicy InboundPolicy
	// MaxInFlightPairingsPerConn bounds the number of half-open
	// substreams a single underlying connection may have pending at
	// once, as a guard against SameRole floods. 0 means unbounded.
	MaxInFlightPairingsPerConn int
	// MaxErrorPayloadSize bounds how many bytes ErrorRead/the error
	// monitor will buffer from the error substream before failing with
	// ErrErrorPayloadTooLarge. Default 64 KiB.
	MaxErrorPayloadSize int
}

const (
	defaultPairingTimeout      = 15 * time.Second
	defaultCleanupInterval     = 5 * time.Second
	defaultMaxErrorPayloadSize = 64 * 1024
)

// DefaultConfig returns a Config with every field set to its documented
// default.
func DefaultConfig() Config {
	return applyDefaults(Config{})
}

// applyDefaults fills zero-valued fields of cfg with their documented
// defaults and returns the result, leaving cfg untouched.
func applyDefaults(cfg Config) Config {
	if cfg.PairingTimeout <= 0 {
		cfg.PairingTimeout = defaultPairingTimeout
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = defaultCleanupInterval
	}
	if cfg.MaxErrorPayloadSize <= 0 {
		cfg.MaxErrorPayloadSize = defaultMaxErrorPayloadSize
	}
	// InboundPolicy and MaxInFlightPairingsPerConn zero values (AutoApprove,
	// unbounded) are already the documented defaults.
	return cfg
}
