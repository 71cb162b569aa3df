package xstream

import (
	"errors"
	"io"
)

// errPayloadTooLarge is an internal sentinel distinguishing "the error
// substream sent more than Config.MaxErrorPayloadSize bytes" from a
// genuine transport failure; runErrorMonitor translates it into the
// public ErrErrorPayloadTooLarge-shaped outcome.
var errPayloadTooLarge = errors.New("xstream: error substream payload exceeded maximum")

// readAllBounded reads r to EOF, returning errPayloadTooLarge if more
// than max bytes arrive before EOF; the payload returned with it is the
// first max bytes read. Any other read error is returned together with
// whatever bytes had been read before it.
func readAllBounded(r io.Reader, max int) ([]byte, error) {
	limited := io.LimitReader(r, int64(max)+1)
	payload, err := io.ReadAll(limited)
	if err != nil {
		return payload, err
	}
	if len(payload) > max {
		return payload[:max], errPayloadTooLarge
	}
	return payload, nil
}
