package xstream

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/hashicorp/yamux"
)

// YamuxSession adapts a *yamux.Session to Session. Ground:
// portal/transport_yamux.go's YamuxSession.
type YamuxSession struct {
	sess *yamux.Session
	conn io.Closer
}

var _ Session = (*YamuxSession)(nil)

// NewYamuxClientSession creates a client-side yamux Session over conn.
func NewYamuxClientSession(conn io.ReadWriteCloser) (Session, error) {
	sess, err := yamux.Client(conn, defaultYamuxConfig())
	if err != nil {
		return nil, err
	}
	return &YamuxSession{sess: sess, conn: conn}, nil
}

// NewYamuxServerSession creates a server-side yamux Session over conn.
func NewYamuxServerSession(conn io.ReadWriteCloser) (Session, error) {
	sess, err := yamux.Server(conn, defaultYamuxConfig())
	if err != nil {
		return nil, err
	}
	return &YamuxSession{sess: sess, conn: conn}, nil
}

func defaultYamuxConfig() *yamux.Config {
	cfg := yamux.DefaultConfig()
	cfg.Logger = nil
	cfg.MaxStreamWindowSize = 16 * 1024 * 1024
	cfg.StreamOpenTimeout = 30 * time.Second
	cfg.StreamCloseTimeout = 1 * time.Minute
	return cfg
}

// OpenStream creates one yamux stream. Context is checked before the
// blocking call; yamux has no native cancellation.
func (s *YamuxSession) OpenStream(ctx context.Context) (Substream, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	st, err := s.sess.OpenStream()
	if err != nil {
		return nil, err
	}
	return yamuxSubstream{st}, nil
}

// AcceptStream waits for the next yamux stream opened by the peer.
func (s *YamuxSession) AcceptStream(ctx context.Context) (Substream, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	st, err := s.sess.AcceptStream()
	if err != nil {
		return nil, err
	}
	return yamuxSubstream{st}, nil
}

// yamuxSubstream adapts *yamux.Stream to Substream. The base yamux
// library has no independent half-close of the write direction, so
// CloseWrite here closes the stream outright; this is the same
// approximation the in-process pipe and libp2p backends avoid needing
// but yamux itself does not offer a finer primitive for.
type yamuxSubstream struct {
	*yamux.Stream
}

func (y yamuxSubstream) CloseWrite() error {
	return y.Stream.Close()
}

// Close terminates the yamux session and its underlying transport.
func (s *YamuxSession) Close() error {
	err1 := s.sess.Close()
	var err2 error
	if s.conn != nil {
		err2 = s.conn.Close()
	}
	return errors.Join(err1, err2)
}

// Ping exposes yamux's built-in round-trip health check.
func (s *YamuxSession) Ping() (time.Duration, error) {
	return s.sess.Ping()
}
