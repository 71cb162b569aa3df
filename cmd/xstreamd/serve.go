package main

import (
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gosuda/xstream"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	serveListen     string
	serveDiagListen string
	servePolicy     string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Accept xstream connections over TCP+yamux and echo every Main substream",
	RunE:  runServe,
}

func init() {
	flags := serveCmd.Flags()
	flags.StringVar(&serveListen, "listen", ":9630", "TCP address to accept yamux sessions on")
	flags.StringVar(&serveDiagListen, "diag-listen", ":9631", "HTTP address for the diagnostics surface")
	flags.StringVar(&servePolicy, "policy", "auto", "inbound admission policy: auto or event")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := xstream.DefaultConfig()
	if servePolicy == "event" {
		cfg.InboundPolicy = xstream.ApproveViaEvent
	}

	ln, err := net.Listen("tcp", serveListen)
	if err != nil {
		return err
	}
	log.Info().Str("addr", serveListen).Msg("[xstreamd] listening")

	reg := newRegistry()
	go func() {
		srv := &http.Server{Addr: serveDiagListen, Handler: newDiagRouter(reg)}
		log.Info().Str("addr", serveDiagListen).Msg("[xstreamd] diagnostics surface listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("[xstreamd] diagnostics server stopped")
		}
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go acceptConn(conn, cfg, reg)
	}
}

func acceptConn(conn net.Conn, cfg xstream.Config, reg *registry) {
	sess, err := xstream.NewYamuxServerSession(conn)
	if err != nil {
		log.Error().Err(err).Msg("[xstreamd] yamux handshake failed")
		_ = conn.Close()
		return
	}

	peer := xstream.PeerID(conn.RemoteAddr().String())
	connID := xstream.ConnID(uuid.NewString())
	adapter := xstream.NewAdapter(cfg, sess, peer, connID)
	adapter.Start()
	reg.add(connID, adapter)

	log.Info().Str("peer", string(peer)).Msg("[xstreamd] accepted connection")

	go drainFailures(adapter, peer)
	if cfg.InboundPolicy == xstream.ApproveViaEvent {
		go approveAll(adapter)
	}
	go func() {
		for xs := range adapter.Incoming() {
			go echo(xs)
		}
		reg.remove(connID)
	}()
}

func approveAll(adapter *xstream.Adapter) {
	for req := range adapter.UpgradeRequests() {
		req.Approve()
	}
}

func drainFailures(adapter *xstream.Adapter, peer xstream.PeerID) {
	for f := range adapter.PairingFailures() {
		log.Warn().Str("peer", string(peer)).Str("kind", f.Kind.String()).Str("id", f.ID.String()).Msg("[xstreamd] pairing failure")
	}
}

func echo(xs *xstream.XStream) {
	defer xs.Close()
	start := time.Now()
	n, err := io.Copy(xs, xs)
	fields := log.Info().Str("peer", string(xs.Peer())).Str("id", xs.ID().String()).Int64("bytes", n).Dur("elapsed", time.Since(start))
	if err != nil {
		fields = fields.Err(err)
	}
	fields.Msg("[xstreamd] echoed stream")
}
