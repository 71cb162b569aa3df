package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gosuda/xstream"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var dialAddr string

var dialCmd = &cobra.Command{
	Use:   "dial",
	Short: "Open one xstream against a server and echo stdin to it",
	RunE:  runDial,
}

func init() {
	dialCmd.Flags().StringVar(&dialAddr, "addr", "127.0.0.1:9630", "TCP address of an xstreamd serve instance")
}

func runDial(cmd *cobra.Command, args []string) error {
	conn, err := net.Dial("tcp", dialAddr)
	if err != nil {
		return err
	}

	sess, err := xstream.NewYamuxClientSession(conn)
	if err != nil {
		return err
	}
	defer sess.Close()

	cfg := xstream.DefaultConfig()
	adapter := xstream.NewAdapter(cfg, sess, xstream.PeerID(dialAddr), xstream.ConnID(uuid.NewString()))
	adapter.Start()
	defer adapter.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.PairingTimeout)
	defer cancel()
	xs, err := adapter.Open(ctx)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer xs.Close()

	log.Info().Str("id", xs.ID().String()).Msg("[xstreamd] opened stream, echoing stdin")

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := xs.Read(buf)
			if n > 0 {
				os.Stdout.Write(buf[:n])
			}
			if err != nil {
				return
			}
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if err := xs.WriteAll(append(scanner.Bytes(), '\n')); err != nil {
			return err
		}
	}
	time.Sleep(200 * time.Millisecond)
	return xs.WriteEOF()
}
