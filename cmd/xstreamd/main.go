// Command xstreamd is a reference server and dialer for the xstream
// protocol, plus a diagnostics HTTP surface. Ground: cmd/server.go's
// cobra root command shape.
package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "xstreamd",
	Short: "Reference server and dialer for the xstream dual-substream protocol",
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})

	rootCmd.AddCommand(serveCmd, dialCmd)
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("[xstreamd] exiting")
	}
}
