package main

import (
	"flag"
	"net/http"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"

	"github.com/daviddao/drift/pkg/hlc"
	"github.com/daviddao/drift/pkg/oplog"
	"github.com/daviddao/drift/pkg/relay"
	"github.com/daviddao/drift/pkg/store"
)

// cmdServe runs a relay. Configuration comes from DRIFT_RELAY_*
// environment variables, overridable by flags.
func cmdServe(args []string) int {
	var cfg relay.Config
	if err := envconfig.Process("DRIFT_RELAY", &cfg); err != nil {
		return errf("serve: %v", err)
	}

	flags := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := flags.String("addr", cfg.ListenAddr, "listen address")
	data := flags.String("data", cfg.DataDir, "relay state directory")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	logger := newLogger()

	if err := os.MkdirAll(*data, 0o755); err != nil {
		return errf("serve: %v", err)
	}
	log, err := oplog.Open(filepath.Join(*data, oplog.LogFile))
	if err != nil {
		return errf("serve: %v", err)
	}
	defer log.Close()
	s, err := store.New(filepath.Join(*data, oplog.DBFile))
	if err != nil {
		return errf("serve: %v", err)
	}
	defer s.Close()

	clock := hlc.NewClock(hlc.DeriveNodeID())
	clock.Observe(log.HighWater())

	srv := relay.NewServer(s, log, clock, logger)
	srv.Run()
	defer srv.Close()

	mux := http.NewServeMux()
	mux.Handle("/ws", srv)
	logger.Info().Str("addr", *addr).Str("data", *data).Msg("relay listening")
	if err := http.ListenAndServe(*addr, mux); err != nil {
		return errf("serve: %v", err)
	}
	return 0
}
