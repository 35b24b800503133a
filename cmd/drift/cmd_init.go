package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/daviddao/drift/pkg/config"
	"github.com/daviddao/drift/pkg/oplog"
	"github.com/daviddao/drift/pkg/store"
)

func cmdInit(args []string) int {
	flags := flag.NewFlagSet("init", flag.ContinueOnError)
	prefix := flags.String("prefix", "", "issue id prefix, e.g. prj")
	relay := flags.String("relay", "", "relay websocket URL")
	node := flags.Uint("node", 0, "pin the clock node id (0 = derive)")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if *prefix == "" {
		fmt.Fprintln(os.Stderr, "usage: drift init --prefix P [--relay URL] [--node N]")
		return 1
	}
	if err := validatePrefix(*prefix); err != nil {
		return errf("init: %v", err)
	}

	path := envOr("DRIFT_DIR", defaultDir)
	if _, err := config.Load(path); err == nil {
		return errf("workspace already initialized at %s", path)
	}

	dir, err := oplog.OpenDir(path)
	if err != nil {
		return errf("init: %v", err)
	}
	defer dir.Close()

	s, err := store.New(dir.DBPath())
	if err != nil {
		return errf("init: %v", err)
	}
	s.Close()

	cfg := config.Default(*prefix)
	cfg.RelayURL = *relay
	cfg.NodeID = uint32(*node)
	if err := config.Save(path, cfg); err != nil {
		return errf("init: %v", err)
	}

	fmt.Printf("initialized %s (prefix %s)\n", path, *prefix)
	return 0
}

// validatePrefix enforces the id-prefix shape: lowercase alphanumerics,
// 1-16 chars. The dash is reserved as the id separator.
func validatePrefix(p string) error {
	if len(p) == 0 || len(p) > 16 {
		return fmt.Errorf("prefix must be 1-16 characters")
	}
	for _, r := range p {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return fmt.Errorf("prefix %q: only lowercase letters and digits allowed", p)
		}
	}
	return nil
}
