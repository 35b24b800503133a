package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/daviddao/drift/pkg/syncer"
)

func (a *app) newSyncer(urlOverride string) (*syncer.Syncer, error) {
	url := urlOverride
	if url == "" {
		url = a.cfg.RelayURL
	}
	if url == "" {
		return nil, fmt.Errorf("no relay configured (set relay_url in config.toml or pass --relay)")
	}
	return syncer.New(url, a.clock, a.engine, a.store, a.dir.Queue, a.dir.ServerHLC, a.logger), nil
}

// cmdSync performs one exchange: pull everything new, push the queue.
func (a *app) cmdSync(args []string) int {
	flags := flag.NewFlagSet("sync", flag.ContinueOnError)
	relay := flags.String("relay", "", "override the configured relay URL")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	s, err := a.newSyncer(*relay)
	if err != nil {
		return errf("sync: %v", err)
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := s.Once(ctx); err != nil {
		return errf("sync: %v", err)
	}
	fmt.Println("synced")
	return 0
}

// cmdWatch stays connected, applying relay broadcasts as they arrive.
func (a *app) cmdWatch(args []string) int {
	flags := flag.NewFlagSet("watch", flag.ContinueOnError)
	relay := flags.String("relay", "", "override the configured relay URL")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	s, err := a.newSyncer(*relay)
	if err != nil {
		return errf("watch: %v", err)
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := s.Run(ctx); err != nil && ctx.Err() == nil {
		return errf("watch: %v", err)
	}
	return 0
}
