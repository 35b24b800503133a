package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/daviddao/drift/pkg/config"
	"github.com/daviddao/drift/pkg/op"
)

func (a *app) cmdRenamePrefix(args []string) int {
	flags := flag.NewFlagSet("rename-prefix", flag.ContinueOnError)
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if flags.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "usage: drift rename-prefix <old> <new> [--json]")
		return 1
	}
	oldPrefix, newPrefix := flags.Arg(0), flags.Arg(1)
	if oldPrefix == newPrefix {
		return errf("rename-prefix: prefixes are identical")
	}
	if err := validatePrefix(newPrefix); err != nil {
		return errf("rename-prefix: %v", err)
	}
	counts, err := a.store.PrefixCounts()
	if err != nil {
		return errf("rename-prefix: %v", err)
	}
	if counts[newPrefix] > 0 {
		return errf("rename-prefix: prefix %q already has %d issues", newPrefix, counts[newPrefix])
	}

	o, err := a.emit(op.ConfigRename{OldPrefix: oldPrefix, NewPrefix: newPrefix})
	if err != nil {
		return errf("rename-prefix: %v", err)
	}

	// Keep the local default prefix in step so new issues use the new name.
	if a.cfg.Prefix == oldPrefix {
		a.cfg.Prefix = newPrefix
		if err := config.Save(envOr("DRIFT_DIR", defaultDir), *a.cfg); err != nil {
			return errf("rename-prefix: config: %v", err)
		}
	}

	counts, err = a.store.PrefixCounts()
	if err != nil {
		return errf("rename-prefix: %v", err)
	}
	if *jsonOut {
		printJSON(map[string]interface{}{
			"old": oldPrefix, "new": newPrefix,
			"issues": counts[newPrefix], "hlc": o.ID.String(),
		})
	} else {
		fmt.Printf("renamed %s to %s (%d issues)\n", oldPrefix, newPrefix, counts[newPrefix])
	}
	return 0
}
