package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/daviddao/drift/pkg/hlc"
	"github.com/daviddao/drift/pkg/op"
)

func (a *app) cmdLog(args []string) int {
	flags := flag.NewFlagSet("log", flag.ContinueOnError)
	since := flags.String("since", "", "exclusive HLC cursor (wall-counter-node)")
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	var ops []op.Op
	if *since != "" {
		cursor, err := hlc.Parse(*since)
		if err != nil {
			fmt.Fprintf(os.Stderr, "drift: bad --since %q: %v\n", *since, err)
			return 1
		}
		ops = a.dir.Log.OpsSince(cursor)
	} else {
		ops = a.dir.Log.IterAll()
	}

	if *jsonOut {
		printJSON(ops)
		return 0
	}
	for _, o := range ops {
		fmt.Printf("%-32s %-16s %s\n", o.ID.String(), o.Payload.Kind(), o.Payload.IssueID())
	}
	pending, err := a.dir.Queue.Len()
	if err == nil && pending > 0 {
		fmt.Fprintf(os.Stderr, "%d op(s) queued for sync\n", pending)
	}
	return 0
}
