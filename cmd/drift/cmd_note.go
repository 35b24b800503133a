package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/daviddao/drift/pkg/op"
)

func (a *app) cmdNote(args []string) int {
	flags := flag.NewFlagSet("note", flag.ContinueOnError)
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if flags.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "usage: drift note <id> <body> [--json]")
		return 1
	}
	id := flags.Arg(0)
	body := strings.Join(flags.Args()[1:], " ")

	// Capture the status the author was looking at when they wrote it.
	iss, err := a.store.GetIssue(id)
	if err != nil {
		return errf("unknown issue %q", id)
	}

	o, err := a.emit(op.AddNote{ID: id, Body: body, StatusAtTime: iss.Status})
	if err != nil {
		return errf("note: %v", err)
	}
	if *jsonOut {
		printJSON(map[string]interface{}{"id": id, "hlc": o.ID.String()})
	} else {
		fmt.Printf("noted on %s\n", id)
	}
	return 0
}
