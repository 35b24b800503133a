package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/daviddao/drift/pkg/op"
)

func (a *app) cmdLabel(args []string) int {
	flags := flag.NewFlagSet("label", flag.ContinueOnError)
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if flags.NArg() != 3 {
		fmt.Fprintln(os.Stderr, "usage: drift label <add|rm> <id> <label> [--json]")
		return 1
	}
	verb, id, label := flags.Arg(0), flags.Arg(1), flags.Arg(2)
	if err := a.requireIssue(id); err != nil {
		return errf("%v", err)
	}

	var p op.Payload
	switch verb {
	case "add":
		p = op.AddLabel{ID: id, Label: label}
	case "rm", "remove":
		p = op.RemoveLabel{ID: id, Label: label}
	default:
		return errf("label: unknown verb %q (add|rm)", verb)
	}

	o, err := a.emit(p)
	if err != nil {
		return errf("label: %v", err)
	}
	if *jsonOut {
		printJSON(map[string]interface{}{"id": id, "label": label, "verb": verb, "hlc": o.ID.String()})
	} else {
		fmt.Printf("%s %s %s\n", id, verb, label)
	}
	return 0
}
