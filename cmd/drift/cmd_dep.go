package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/daviddao/drift/pkg/op"
	"github.com/daviddao/drift/pkg/store"
)

func (a *app) cmdDep(args []string) int {
	flags := flag.NewFlagSet("dep", flag.ContinueOnError)
	relation := flags.String("relation", op.RelationBlocks, "edge relation")
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if flags.NArg() != 3 {
		fmt.Fprintln(os.Stderr, "usage: drift dep <add|rm> <from> <to> [--relation R] [--json]")
		return 1
	}
	verb, from, to := flags.Arg(0), flags.Arg(1), flags.Arg(2)
	if err := a.requireIssue(from); err != nil {
		return errf("%v", err)
	}
	if err := a.requireIssue(to); err != nil {
		return errf("%v", err)
	}

	var p op.Payload
	switch verb {
	case "add":
		p = op.AddDep{From: from, To: to, Relation: *relation}
	case "rm", "remove":
		p = op.RemoveDep{From: from, To: to, Relation: *relation}
	default:
		return errf("dep: unknown verb %q (add|rm)", verb)
	}

	o, err := a.emit(p)
	if err != nil {
		return errf("dep: %v", err)
	}

	// A cycle is rejected during apply, not before emit. Tell the user.
	if verb == "add" && *relation == op.RelationBlocks {
		if skipped := a.wasSkipped(o); skipped != "" {
			return errf("dep not added: %s", skipped)
		}
	}

	if *jsonOut {
		printJSON(map[string]interface{}{"from": from, "to": to, "relation": *relation, "verb": verb, "hlc": o.ID.String()})
	} else {
		fmt.Printf("%s %s %s (%s)\n", from, verb, to, *relation)
	}
	return 0
}

// wasSkipped reports the detail of the apply_skipped event recorded for
// o, or "" if the op's effect landed.
func (a *app) wasSkipped(o op.Op) string {
	events, err := a.store.Events(o.Payload.IssueID())
	if err != nil {
		return ""
	}
	for _, ev := range events {
		if ev.HLC == o.ID && ev.Kind == store.EventApplySkipped {
			return ev.Detail
		}
	}
	return ""
}
