package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/daviddao/drift/pkg/store"
)

func (a *app) cmdShow(args []string) int {
	flags := flag.NewFlagSet("show", flag.ContinueOnError)
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if flags.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: drift show <id> [--json]")
		return 1
	}
	id := flags.Arg(0)

	iss, err := a.store.GetIssue(id)
	if err != nil {
		return errf("unknown issue %q", id)
	}
	labels, _ := a.store.Labels(id)
	notes, _ := a.store.Notes(id)
	deps, _ := a.store.Deps(id)
	events, _ := a.store.Events(id)

	if *jsonOut {
		printJSON(map[string]interface{}{
			"issue": iss, "labels": labels, "notes": notes, "deps": deps, "events": events,
		})
		return 0
	}

	fmt.Printf("%s  [%s/%s]  %s\n", iss.ID, iss.Type, iss.Status, iss.Title)
	if iss.Assignee != nil {
		fmt.Printf("  assignee: %s\n", *iss.Assignee)
	}
	if len(labels) > 0 {
		fmt.Printf("  labels:   %s\n", strings.Join(labels, ", "))
	}
	if iss.Description != nil && *iss.Description != "" {
		fmt.Printf("  %s\n", *iss.Description)
	}
	fmt.Printf("  created:  %s\n", fmtMS(iss.CreatedAtMS))
	if iss.ClosedAtMS != nil {
		fmt.Printf("  closed:   %s\n", fmtMS(*iss.ClosedAtMS))
	}
	for _, d := range deps {
		if d.From == id {
			fmt.Printf("  %s %s\n", d.Relation, d.To)
		} else {
			fmt.Printf("  %s by %s\n", d.Relation+"ed", d.From)
		}
	}
	for _, n := range notes {
		fmt.Printf("  note [%s, %s]: %s\n", fmtMS(n.CreatedAtMS), n.StatusAtTime, n.Body)
	}
	printSkips(events)
	return 0
}

func printSkips(events []store.Event) {
	for _, ev := range events {
		if ev.Kind == store.EventApplySkipped {
			fmt.Printf("  skipped: %s\n", ev.Detail)
		}
	}
}

func fmtMS(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02 15:04")
}
