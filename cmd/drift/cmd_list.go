package main

import (
	"flag"
	"fmt"

	"github.com/daviddao/drift/pkg/depgraph"
	"github.com/daviddao/drift/pkg/op"
	"github.com/daviddao/drift/pkg/store"
)

func (a *app) cmdList(args []string) int {
	flags := flag.NewFlagSet("list", flag.ContinueOnError)
	status := flags.String("status", "", "filter by status")
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	issues, err := a.store.ListIssues(*status)
	if err != nil {
		return errf("list: %v", err)
	}
	if *jsonOut {
		printJSON(issues)
		return 0
	}
	printIssueTable(issues)
	return 0
}

// cmdReady lists open issues whose blockers are all resolved.
func (a *app) cmdReady(args []string) int {
	flags := flag.NewFlagSet("ready", flag.ContinueOnError)
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	issues, err := a.store.ListIssues("")
	if err != nil {
		return errf("ready: %v", err)
	}
	edges, err := a.store.AllDeps()
	if err != nil {
		return errf("ready: %v", err)
	}

	byID := make(map[string]store.Issue, len(issues))
	var candidates []string
	for _, iss := range issues {
		byID[iss.ID] = iss
		if iss.Status != op.StatusClosed {
			candidates = append(candidates, iss.ID)
		}
	}
	isOpen := func(id string) bool {
		iss, ok := byID[id]
		return ok && iss.Status != op.StatusClosed
	}

	var blocks []store.Dep
	for _, e := range edges {
		if e.Relation == op.RelationBlocks {
			blocks = append(blocks, e)
		}
	}

	var ready []store.Issue
	for _, id := range depgraph.Ready(candidates, blocks, isOpen) {
		ready = append(ready, byID[id])
	}
	if *jsonOut {
		printJSON(ready)
		return 0
	}
	printIssueTable(ready)
	return 0
}

func printIssueTable(issues []store.Issue) {
	if len(issues) == 0 {
		fmt.Println("no issues")
		return
	}
	for _, iss := range issues {
		who := "-"
		if iss.Assignee != nil {
			who = *iss.Assignee
		}
		fmt.Printf("%-16s %-11s %-8s %-10s %s\n", iss.ID, iss.Status, iss.Type, who, iss.Title)
	}
}
