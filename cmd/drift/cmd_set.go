package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/daviddao/drift/pkg/op"
)

var validStatuses = map[string]bool{
	op.StatusOpen: true, op.StatusInProgress: true,
	op.StatusBlocked: true, op.StatusClosed: true,
}

func (a *app) cmdStatus(args []string) int {
	flags := flag.NewFlagSet("status", flag.ContinueOnError)
	reason := flags.String("reason", "", "why the status changed")
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if flags.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "usage: drift status <id> <status> [--reason R] [--json]")
		return 1
	}
	id, status := flags.Arg(0), flags.Arg(1)
	if !validStatuses[status] {
		return errf("invalid status %q (open|in_progress|blocked|closed)", status)
	}
	if err := a.requireIssue(id); err != nil {
		return errf("%v", err)
	}

	o, err := a.emit(op.SetStatus{ID: id, Status: status, Reason: *reason})
	if err != nil {
		return errf("status: %v", err)
	}
	return a.reportSet(*jsonOut, id, "status", status, o)
}

func (a *app) cmdTitle(args []string) int {
	flags := flag.NewFlagSet("title", flag.ContinueOnError)
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if flags.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "usage: drift title <id> <title> [--json]")
		return 1
	}
	id := flags.Arg(0)
	title := strings.Join(flags.Args()[1:], " ")
	if err := a.requireIssue(id); err != nil {
		return errf("%v", err)
	}

	o, err := a.emit(op.SetTitle{ID: id, Title: title})
	if err != nil {
		return errf("title: %v", err)
	}
	return a.reportSet(*jsonOut, id, "title", title, o)
}

func (a *app) cmdType(args []string) int {
	flags := flag.NewFlagSet("type", flag.ContinueOnError)
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if flags.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "usage: drift type <id> <type> [--json]")
		return 1
	}
	id, issueType := flags.Arg(0), flags.Arg(1)
	if err := a.requireIssue(id); err != nil {
		return errf("%v", err)
	}

	o, err := a.emit(op.SetType{ID: id, IssueType: issueType})
	if err != nil {
		return errf("type: %v", err)
	}
	return a.reportSet(*jsonOut, id, "type", issueType, o)
}

func (a *app) cmdDesc(args []string) int {
	flags := flag.NewFlagSet("desc", flag.ContinueOnError)
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if flags.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: drift desc <id> [text] [--json]")
		return 1
	}
	id := flags.Arg(0)
	if err := a.requireIssue(id); err != nil {
		return errf("%v", err)
	}

	var desc *string
	shown := "(cleared)"
	if flags.NArg() > 1 {
		text := strings.Join(flags.Args()[1:], " ")
		desc = &text
		shown = text
	}
	o, err := a.emit(op.SetDescription{ID: id, Description: desc})
	if err != nil {
		return errf("desc: %v", err)
	}
	return a.reportSet(*jsonOut, id, "description", shown, o)
}

func (a *app) cmdAssign(args []string) int {
	flags := flag.NewFlagSet("assign", flag.ContinueOnError)
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if flags.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: drift assign <id> [who] [--json]")
		return 1
	}
	id := flags.Arg(0)
	if err := a.requireIssue(id); err != nil {
		return errf("%v", err)
	}

	var who *string
	shown := "(unassigned)"
	if flags.NArg() > 1 {
		w := flags.Arg(1)
		who = &w
		shown = w
	}
	o, err := a.emit(op.SetAssignee{ID: id, Assignee: who})
	if err != nil {
		return errf("assign: %v", err)
	}
	return a.reportSet(*jsonOut, id, "assignee", shown, o)
}

func (a *app) reportSet(jsonOut bool, id, field, value string, o op.Op) int {
	if jsonOut {
		printJSON(map[string]interface{}{"id": id, field: value, "hlc": o.ID.String()})
	} else {
		fmt.Printf("%s %s = %s\n", id, field, value)
	}
	return 0
}
