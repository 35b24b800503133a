package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/daviddao/drift/pkg/op"
)

func (a *app) cmdCreate(args []string) int {
	flags := flag.NewFlagSet("create", flag.ContinueOnError)
	issueType := flags.String("type", "task", "issue type")
	desc := flags.String("desc", "", "initial description")
	label := flags.String("label", "", "initial label")
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if flags.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: drift create <title> [--type T] [--desc D] [--label L] [--json]")
		return 1
	}
	title := strings.Join(flags.Args(), " ")

	id := newIssueID(a.cfg.Prefix)
	o, err := a.emit(op.CreateIssue{ID: id, IssueType: *issueType, Title: title})
	if err != nil {
		return errf("create: %v", err)
	}
	if *desc != "" {
		if _, err := a.emit(op.SetDescription{ID: id, Description: desc}); err != nil {
			return errf("create: desc: %v", err)
		}
	}
	if *label != "" {
		if _, err := a.emit(op.AddLabel{ID: id, Label: *label}); err != nil {
			return errf("create: label: %v", err)
		}
	}

	if *jsonOut {
		printJSON(map[string]interface{}{"id": id, "hlc": o.ID.String()})
	} else {
		fmt.Println(id)
	}
	return 0
}

// newIssueID builds "<prefix>-<suffix>" with a short random suffix.
// Uniqueness within a tracker of realistic size; collisions surface as
// an idempotent no-op create, never corruption.
func newIssueID(prefix string) string {
	u := uuid.New()
	return prefix + "-" + strings.ReplaceAll(u.String(), "-", "")[:8]
}
