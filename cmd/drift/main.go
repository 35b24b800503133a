// Command drift is an offline-first distributed issue tracker. Every
// change is an operation stamped with a hybrid logical clock; replicas
// converge by exchanging operations through a relay.
package main

import (
	"fmt"
	"os"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "--help", "-h", "help":
		printUsage()
		return
	case "--version", "-v", "version":
		fmt.Println("drift", version)
		return
	case "init":
		os.Exit(cmdInit(os.Args[2:]))
	case "serve":
		os.Exit(cmdServe(os.Args[2:]))
	}

	a, err := newApp()
	if err != nil {
		fatal("%v", err)
	}
	defer a.Close()

	switch os.Args[1] {
	// Mutations
	case "create":
		os.Exit(a.cmdCreate(os.Args[2:]))
	case "status":
		os.Exit(a.cmdStatus(os.Args[2:]))
	case "title":
		os.Exit(a.cmdTitle(os.Args[2:]))
	case "type":
		os.Exit(a.cmdType(os.Args[2:]))
	case "desc":
		os.Exit(a.cmdDesc(os.Args[2:]))
	case "assign":
		os.Exit(a.cmdAssign(os.Args[2:]))
	case "label":
		os.Exit(a.cmdLabel(os.Args[2:]))
	case "note":
		os.Exit(a.cmdNote(os.Args[2:]))
	case "dep":
		os.Exit(a.cmdDep(os.Args[2:]))
	case "rename-prefix":
		os.Exit(a.cmdRenamePrefix(os.Args[2:]))

	// Queries
	case "show":
		os.Exit(a.cmdShow(os.Args[2:]))
	case "list", "ls":
		os.Exit(a.cmdList(os.Args[2:]))
	case "ready":
		os.Exit(a.cmdReady(os.Args[2:]))
	case "log":
		os.Exit(a.cmdLog(os.Args[2:]))

	// Sync
	case "sync":
		os.Exit(a.cmdSync(os.Args[2:]))
	case "watch":
		os.Exit(a.cmdWatch(os.Args[2:]))

	default:
		fmt.Fprintf(os.Stderr, "drift: unknown command %q\n", os.Args[1])
		fmt.Fprintln(os.Stderr, "Run 'drift --help' for usage.")
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`drift — offline-first distributed issue tracking

Operations are stamped with hybrid logical clocks, stored in an
append-only log, and merged deterministically on every replica.

Usage:
  drift <command> [flags]

Setup:
  init --prefix P [--relay URL]   Initialize a workspace

Mutations:
  create <title> [--type T]       Create an issue
  status <id> <status> [--reason] Set status (open|in_progress|blocked|closed)
  title <id> <title>              Set title
  type <id> <type>                Set issue type
  desc <id> [text]                Set description (no text clears)
  assign <id> [who]               Set assignee (no who clears)
  label <add|rm> <id> <label>     Edit the label set
  note <id> <body>                Append a note
  dep <add|rm> <from> <to>        Edit dependencies (--relation, default blocks)
  rename-prefix <old> <new>       Rewrite every id under a prefix

Queries:
  show <id>                       Show one issue with labels, notes, deps
  list [--status S]               List issues (alias: ls)
  ready                           List open issues with no open blockers
  log [--since HLC]               Print the operation log

Sync:
  sync                            One exchange with the relay
  watch                           Stay connected, applying changes live
  serve [--addr A] [--data DIR]   Run a relay server

Environment:
  DRIFT_DIR           Workspace directory (default: .drift)
  DRIFT_LOG           Log level (default: warn)
  DRIFT_RELAY_*       Relay server settings for serve

All mutation commands support --json for machine-readable output.
`)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "drift: "+format+"\n", args...)
	os.Exit(1)
}
