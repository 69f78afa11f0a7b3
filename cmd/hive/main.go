// Hive is the control-plane CLI for the multi-agent development
// orchestrator: it creates workspaces, submits requirements, drives the
// Scheduler and Manager Daemon, and gives agents and humans the narrow set
// of commands that are allowed to mutate shared state (spec §6).
package main

import (
	"fmt"
	"os"
)

var verbs = map[string]func([]string) error{
	"init":       cmdInit,
	"add-repo":   cmdAddRepo,
	"req":        cmdReq,
	"assign":     cmdAssign,
	"pr":         cmdPR,
	"my-stories": cmdMyStories,
	"progress":   cmdProgress,
	"approach":   cmdApproach,
	"msg":        cmdMsg,
	"escalate":   cmdEscalateAgent,
	"approvals":  cmdApprovals,
	"auth":       cmdAuth,
	"pm":         cmdPM,
	"manager":    cmdManager,
	"cleanup":    cmdCleanup,
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return 1
	}

	verb, rest := args[0], args[1:]
	if verb == "-h" || verb == "--help" || verb == "help" {
		usage()
		return 0
	}

	fn, ok := verbs[verb]
	if !ok {
		fmt.Fprintf(os.Stderr, "hive: unknown command %q\n", verb)
		usage()
		return 1
	}

	if err := fn(rest); err != nil {
		if ee, ok := err.(exitErr); ok {
			fmt.Fprintf(os.Stderr, "hive: %v\n", ee.err)
			return ee.code
		}
		fmt.Fprintf(os.Stderr, "hive: %v\n", err)
		return 2
	}
	return 0
}

func usage() {
	fmt.Fprintln(os.Stderr, `hive - multi-agent development orchestrator control plane

Usage: hive <command> [arguments]

Commands:
  init [--force]                     create workspace and database
  add-repo --url --team [--branch]   register a team and its repository
  req "<text>" | <epic-url>          submit a requirement
  assign [--dry-run]                 invoke the scheduler once
  pr <submit|queue|review|show|approve|reject|sync>   merge-queue operations
  my-stories <session> [--all]       list stories assigned to an agent
  my-stories claim|complete|refactor agent-facing story transitions
  progress <story> -m ... [--done]   post a progress update
  approach <story> ...               record an implementation approach
  msg send|outbox                    inter-agent messaging
  escalate                           file an agent-originated escalation
  approvals list|show|approve|deny   resolve human escalations
  auth [--provider ...]              check the PM provider config
  pm search|fetch ...                PM provider search/fetch
  manager start|stop|status          control the Manager Daemon
  cleanup [--dry-run|--force ...]    scan for and remove orphaned state`)
}
