package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "validate":
		return runValidate(args[1:])
	case "resolve", "run-once":
		return runResolve(args[1:])
	case "consume":
		return runConsume(args[1:])
	case "sweep":
		return runSweep(args[1:])
	case "regions":
		return runRegions(args[1:])
	case "events":
		return runEvents(args[1:])
	case "runs":
		return runRuns(args[1:])
	case "serve":
		return runServe(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "flashpoint CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  flashpoint <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health     Verify event store connectivity")
	fmt.Fprintln(os.Stderr, "  validate   Validate article JSON/JSONL files against the v1 schema")
	fmt.Fprintln(os.Stderr, "  resolve    Resolve one batch of articles from files and feeds into events")
	fmt.Fprintln(os.Stderr, "  run-once   Alias for resolve")
	fmt.Fprintln(os.Stderr, "  consume    Resolve articles streamed from Kafka")
	fmt.Fprintln(os.Stderr, "  sweep      Expire stale events and decay region escalation once")
	fmt.Fprintln(os.Stderr, "  regions    Print the current region escalation snapshot")
	fmt.Fprintln(os.Stderr, "  events     List resolved events")
	fmt.Fprintln(os.Stderr, "  runs       List recent batch runs")
	fmt.Fprintln(os.Stderr, "  serve      Start the HTTP API and the scheduled sweep")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"flashpoint <command> -h\" for command-specific flags.")
}
