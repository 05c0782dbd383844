// Package main provides the berth binary.
//
// Berth drives container deployments through their lifecycle: image
// resolution, container start, readiness, endpoint assignment, stop,
// rollback, and retention cleanup. One binary serves both the operator CLI
// and the long-running agent.
//
// Usage:
//
//	berth [-config path] <command> [args...]
//
// Commands:
//
//	deploy -f <manifest> [-detach] [-timeout d]  - Deploy from a YAML manifest
//	stop <deployment-id>                         - Stop a deployment
//	rollback [-detach] <project-id>              - Roll a project back to its previous image
//	get <deployment-id>                          - Show one deployment record
//	list <project-id>                            - List a project's deployments, newest first
//	logs [-f] <deployment-id>                    - Print a deployment's log transcript
//	stats                                        - Show deployment counts
//	cleanup <project-id> [keep]                  - Prune old deployment records
//	agent                                        - Run the long-lived agent
//	version                                      - Show version
package main

import (
	"flag"
	"fmt"
	"os"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "Path to config file")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("berth %s (built %s)\n", Version, BuildTime)
		return ExitSuccess
	}

	args := flag.Args()
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: berth [-config path] <command> [args...]")
		fmt.Fprintln(os.Stderr, "run \"berth help\" for the command list")
		return ExitUsageError
	}

	return dispatch(*configPath, args[0], args[1:])
}
