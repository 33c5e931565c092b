// Command watchdogctl is a companion CLI for watchdogd: one-shot
// introspection subcommands (ps, eval) that need no running daemon, plus
// thin REST clients (status, profiles) against a running daemon's healthz
// HTTP server.
package main

import "github.com/watchdogd/watchdogd/cmd/watchdogctl/cmd"

func main() {
	cmd.Execute()
}
