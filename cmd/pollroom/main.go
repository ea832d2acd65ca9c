// Package main starts the poll room real-time service and handles termination.
//
// All room state is held in memory and is lost when the process exits.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	pollroomcmd "github.com/Davshiv20/PingPollz/internal/cmd/pollroom"
	"github.com/Davshiv20/PingPollz/internal/platform/config"
)

func main() {
	cfg, err := pollroomcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	config.ExitOnError("parse flags", err)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := pollroomcmd.Run(ctx, cfg); err != nil {
		stop()
		config.Exitf("failed to serve: %v", err)
	}
}
