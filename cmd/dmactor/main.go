// Command dmactor is a stdio MCP server that delivers direct messages for
// rivalbot. It is launched once per notification.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"rivalbot/internal/actor"
	logx "rivalbot/pkg/logx"
)

var version = "dev"

func main() {
	cfg, err := actor.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "dmactor:", err)
		os.Exit(2)
	}

	// stdout carries the protocol; logs go to stderr only.
	log := logx.NewConsoleTo(os.Stderr, cfg.LogLevel).With(logx.String("comp", "dmactor"))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := actor.Run(ctx, cfg, log, version); err != nil {
		log.Error("dmactor stopped", logx.Err(err))
		os.Exit(1)
	}
}
