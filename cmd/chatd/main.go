// Package main starts the live chat service and handles termination.
//
// The process is a transport adapter around conversation persistence and
// message fan-out; the marketing site embeds the matching client packages.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	chatdcmd "github.com/aeriallens/livechat/internal/cmd/chatd"
)

func main() {
	cfg, err := chatdcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[CHATD] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := chatdcmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
