package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"

	"github.com/ptgott/tablekv/command"

	"github.com/rs/zerolog/log"
)

func main() {
	// Log with filename and line number. This writes to stderr, so it should
	// be thread safe.
	// https://github.com/rs/zerolog/blob/7ccd4c940bf8a02fcc5f10e5475f9d3daff04d57/log/log.go#L13
	log.Logger = log.With().Caller().Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Intercept interrupts so we can get more visibility into them. An
	// interrupt cancels whatever operation is waiting on the store.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func(c chan os.Signal) {
		<-c
		log.Info().Msg("interrupt: exiting")
		cancel()
	}(sigCh)

	err := command.Run(ctx, os.Args[1:], os.Stdout)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Error().
			Err(err).
			Strs("args", os.Args[1:]).
			Msg("the command failed")
		os.Exit(1)
	}
}
