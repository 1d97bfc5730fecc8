// Package main is the chat bot sidecar. It logs into Discord, joins voice
// channels, and streams per-user utterances to the parent as events.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexsjones/sidekick/internal/logging"
	"github.com/alexsjones/sidekick/internal/sidecar"
	"github.com/alexsjones/sidekick/internal/voicebot"
	"github.com/alexsjones/sidekick/internal/wire"
)

func main() {
	var silence time.Duration
	var logLevel string

	flag.DurationVar(&silence, "silence", voicebot.DefaultSilenceTimeout, "Silence that ends an utterance")
	flag.StringVar(&logLevel, "log-level", getEnv(logging.EnvLevel, "info"), "Log level (debug, info, error)")
	flag.Parse()

	log := logging.New("bot-sidecar", logLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// The listener emits on its own goroutine; srv is set before any request
	// can start it.
	var srv *sidecar.Server
	h := voicebot.NewHandler(voicebot.NewDiscordGateway(), func(m wire.Message) error {
		return srv.Emit(m)
	}, silence, log)
	srv = sidecar.NewServer(voicebot.Requests, h.Handle, os.Stdout, log)

	log.Info("bot sidecar starting", "silence", silence.String())
	if err := srv.Serve(ctx, os.Stdin, "bot sidecar ready"); err != nil {
		log.Error(err, "serve failed")
		os.Exit(1)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
