// Package main is the speech sidecar. It synthesizes text with a loaded
// voice and plays it on the host's audio devices.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexsjones/sidekick/internal/logging"
	"github.com/alexsjones/sidekick/internal/sidecar"
	"github.com/alexsjones/sidekick/internal/tts"
)

func main() {
	var baseURL, apiKeyEnv, aplay, logLevel string

	flag.StringVar(&baseURL, "base-url", os.Getenv("SIDEKICK_TTS_BASE_URL"), "Speech API base URL")
	flag.StringVar(&apiKeyEnv, "api-key-env", "OPENAI_API_KEY", "Environment variable holding the API key")
	flag.StringVar(&aplay, "aplay", "aplay", "aplay executable used for playback")
	flag.StringVar(&logLevel, "log-level", getEnv(logging.EnvLevel, "info"), "Log level (debug, info, error)")
	flag.Parse()

	log := logging.New("tts-sidecar", logLevel)

	backend := tts.NewBackend(tts.BackendOptions{
		APIKey:  os.Getenv(apiKeyEnv),
		BaseURL: baseURL,
	})
	player := &tts.AplayPlayer{Bin: aplay, Log: log.WithName("player")}
	srv := sidecar.NewServer(tts.Requests, tts.NewHandler(backend, player, log).Handle, os.Stdout, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("TTS sidecar starting")
	if err := srv.Serve(ctx, os.Stdin, "TTS sidecar ready"); err != nil {
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
