// Package main is the memory sidecar. It embeds and stores conversation
// snippets and answers similarity queries over stdin/stdout.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexsjones/sidekick/internal/logging"
	"github.com/alexsjones/sidekick/internal/memory"
	"github.com/alexsjones/sidekick/internal/sidecar"
)

func main() {
	var store, dsn, model, apiKeyEnv, baseURL string

	flag.StringVar(&store, "store", getEnv("SIDEKICK_MEMORY_STORE", "sqlite"), "Storage driver (sqlite, postgres)")
	flag.StringVar(&dsn, "dsn", os.Getenv("SIDEKICK_MEMORY_DSN"), "SQLite path or PostgreSQL URL")
	flag.StringVar(&model, "model", memory.DefaultModel, "Embedding model loaded at start")
	flag.StringVar(&apiKeyEnv, "api-key-env", "OPENAI_API_KEY", "Environment variable holding the embeddings API key")
	flag.StringVar(&baseURL, "embeddings-base-url", os.Getenv("SIDEKICK_EMBEDDINGS_BASE_URL"), "Base URL of an OpenAI-compatible embeddings API")
	flag.Parse()

	log := logging.New("memory-sidecar", "info")
	fail := func(err error, msg string) {
		log.Error(err, msg)
		sidecar.NewServer(memory.Requests, nil, os.Stdout, log).Fail(err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	storage, err := memory.OpenStorage(ctx, store, dsn)
	if err != nil {
		fail(err, "failed to open memory store")
	}
	defer storage.Close()

	h, err := memory.NewHandler(storage, model, memory.EmbedderOptions{
		APIKey:  os.Getenv(apiKeyEnv),
		BaseURL: baseURL,
	}, log)
	if err != nil {
		fail(err, "failed to load embedding model")
	}

	log.Info("memory sidecar starting", "store", store, "model", model)
	srv := sidecar.NewServer(memory.Requests, h.Handle, os.Stdout, log)
	if err := srv.Serve(ctx, os.Stdin, "memory sidecar ready"); err != nil {
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
