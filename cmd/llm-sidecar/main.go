// Package main is the inference sidecar. It is started by sidekick and
// speaks the line protocol on stdin/stdout.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexsjones/sidekick/internal/llm"
	"github.com/alexsjones/sidekick/internal/logging"
	"github.com/alexsjones/sidekick/internal/sidecar"
)

func main() {
	var provider, baseURL, apiKeyEnv, apiVersion string

	flag.StringVar(&provider, "provider", getEnv("SIDEKICK_LLM_PROVIDER", "openai"), "Backend provider (openai, ollama, azure-openai, anthropic)")
	flag.StringVar(&baseURL, "base-url", os.Getenv("SIDEKICK_LLM_BASE_URL"), "Backend base URL")
	flag.StringVar(&apiKeyEnv, "api-key-env", "OPENAI_API_KEY", "Environment variable holding the API key")
	flag.StringVar(&apiVersion, "api-version", os.Getenv("AZURE_OPENAI_API_VERSION"), "Azure OpenAI API version")
	flag.Parse()

	log := logging.New("llm-sidecar", "info")

	backend, err := llm.NewBackend(llm.BackendOptions{
		Provider:   provider,
		APIKey:     os.Getenv(apiKeyEnv),
		BaseURL:    baseURL,
		APIVersion: apiVersion,
	})
	if err != nil {
		log.Error(err, "failed to create backend")
		sidecar.NewServer(llm.Requests, nil, os.Stdout, log).Fail(err)
		os.Exit(1)
	}
	srv := sidecar.NewServer(llm.Requests, llm.NewHandler(backend, log).Handle, os.Stdout, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("llm sidecar starting", "provider", provider)
	if err := srv.Serve(ctx, os.Stdin, "llm sidecar ready"); err != nil {
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
