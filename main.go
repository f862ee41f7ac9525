package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"accordo/internal/api"
	"accordo/internal/config"
	"accordo/internal/db"
	"accordo/internal/llm"
	"accordo/internal/logger"
	"accordo/internal/notify"
	"accordo/internal/pipeline"
)

var version = "dev"

// loadDotEnv loads environment variables from a local .env file so that
// bare binaries (without a shell) can still pick up OPENAI_* / SMTP_*
// settings. Order of lookup:
//  1. ./.env (current working directory)
//  2. <binary-dir>/.env
//
// Existing OS env vars are NOT overridden.
func loadDotEnv() {
	paths := []string{".env"}

	if exePath, err := os.Executable(); err == nil {
		if exeDir := filepath.Dir(exePath); exeDir != "" {
			paths = append(paths, filepath.Join(exeDir, ".env"))
		}
	}

	seen := make(map[string]bool)

	for _, p := range paths {
		if seen[p] {
			continue
		}
		seen[p] = true

		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		for _, line := range strings.Split(string(data), "\n") {
			l := strings.TrimSpace(line)
			if l == "" || strings.HasPrefix(l, "#") {
				continue
			}
			parts := strings.SplitN(l, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := strings.TrimSpace(parts[0])
			val := strings.TrimSpace(parts[1])
			if key == "" {
				continue
			}
			if os.Getenv(key) == "" {
				os.Setenv(key, val)
			}
		}
	}
}

func main() {
	loadDotEnv()

	port := flag.Int("port", 13380, "HTTP server port")
	host := flag.String("host", "127.0.0.1", "Host to bind to (use 0.0.0.0 to allow remote access)")
	flag.Parse()

	logger.Banner(version)

	cfg := config.FromEnv()

	database, err := db.Open()
	if err != nil {
		logger.Error("DB", fmt.Sprintf("Failed to open database: %v", err))
		os.Exit(1)
	}
	defer database.Close()

	var llmClient llm.Client
	if cfg.OpenAIAPIKey != "" {
		client, err := llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)
		if err != nil {
			logger.Warn("LLM", fmt.Sprintf("LLM disabled: %v", err))
		} else {
			llmClient = client
			logger.Info("LLM", fmt.Sprintf("Using model %s", cfg.OpenAIModel))
		}
	} else {
		logger.Warn("LLM", "No OPENAI_API_KEY set; responses use deterministic templates")
	}

	var notifier notify.Notifier = notify.NopNotifier{}
	if cfg.EmailEnabled {
		notifier = notify.NewEmailNotifier(notify.EmailConfig{
			SMTPServer: cfg.SMTPServer,
			SMTPPort:   cfg.SMTPPort,
			SMTPUser:   cfg.SMTPUser,
			SMTPPass:   cfg.SMTPPass,
			FromEmail:  cfg.FromEmail,
			ToEmail:    cfg.FromEmail,
			Enabled:    true,
		})
		logger.Info("MAIL", fmt.Sprintf("Notifications via %s:%d", cfg.SMTPServer, cfg.SMTPPort))
	}

	store := pipeline.NewSQLStore(database)
	p := pipeline.New(store, llmClient, notifier, notify.TextReporter{}, cfg)
	defer p.Close()

	server := api.New(p, store)

	logger.Section("Server")
	logger.Stats("Address", fmt.Sprintf("http://%s:%d", *host, *port))
	logger.Stats("LLM timeout", cfg.LLMTimeout)
	logger.Stats("Suggestion TTL", cfg.SuggestionTTL)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", *host, *port),
		Handler: server.Handler(),
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP", fmt.Sprintf("Server failed: %v", err))
			os.Exit(1)
		}
	}()
	logger.Success("HTTP", "Listening")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("HTTP", "Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpServer.Shutdown(shutdownCtx)
}
