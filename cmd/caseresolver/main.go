// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command caseresolver starts the AleutianCases resolver HTTP server.
//
// This is the main entry point for the containerized resolver service.
// It reads configuration from an optional YAML file (--config) overlaid
// with environment variables, then starts the server.
//
// # Environment Variables
//
//   - RESOLVER_PORT: HTTP server port (default: 12310)
//   - WEAVIATE_HOST: Weaviate host:port (default: localhost:8080)
//   - WEAVIATE_SCHEME: http or https (default: http)
//   - WEAVIATE_API_KEY: API key for Weaviate auth (optional)
//   - EMBEDDING_SERVICE_URL: embedding sidecar base URL (default: http://localhost:12110)
//   - LLM_BACKEND_TYPE: case naming backend - openai, ollama (default: ollama)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: aleutian-otel-collector:4317)
//   - COUNTER_PATH: daily index counter directory (default: in-memory)
//   - TUNABLES_PATH: hot-reloaded tunables YAML (optional)
//   - SCORE_THRESHOLD: default minimum similarity for linking (default: 0.85)
//   - RADIUS_METERS: default geo filter radius (default: 500)
//   - SEARCH_LIMIT: default similarity candidate cap (default: 5)
//   - LOG_LEVEL: debug, info, warn, error (default: info)
//   - LOG_DIR: duplicate logs into this directory (optional)
//
// # Usage
//
//	# Build
//	go build -o caseresolver ./cmd/caseresolver
//
//	# Run
//	./caseresolver serve
//
//	# Or via container
//	podman-compose up caseresolver
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianCases/pkg/logging"
	"github.com/AleutianAI/AleutianCases/services/resolver"
	"github.com/AleutianAI/AleutianCases/services/resolver/store"
)

// version is set at build time via -ldflags.
var version = "dev"

// configPath points at an optional YAML config file; env vars override
// its values.
var configPath string

var rootCmd = &cobra.Command{
	Use:   "caseresolver",
	Short: "Resolves incident reports into case identities",
	Long: `caseresolver assigns each incoming incident report to a case:
it links reports similar to an existing case and mints a new case ID
when no existing case matches.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the resolver HTTP server",
	Run:   runServe,
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Manage the report schema in Weaviate",
}

var schemaEnsureCmd = &cobra.Command{
	Use:   "ensure",
	Short: "Create the report class in Weaviate if it does not exist",
	Run:   runSchemaEnsure,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the caseresolver version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}

func main() {
	logger, err := logging.Setup(logging.Config{
		Level:   getEnvString("LOG_LEVEL", "info"),
		Service: "caseresolver",
		LogDir:  os.Getenv("LOG_DIR"),
	})
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logger.Close()

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	schemaCmd.AddCommand(schemaEnsureCmd)
	rootCmd.AddCommand(serveCmd, schemaCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func runServe(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	slog.Info("Starting case resolver",
		"port", cfg.Port,
		"weaviate_host", cfg.WeaviateHost,
		"llm_backend", cfg.LLMBackend,
	)

	svc, err := resolver.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create resolver: %v", err)
	}

	if err := svc.Run(); err != nil {
		log.Fatalf("Resolver error: %v", err)
	}
}

func runSchemaEnsure(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	reportStore, err := store.NewWeaviateStore(store.Config{
		Host:   cfg.WeaviateHost,
		Scheme: cfg.WeaviateScheme,
		APIKey: cfg.WeaviateAPIKey,
	})
	if err != nil {
		log.Fatalf("Failed to create report store: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := reportStore.EnsureSchema(ctx); err != nil {
		log.Fatalf("Failed to ensure schema: %v", err)
	}

	slog.Info("Schema is in place", "host", cfg.WeaviateHost)
}

// loadConfig starts from the optional YAML config file, then overlays
// environment variables.
func loadConfig() resolver.Config {
	var cfg resolver.Config

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			log.Fatalf("Error reading config file %s: %v", configPath, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("Error parsing config file %s: %v", configPath, err)
		}
		slog.Info("configuration file loaded", "path", configPath)
	}

	cfg.Port = getEnvInt("RESOLVER_PORT", orInt(cfg.Port, 12310))
	cfg.WeaviateHost = getEnvString("WEAVIATE_HOST", orString(cfg.WeaviateHost, "localhost:8080"))
	cfg.WeaviateScheme = getEnvString("WEAVIATE_SCHEME", orString(cfg.WeaviateScheme, "http"))
	cfg.WeaviateAPIKey = getEnvString("WEAVIATE_API_KEY", cfg.WeaviateAPIKey)
	cfg.EmbeddingURL = getEnvString("EMBEDDING_SERVICE_URL", orString(cfg.EmbeddingURL, "http://localhost:12110"))
	cfg.LLMBackend = getEnvString("LLM_BACKEND_TYPE", orString(cfg.LLMBackend, "ollama"))
	cfg.OTelEndpoint = getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", orString(cfg.OTelEndpoint, "aleutian-otel-collector:4317"))
	cfg.CounterPath = getEnvString("COUNTER_PATH", cfg.CounterPath)
	cfg.TunablesPath = getEnvString("TUNABLES_PATH", cfg.TunablesPath)
	cfg.ScoreThreshold = getEnvFloat("SCORE_THRESHOLD", cfg.ScoreThreshold)
	cfg.RadiusMeters = getEnvFloat("RADIUS_METERS", cfg.RadiusMeters)
	cfg.SearchLimit = getEnvInt("SEARCH_LIMIT", cfg.SearchLimit)

	return cfg
}

func orString(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

func orInt(v, fallback int) int {
	if v != 0 {
		return v
	}
	return fallback
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns the environment variable as float64 or a default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
