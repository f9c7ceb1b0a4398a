// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command orchestrator starts the AEye assistant HTTP server.
//
// This is the entry point for the containerized service. Configuration
// comes from the YAML file named by AEYE_CONFIG (optional) and environment
// overrides; see services/orchestrator/config for the full list.
//
// # Environment Variables
//
//   - AEYE_CONFIG: YAML configuration file (optional)
//   - AEYE_PORT: HTTP server port (default: 12210)
//   - LLM_BACKEND_TYPE: openai, ollama, anthropic or llamacpp (default: ollama)
//   - WEAVIATE_SERVICE_URL: Enables the knowledge store
//   - INFLUXDB_URL: Reads health sessions from InfluxDB instead of CSV
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector
//
// # Usage
//
//	go build -o orchestrator ./cmd/orchestrator
//	./orchestrator
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AEyeAssistant/pkg/logging"
	"github.com/AleutianAI/AEyeAssistant/services/orchestrator"
	"github.com/AleutianAI/AEyeAssistant/services/orchestrator/config"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Orchestrator error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "orchestrator",
		JSON:    cfg.Logging.JSON,
		Output:  os.Stdout,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())
	gin.SetMode(cfg.Server.GinMode)

	slog.Info("Starting orchestrator",
		"port", cfg.Server.Port,
		"llm_backend", cfg.LLM.Backend,
		"knowledge_enabled", cfg.Knowledge.Enabled,
		"health_log", cfg.HealthLog.Backend,
		"memory", cfg.Memory.Backend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := orchestrator.New(ctx, cfg, nil)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	defer svc.Close()

	return svc.Run(ctx)
}
