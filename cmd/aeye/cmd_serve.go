// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AEyeAssistant/services/orchestrator"
)

func newServeCmd(opts *globalOptions) *cobra.Command {
	var port int
	var watchDocs bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.Server.Port = port
			}
			if watchDocs {
				cfg.Knowledge.WatchDocs = true
			}
			logger, err := setupLogging(cfg, "orchestrator", false)
			if err != nil {
				return err
			}
			defer logger.Close()
			gin.SetMode(cfg.Server.GinMode)

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			svc, err := orchestrator.New(ctx, cfg, nil)
			if err != nil {
				return fmt.Errorf("failed to create orchestrator: %w", err)
			}
			defer svc.Close()

			slog.Info("Serving", "port", cfg.Server.Port)
			return svc.Run(ctx)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "override server.port")
	cmd.Flags().BoolVar(&watchDocs, "watch-docs", false, "re-index knowledge.docs_dir on change")
	return cmd
}
