// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command aeye is the operator CLI for the AEye assistant.
//
// # Commands
//
//   - serve: Run the HTTP orchestrator
//   - chat: Talk to the assistant in the terminal
//   - ingest-logs: Load a summary.csv export into InfluxDB
//   - index-docs: Chunk, embed and index eye-health documents into Weaviate
//   - config init: Write a default configuration file
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
