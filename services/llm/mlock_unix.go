// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build unix

package llm

import (
	"log/slog"

	"golang.org/x/sys/unix"
)

// minMlockBytes is enough locked memory for a handful of key enclaves.
const minMlockBytes = 64 * 1024

func warnLowMlock() {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlimit); err != nil {
		slog.Warn("Could not determine mlock limit", "error", err)
		return
	}
	if rlimit.Cur == unix.RLIM_INFINITY || uint64(rlimit.Cur) >= minMlockBytes {
		return
	}
	slog.Warn("mlock limit is low, API keys may be swappable",
		"mlock_limit_kb", uint64(rlimit.Cur)/1024,
		"required_kb", minMlockBytes/1024)
}
