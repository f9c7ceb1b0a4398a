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

package badger

import (
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"
)

// checkOpenFiles fails when the soft RLIMIT_NOFILE is below min.
func checkOpenFiles(min uint64) error {
	if min == 0 {
		return nil
	}
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlimit); err != nil {
		slog.Warn("Could not determine open file limit", "error", err)
		return nil
	}
	if rlimit.Cur == unix.RLIM_INFINITY || uint64(rlimit.Cur) >= min {
		return nil
	}
	return fmt.Errorf("open file limit %d is below the %d badger needs; raise it with ulimit -n", rlimit.Cur, min)
}
