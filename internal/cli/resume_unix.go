// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build !windows

package cli

import (
	"os"
	"syscall"
)

// resumeSignals fire when the process is brought back to the foreground
// after a job-control stop (Ctrl+Z, then fg).
var resumeSignals = []os.Signal{syscall.SIGCONT}
