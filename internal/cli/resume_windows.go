// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build windows

package cli

import "os"

// No job control on Windows.
var resumeSignals []os.Signal
