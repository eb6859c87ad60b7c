// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package connection

import (
	"math"
	"time"
)

// Backoff returns the reconnect delay for the given attempt (1-based):
// min(base * 2^(attempt-1), maxDelay). Attempts below 1 count as 1.
func Backoff(attempt int, base, maxDelay time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		return 0
	}

	delay := base
	for i := 1; i < attempt; i++ {
		if maxDelay > 0 && delay >= maxDelay {
			break
		}
		if delay > math.MaxInt64/2 {
			break
		}
		delay *= 2
	}
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}
	return delay
}
