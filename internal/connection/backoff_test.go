// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package connection

import (
	"testing"
	"time"
)

func TestBackoff_Sequence(t *testing.T) {
	want := []time.Duration{1, 2, 4, 8, 15, 15, 15}
	for i, w := range want {
		got := Backoff(i+1, time.Second, 15*time.Second)
		if got != w*time.Second {
			t.Errorf("attempt %d: got %v, want %v", i+1, got, w*time.Second)
		}
	}
}

func TestBackoff_EdgeCases(t *testing.T) {
	tests := []struct {
		name    string
		attempt int
		base    time.Duration
		max     time.Duration
		want    time.Duration
	}{
		{"attempt zero counts as one", 0, time.Second, 15 * time.Second, time.Second},
		{"negative attempt", -3, time.Second, 15 * time.Second, time.Second},
		{"huge attempt stays capped", 10000, time.Second, 15 * time.Second, 15 * time.Second},
		{"base above cap", 1, time.Minute, 15 * time.Second, 15 * time.Second},
		{"zero base", 5, 0, 15 * time.Second, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Backoff(tc.attempt, tc.base, tc.max); got != tc.want {
				t.Errorf("Backoff(%d, %v, %v) = %v, want %v", tc.attempt, tc.base, tc.max, got, tc.want)
			}
		})
	}
}

func TestBackoff_UncappedDoesNotOverflow(t *testing.T) {
	if got := Backoff(200, time.Second, 0); got <= 0 {
		t.Errorf("Backoff overflowed: %v", got)
	}
}
