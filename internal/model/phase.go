// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

// Phase is the connection phase exposed to the front end.
type Phase string

const (
	PhaseDisconnected Phase = "disconnected"
	PhaseConnecting   Phase = "connecting"
	PhaseConnected    Phase = "connected"
	PhaseClosing      Phase = "closing"
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	return string(p)
}

// IsOpen reports whether messages can be sent in this phase.
func (p Phase) IsOpen() bool {
	return p == PhaseConnected
}
