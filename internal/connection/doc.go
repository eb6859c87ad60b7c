// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package connection owns the long-lived streaming connection to the chat
// backend.
//
// Manager keeps at most one live socket. Every trigger that may open a
// connection (explicit Connect, the retry timer, the health-check ticker,
// Resume, a manual Reconnect) enters through one state-guarded path, so two
// triggers firing together never produce two sockets:
//
//	idle ──Connect──▶ connecting ──ok──▶ connected
//	  ▲                   │                  │
//	  │                 fail               drop
//	  │                   ▼                  ▼
//	  └──Disconnect── awaitingRetry ◀────────┘
//
// Each socket belongs to a numbered generation. Callbacks from a socket
// whose generation has been superseded are ignored.
//
// Inbound payloads are handed to a Handler on the socket's read goroutine,
// one at a time and in arrival order.
package connection
