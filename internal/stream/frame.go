// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream interprets inbound payloads and routes reply fragments to
// the conversation awaiting them.
package stream

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// =============================================================================
// ERRORS
// =============================================================================

// ErrMalformedInbound is returned for payloads that fit no known frame.
var ErrMalformedInbound = errors.New("malformed inbound payload")

// =============================================================================
// WIRE FORMAT
// =============================================================================

// WireFormat selects how inbound payloads are framed.
type WireFormat string

const (
	// FormatLegacy: "pong" is a keepalive reply, a blank payload ends the
	// stream, anything else is a fragment taken verbatim.
	FormatLegacy WireFormat = "legacy"

	// FormatTagged: every payload is a JSON object with a type discriminant.
	FormatTagged WireFormat = "tagged"

	// FormatAuto: tagged when the payload parses as a tagged frame,
	// legacy otherwise.
	FormatAuto WireFormat = "auto"
)

// ParseWireFormat validates a configured format name. Empty means legacy.
func ParseWireFormat(s string) (WireFormat, error) {
	switch WireFormat(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatLegacy:
		return FormatLegacy, nil
	case FormatTagged:
		return FormatTagged, nil
	case FormatAuto:
		return FormatAuto, nil
	default:
		return "", errors.Errorf("unknown wire format %q (want legacy, tagged or auto)", s)
	}
}

// =============================================================================
// FRAMES
// =============================================================================

// Kind classifies an inbound frame.
type Kind int

const (
	KindAck Kind = iota
	KindFragment
	KindEnd
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindAck:
		return "ack"
	case KindFragment:
		return "fragment"
	case KindEnd:
		return "end"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Frame is one decoded inbound unit.
type Frame struct {
	Kind    Kind
	Content string
}

// KeepaliveReply is the legacy keepalive acknowledgment.
const KeepaliveReply = "pong"

type taggedFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// Decode classifies payload according to format.
func Decode(format WireFormat, payload string) (Frame, error) {
	switch format {
	case FormatTagged:
		return decodeTagged(payload)
	case FormatAuto:
		if f, err := decodeTagged(payload); err == nil {
			return f, nil
		}
		return decodeLegacy(payload), nil
	default:
		return decodeLegacy(payload), nil
	}
}

func decodeLegacy(payload string) Frame {
	switch {
	case payload == KeepaliveReply:
		return Frame{Kind: KindAck}
	case strings.TrimSpace(payload) == "":
		return Frame{Kind: KindEnd}
	default:
		return Frame{Kind: KindFragment, Content: payload}
	}
}

func decodeTagged(payload string) (Frame, error) {
	trimmed := strings.TrimSpace(payload)
	if !strings.HasPrefix(trimmed, "{") {
		return Frame{}, errors.Wrap(ErrMalformedInbound, "not a JSON object")
	}

	var tf taggedFrame
	if err := json.Unmarshal([]byte(trimmed), &tf); err != nil {
		return Frame{}, errors.Wrap(ErrMalformedInbound, err.Error())
	}

	switch tf.Type {
	case "ack", "pong":
		return Frame{Kind: KindAck}, nil
	case "fragment":
		return Frame{Kind: KindFragment, Content: tf.Content}, nil
	case "end":
		return Frame{Kind: KindEnd}, nil
	case "error":
		return Frame{Kind: KindError, Content: tf.Content}, nil
	default:
		return Frame{}, errors.Wrapf(ErrMalformedInbound, "unknown frame type %q", tf.Type)
	}
}
