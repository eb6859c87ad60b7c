// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name      string
		format    WireFormat
		payload   string
		want      Frame
		malformed bool
	}{
		{"legacy pong", FormatLegacy, "pong", Frame{Kind: KindAck}, false},
		{"legacy empty end", FormatLegacy, "", Frame{Kind: KindEnd}, false},
		{"legacy blank end", FormatLegacy, " \n\t", Frame{Kind: KindEnd}, false},
		{"legacy fragment verbatim", FormatLegacy, " there ", Frame{Kind: KindFragment, Content: " there "}, false},
		{"legacy backend error is a fragment", FormatLegacy, "Error: timeout", Frame{Kind: KindFragment, Content: "Error: timeout"}, false},
		{"legacy json is a fragment", FormatLegacy, `{"type":"end"}`, Frame{Kind: KindFragment, Content: `{"type":"end"}`}, false},

		{"tagged fragment", FormatTagged, `{"type":"fragment","content":"Hi"}`, Frame{Kind: KindFragment, Content: "Hi"}, false},
		{"tagged empty fragment", FormatTagged, `{"type":"fragment","content":""}`, Frame{Kind: KindFragment}, false},
		{"tagged end", FormatTagged, `{"type":"end"}`, Frame{Kind: KindEnd}, false},
		{"tagged ack", FormatTagged, `{"type":"ack"}`, Frame{Kind: KindAck}, false},
		{"tagged error", FormatTagged, `{"type":"error","content":"boom"}`, Frame{Kind: KindError, Content: "boom"}, false},
		{"tagged raw text", FormatTagged, "Hi", Frame{}, true},
		{"tagged unknown type", FormatTagged, `{"type":"chunk"}`, Frame{}, true},
		{"tagged broken json", FormatTagged, `{"type":`, Frame{}, true},

		{"auto tagged", FormatAuto, `{"type":"end"}`, Frame{Kind: KindEnd}, false},
		{"auto legacy pong", FormatAuto, "pong", Frame{Kind: KindAck}, false},
		{"auto legacy text", FormatAuto, "Hi", Frame{Kind: KindFragment, Content: "Hi"}, false},
		{"auto unknown json falls back", FormatAuto, `{"x":1}`, Frame{Kind: KindFragment, Content: `{"x":1}`}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Decode(tc.format, tc.payload)
			if tc.malformed {
				assert.ErrorIs(t, err, ErrMalformedInbound)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseWireFormat(t *testing.T) {
	for in, want := range map[string]WireFormat{
		"":       FormatLegacy,
		"legacy": FormatLegacy,
		"TAGGED": FormatTagged,
		" auto ": FormatAuto,
	} {
		got, err := ParseWireFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseWireFormat("protobuf")
	assert.Error(t, err)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "fragment", KindFragment.String())
	assert.Equal(t, "end", KindEnd.String())
	assert.Equal(t, "unknown", Kind(42).String())
}
