// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aughey/framebridge/pkg/errutil"
	"github.com/aughey/framebridge/pkg/plugin"
)

func newDefaultParser(t *testing.T) *Parser {
	t.Helper()
	p, err := DefaultParser()
	require.NoError(t, err)
	return p
}

func TestParse(t *testing.T) {
	p := newDefaultParser(t)

	tests := []struct {
		name    string
		payload string
		want    Command
	}{
		{"shutdown true", `{"shutdown": true}`, ShutdownCommand{Shutdown: true}},
		{"shutdown false", `{"shutdown": false}`, ShutdownCommand{Shutdown: false}},
		{"speed test on", `{"speed_test": true}`, SpeedTestCommand{SpeedTest: true}},
		{"speed test off", `{"speed_test": false}`, SpeedTestCommand{SpeedTest: false}},
		{"extra fields ignored", `{"speed_test": true, "sender": "ops"}`, SpeedTestCommand{SpeedTest: true}},
		{"ambiguous resolves to first declared", `{"shutdown": true, "speed_test": true}`, ShutdownCommand{Shutdown: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.Parse([]byte(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_ProtocolErrors(t *testing.T) {
	p := newDefaultParser(t)

	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `shutdown`},
		{"empty", ``},
		{"unknown command", `{"reboot": true}`},
		{"wrong type", `{"shutdown": "yes"}`},
		{"array", `[true]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Parse([]byte(tt.payload))
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, plugin.CodeProtocolError)
			assert.Equal(t, plugin.KindProtocol, plugin.KindOf(err))
		})
	}
}

func TestParse_PrecedenceFollowsRegistrationOrder(t *testing.T) {
	p := NewParser()
	require.NoError(t, Register[SpeedTestCommand](p))
	require.NoError(t, Register[ShutdownCommand](p))

	got, err := p.Parse([]byte(`{"shutdown": true, "speed_test": true}`))
	require.NoError(t, err)
	assert.Equal(t, SpeedTestCommand{SpeedTest: true}, got)
}

func TestRegister_RejectsDuplicate(t *testing.T) {
	p := NewParser()
	require.NoError(t, Register[ShutdownCommand](p))

	err := Register[ShutdownCommand](p)
	errutil.AssertErrorCode(t, err, "DUPLICATE_COMMAND")
	assert.Equal(t, []string{"shutdown"}, p.Names())
}

func TestParser_Names(t *testing.T) {
	p := newDefaultParser(t)
	assert.Equal(t, []string{"shutdown", "speed_test"}, p.Names())
}

func TestParser_Schema(t *testing.T) {
	p := newDefaultParser(t)

	raw, ok := p.Schema("speed_test")
	require.True(t, ok)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, SchemaBaseURL+"speed_test.schema.json", doc["$id"])
	assert.Contains(t, doc["required"], "speed_test")

	_, ok = p.Schema("reboot")
	assert.False(t, ok)
}

func TestGenerateSchema_BoolProperty(t *testing.T) {
	raw, err := GenerateSchema(&ShutdownCommand{})
	require.NoError(t, err)

	var doc struct {
		Properties map[string]struct {
			Type string `json:"type"`
		} `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "boolean", doc.Properties["shutdown"].Type)
}
