package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	err := app.Run(append([]string{"keyturner", "--simulate", "--log-level", "disabled"}, args...))
	return out.String(), err
}

func TestSimulatedCommands(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"pair"}, "paired with"},
		{[]string{"unlock"}, "unlock: done"},
		{[]string{"action", "--suffix", "test", "lockngo"}, "lockngo: done"},
		{[]string{"state"}, "Lock state:   locked"},
		{[]string{"battery"}, "Voltage:"},
		{[]string{"device-config"}, "Firmware:"},
		{[]string{"time-sync"}, "device time updated"},
		{[]string{"pin", "verify"}, "PIN ok"},
		{[]string{"session"}, "Paired:     false"},
	}
	for _, tc := range tests {
		t.Run(tc.args[0], func(t *testing.T) {
			out, err := run(t, tc.args...)
			require.NoError(t, err)
			assert.Contains(t, out, tc.want)
		})
	}
}

func TestInvalidArguments(t *testing.T) {
	_, err := run(t, "action", "open-sesame")
	assert.Error(t, err)

	_, err = run(t, "--store-backend", "etcd", "session")
	assert.Error(t, err)
}
