package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/floegence/sechannel/config"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(config.Log{Level: "debug", Format: "json"}, &buf)
	require.NoError(t, err)
	require.Equal(t, logrus.DebugLevel, l.GetLevel())

	Component(l, "hub").WithField("address", "alice").Debug("attached")
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "hub", line["component"])
	require.Equal(t, "alice", line["address"])
	require.Equal(t, "attached", line["msg"])
}

func TestNewDisabled(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(config.Log{Disable: true}, &buf)
	require.NoError(t, err)
	l.Error("dropped")
	require.Zero(t, buf.Len())
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New(config.Log{Level: "loud"}, &bytes.Buffer{})
	require.Error(t, err)
	_, err = New(config.Log{Format: "xml"}, &bytes.Buffer{})
	require.Error(t, err)
}
