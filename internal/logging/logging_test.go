package logging

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogger_KeyValues(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelDebug)

	l.Info("workflow started", "workflow_id", "abc", "steps", 3, "err", errors.New("oracle said no"))

	out := buf.String()
	assert.Contains(t, out, "INFO: workflow started")
	assert.Contains(t, out, "workflow_id=abc")
	assert.Contains(t, out, "steps=3")
	assert.Contains(t, out, `err="oracle said no"`)
}

func TestLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelWarn)

	l.Debug("hidden")
	l.Info("hidden too")
	l.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "WARN: shown")
}

func TestLogger_OddArguments(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, LevelDebug).Error("boom", "dangling")
	assert.Contains(t, buf.String(), "!BADKEY=dangling")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel("WARNING"))
	assert.Equal(t, LevelError, ParseLevel("error"))
	assert.Equal(t, LevelInfo, ParseLevel("something"))
}

func TestNop(t *testing.T) {
	assert.NotPanics(t, func() { Nop().Error("nothing", "k", "v") })
}
