package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]string {
	t.Helper()
	var out []map[string]string
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]string
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestLoggerLevelsAndFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, INFO)

	l.Debug("hidden")
	l.Info("job claimed", "job_id", "j1", "dangling")
	l.Error("send failed", "err", "boom")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "INFO", entries[0]["level"])
	assert.Equal(t, "job claimed", entries[0]["msg"])
	assert.Equal(t, "j1", entries[0]["job_id"])
	_, ok := entries[0]["dangling"]
	assert.False(t, ok)
	assert.Equal(t, "boom", entries[1]["err"])
}

func TestLoggerWithSharesSink(t *testing.T) {
	var buf bytes.Buffer
	root := New(&buf, INFO)
	child := root.With("job_id", "j1").With("project_id", "p1")

	child.Warn("retrying", "attempt", 2)

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "j1", entries[0]["job_id"])
	assert.Equal(t, "p1", entries[0]["project_id"])
	assert.Equal(t, "2", entries[0]["attempt"])

	root.sink.level.Store(int32(ERROR))
	child.Warn("suppressed")
	assert.Len(t, decodeLines(t, &buf), 1)
}

func TestLoggerRedactsEmails(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, DEBUG)
	l.Info("sent", "recipient", "john.doe@example.com", "detail", "rcpt bob.smith@corp.io rejected")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "jo***@example.com", entries[0]["recipient"])
	assert.Equal(t, "rcpt bo***@corp.io rejected", entries[0]["detail"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("DEBUG"))
	assert.Equal(t, WARN, ParseLevel("warning"))
	assert.Equal(t, ERROR, ParseLevel(" error "))
	assert.Equal(t, INFO, ParseLevel("verbose"))
}

func TestRedactEmail(t *testing.T) {
	assert.Equal(t, "jo***@example.com", RedactEmail("john.doe@example.com"))
	assert.Equal(t, "***@example.com", RedactEmail("ab@example.com"))
	assert.Equal(t, "***@***", RedactEmail("not-an-email"))
}
