package obs

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogLinesAreJSON(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(os.Stdout); EnableDebug(false) })

	Info("control.authorized", Fields{"remote": "127.0.0.1:1", "session": 3})
	Debug("hidden", nil)
	EnableDebug(true)
	Debug("shown", nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "info", rec["level"])
	assert.Equal(t, "control.authorized", rec["msg"])
	assert.Equal(t, "127.0.0.1:1", rec["remote"])
	assert.Contains(t, rec, "ts")

	require.NoError(t, json.Unmarshal([]byte(lines[1]), &rec))
	assert.Equal(t, "shown", rec["msg"])
}
