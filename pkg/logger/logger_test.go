package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHelpersBeforeInit(t *testing.T) {
	assert.NotPanics(t, func() {
		Debug("quiet")
		WithField("k", "v").Warn("quiet")
		LogChatEvent("message_sent", "c1", "u1", nil)
		LogError(errors.New("boom"), "test", map[string]interface{}{"n": 1})
		LogPerformance("op", time.Millisecond, nil)
	})
}

func TestNewLoggerJSON(t *testing.T) {
	l := NewLogger(Config{Level: DebugLevel, Format: JSONFormat, Output: "stderr"})
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())

	var buf bytes.Buffer
	l.SetOutput(&buf)
	l.WithField("socket_id", "s1").Info("hello")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hello", line["message"])
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "s1", line["socket_id"])
}

func TestDomainFieldsMerge(t *testing.T) {
	entry := with(logrus.Fields{"event": "e", "type": "chat_event"}, map[string]interface{}{"message_id": "m1"})
	assert.Equal(t, "e", entry.Data["event"])
	assert.Equal(t, "m1", entry.Data["message_id"])
}

func TestLevelMapping(t *testing.T) {
	assert.Equal(t, logrus.WarnLevel, getLogrusLevel(WarnLevel))
	assert.Equal(t, logrus.InfoLevel, getLogrusLevel("verbose"))
}
