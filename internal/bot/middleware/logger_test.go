package middleware

import (
	"os"
	"path/filepath"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupLoggingWritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "wenbot.log")
	closeLog := SetupLogging("warn", LogFileOptions{Path: path, MaxSizeMB: 1, MaxBackups: 1, MaxAgeDays: 1})
	t.Cleanup(func() {
		closeLog()
		SetupLogging("info", LogFileOptions{})
	})

	assert.Equal(t, log.WarnLevel, log.GetLevel())
	log.Warn("wen moon")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "wen moon")
}

func TestSetupLoggingUnknownLevel(t *testing.T) {
	SetupLogging("loud", LogFileOptions{})()
	assert.Equal(t, log.InfoLevel, log.GetLevel())
}

func TestLogMessageToleratesPartialMessages(t *testing.T) {
	assert.NotPanics(t, func() {
		LogMessage(nil)
		LogMessage(&tgbotapi.Message{Text: "wen"})
		LogMessage(&tgbotapi.Message{
			Caption: "очень длинная подпись к картинке, которую надо обрезать до пятидесяти символов",
			From:    &tgbotapi.User{ID: 1},
			Chat:    &tgbotapi.Chat{ID: -1},
		})
	})
}

func TestRecoverFromPanicSwallowsPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		defer RecoverFromPanic(log.Fields{"update_id": 1})
		panic("boom")
	})
}
