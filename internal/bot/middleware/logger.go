// Package middleware содержит промежуточные обработчики для логирования,
// восстановления после паники и rate-limiting команд.
package middleware

import (
	"io"
	"os"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogFileOptions — параметры файла логов с ротацией.
type LogFileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// SetupLogging настраивает logrus: текстовый формат, stdout и, если задан путь,
// файл с ротацией через lumberjack. Возвращает функцию закрытия файла.
func SetupLogging(level string, file LogFileOptions) func() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	log.SetOutput(os.Stdout)

	if lvl, err := log.ParseLevel(level); err == nil {
		log.SetLevel(lvl)
	} else {
		log.WithField("level", level).Warn("Неизвестный уровень логов, оставляем info")
		log.SetLevel(log.InfoLevel)
	}

	if file.Path == "" {
		return func() {}
	}

	rotating := &lumberjack.Logger{
		Filename:   file.Path,
		MaxSize:    file.MaxSizeMB,
		MaxBackups: file.MaxBackups,
		MaxAge:     file.MaxAgeDays,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stdout, rotating))
	log.WithField("path", file.Path).Info("Логи пишутся в файл")
	return func() { _ = rotating.Close() }
}

// LogMessage логирует входящее сообщение.
// Записывает: user_id, chat_id, username, текст (первые 50 символов).
func LogMessage(message *tgbotapi.Message) {
	if message == nil || message.From == nil || message.Chat == nil {
		return
	}

	text := message.Text
	if text == "" {
		text = message.Caption
	}
	if r := []rune(text); len(r) > 50 {
		text = string(r[:50]) + "..."
	}

	log.WithFields(log.Fields{
		"user_id":  message.From.ID,
		"chat_id":  message.Chat.ID,
		"username": message.From.UserName,
		"text":     text,
	}).Debug("Входящее сообщение")
}
