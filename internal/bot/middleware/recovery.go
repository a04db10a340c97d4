package middleware

import (
	"fmt"
	"runtime/debug"

	log "github.com/sirupsen/logrus"
)

// RecoverFromPanic вызывается через defer в начале обработки апдейта.
// fields попадают в лог рядом со стеком, чтобы было видно, на каком чате упали.
func RecoverFromPanic(fields log.Fields) {
	r := recover()
	if r == nil {
		return
	}
	log.WithFields(fields).WithFields(log.Fields{
		"component": "panic_recovery",
		"panic":     fmt.Sprintf("%v", r),
		"stack":     string(debug.Stack()),
	}).Error("Паника при обработке апдейта, апдейт пропущен")
}
