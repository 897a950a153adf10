package logger

import (
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	Log      *logrus.Logger
	fallback *logrus.Logger
	once     sync.Once
)

// Init инициализирует структурированный логгер.
func Init(level string) {
	Log = logrus.New()

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	Log.SetLevel(lvl)

	// Используем JSON формат для production, text для development
	Log.SetFormatter(&logrus.JSONFormatter{})
}

// SetTextFormatter устанавливает текстовый формат логов (для development).
func SetTextFormatter() {
	if Log != nil {
		Log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
}

// L возвращает глобальный логгер. До вызова Init (например, в тестах)
// отдаётся логгер по умолчанию уровня warn.
func L() *logrus.Logger {
	if Log != nil {
		return Log
	}
	once.Do(func() {
		fallback = logrus.New()
		fallback.SetLevel(logrus.WarnLevel)
	})
	return fallback
}

// With возвращает логгер, помеченный именем компонента.
func With(component string) *logrus.Entry {
	return L().WithField("component", component)
}
