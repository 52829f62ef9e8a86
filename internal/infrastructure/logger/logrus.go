package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// LogrusLogger логгер приложения на основе logrus
type LogrusLogger struct {
	entry *logrus.Entry
}

// NewLogrusLogger создает новый логгер, пишущий в stderr
func NewLogrusLogger(debugEnabled bool) *LogrusLogger {
	return NewLogrusLoggerTo(os.Stderr, debugEnabled)
}

// NewLogrusLoggerTo создает новый логгер с заданным выводом
func NewLogrusLoggerTo(out io.Writer, debugEnabled bool) *LogrusLogger {
	base := logrus.New()
	base.SetOutput(out)
	base.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})

	base.SetLevel(logrus.InfoLevel)
	if debugEnabled {
		base.SetLevel(logrus.DebugLevel)
	}

	return &LogrusLogger{entry: logrus.NewEntry(base)}
}

// Wrap оборачивает уже настроенный logrus.Logger
func Wrap(base *logrus.Logger) *LogrusLogger {
	return &LogrusLogger{entry: logrus.NewEntry(base)}
}

// WithComponent возвращает логгер с полем component
func (l *LogrusLogger) WithComponent(name string) *LogrusLogger {
	return &LogrusLogger{entry: l.entry.WithField("component", name)}
}

// Info логирует информационное сообщение
func (l *LogrusLogger) Info(msg string, args ...interface{}) {
	l.entry.Infof(msg, args...)
}

// Warn логирует предупреждение
func (l *LogrusLogger) Warn(msg string, args ...interface{}) {
	l.entry.Warnf(msg, args...)
}

// Error логирует сообщение об ошибке
func (l *LogrusLogger) Error(msg string, args ...interface{}) {
	l.entry.Errorf(msg, args...)
}

// Debug логирует отладочное сообщение
func (l *LogrusLogger) Debug(msg string, args ...interface{}) {
	l.entry.Debugf(msg, args...)
}
