package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Service names this process in every log line
const Service = "roadwork-backend"

// Log is usable before Init, with logrus defaults.
var Log = logrus.New()

// Init configures output for the server: JSON lines (or text with
// LOG_FORMAT=text), the LOG_LEVEL threshold and the service field.
func Init() {
	Log.SetOutput(os.Stdout)
	configure(Log, os.Getenv("LOG_FORMAT"), os.Getenv("LOG_LEVEL"))
}

func configure(l *logrus.Logger, format, level string) {
	if format == "text" {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	}

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	l.SetLevel(logLevel)

	l.ReplaceHooks(make(logrus.LevelHooks))
	l.AddHook(defaultFields{"service": Service, "pid": os.Getpid()})
}

// defaultFields adds its fields to every entry that does not set them
type defaultFields logrus.Fields

func (f defaultFields) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (f defaultFields) Fire(e *logrus.Entry) error {
	for k, v := range f {
		if _, ok := e.Data[k]; !ok {
			e.Data[k] = v
		}
	}
	return nil
}
