package logger

import (
	"io"

	"github.com/sirupsen/logrus"
)

// New builds the application logger. Unknown levels fall back to warn so a
// typo in the config never silences errors.
func New(level string, out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05",
	})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.WarnLevel
	}
	log.SetLevel(lvl)
	return log
}
