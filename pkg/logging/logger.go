package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var Log *logrus.Logger

func InitLogger(debug bool) {
	Log = newLogger(os.Stdout, debug)
}

func newLogger(out io.Writer, debug bool) *logrus.Logger {
	log := logrus.New()
	log.Out = out

	if debug {
		log.SetLevel(logrus.DebugLevel)
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	} else {
		log.SetLevel(logrus.InfoLevel)
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log
}

// Logger returns the process logger, falling back to logrus' standard logger
// when InitLogger has not run (tests, library use).
func Logger() *logrus.Logger {
	if Log == nil {
		return logrus.StandardLogger()
	}
	return Log
}

// ForFile returns an entry tagged with a file id.
func ForFile(fileID string) *logrus.Entry {
	return Logger().WithField("file_id", fileID)
}
