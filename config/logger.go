package config

import (
	"os"

	"github.com/sirupsen/logrus"
)

var Log *logrus.Logger

// InitLogger configures the shared logrus instance. Engines receive it by
// injection; the package variable exists for embedding apps that want the
// same logger.
func InitLogger() {
	Log = logrus.New()

	// Set formatter to JSON
	Log.SetFormatter(&logrus.JSONFormatter{})

	// Set output to stdout (default)
	Log.SetOutput(os.Stdout)

	// Set log level - configurable via LOG_LEVEL
	level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		level = logrus.InfoLevel
	}
	Log.SetLevel(level)
}

// GetLogger returns the shared logger, initializing it on first use.
func GetLogger() *logrus.Logger {
	if Log == nil {
		InitLogger()
	}
	return Log
}
