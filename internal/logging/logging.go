// Package logging builds the component loggers used across the toolkit.
package logging

import (
	"io"
	"os"

	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
)

// New returns a logger tagged with the given component. Diagnostics go to
// stderr so that machine-readable stdout stays clean.
func New(component string, verbose bool) *logrus.Entry {
	return NewWithWriter(os.Stderr, component, verbose)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, component string, verbose bool) *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: false,
		FullTimestamp:    true,
	})
	logger.SetLevel(logrus.InfoLevel)
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger.WithField("component", component)
}

// Discard returns a logger that drops everything. Used by tests and by
// callers that pass no logger.
func Discard() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

// MirrorToFile adds a hook that copies every entry at or above Debug into
// path as JSON lines. The file is created if needed.
func MirrorToFile(entry *logrus.Entry, path string) {
	pathMap := lfshook.PathMap{}
	for _, level := range logrus.AllLevels {
		pathMap[level] = path
	}
	entry.Logger.AddHook(lfshook.NewHook(pathMap, &logrus.JSONFormatter{}))
}
