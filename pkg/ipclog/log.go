// Package ipclog is the structured-logging facade shared by every package
// in this module. It never decides policy on its own: callers get a
// *logrus.Entry pre-populated with the node/service context so log lines
// can be correlated across processes sharing the same host.
package ipclog

import (
	"io"
	"os"
	"path/filepath"

	"github.com/iceoryx2-go/iceoryx2/pkg/config"
	"github.com/sirupsen/logrus"
)

// New returns a root logger entry for a process participating in the IPC
// universe, tagged with its pid so log lines from different processes
// sharing stderr/syslog can be told apart.
func New(cfg config.Global) *logrus.Entry {
	var log *logrus.Logger
	if cfg.Debug || os.Getenv("DEBUG") == "TRUE" {
		log = newDevelopmentLogger(cfg)
	} else {
		log = newProductionLogger()
	}

	log.Formatter = &logrus.JSONFormatter{}

	return log.WithFields(logrus.Fields{
		"pid":  os.Getpid(),
		"root": cfg.Root,
	})
}

func getLogLevel() logrus.Level {
	strLevel := os.Getenv("LOG_LEVEL")
	level, err := logrus.ParseLevel(strLevel)
	if err != nil {
		return logrus.DebugLevel
	}
	return level
}

func newDevelopmentLogger(cfg config.Global) *logrus.Logger {
	log := logrus.New()
	log.SetLevel(getLogLevel())

	if err := os.MkdirAll(cfg.Root, 0o755); err == nil {
		if file, err := os.OpenFile(filepath.Join(cfg.Root, "iceoryx2.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666); err == nil {
			log.SetOutput(file)
			return log
		}
	}
	log.SetOutput(os.Stderr)
	return log
}

func newProductionLogger() *logrus.Logger {
	log := logrus.New()
	log.Out = io.Discard
	log.SetLevel(logrus.ErrorLevel)
	return log
}
