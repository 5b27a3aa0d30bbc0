package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/andresmejia3/facegate/internal/config"

	log "github.com/sirupsen/logrus"
)

// Init configures the global logger. Logs go to stderr so that command output
// on stdout stays pipeable, and are tee'd to cfg.File when set.
func Init(cfg config.LogConfig) io.Closer {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		log.Warnf("Invalid log level '%s', defaulting to 'info': %v", cfg.Level, err)
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if cfg.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp: true,
		})
	}

	writers := []io.Writer{os.Stderr}
	var file *os.File

	if cfg.File != "" {
		logDir := filepath.Dir(cfg.File)
		if err := os.MkdirAll(logDir, 0750); err != nil {
			log.Errorf("Failed to create log directory '%s': %v", logDir, err)
		} else {
			file, err = os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0660)
			if err != nil {
				log.Errorf("Failed to open log file '%s': %v", cfg.File, err)
				file = nil
			} else {
				writers = append(writers, file)
			}
		}
	}

	log.SetOutput(io.MultiWriter(writers...))
	log.WithField("level", level.String()).Debug("Logger initialized")

	if file == nil {
		return nopCloser{}
	}
	return file
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
