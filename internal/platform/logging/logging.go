package logging

import (
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/the-marketplace/project/internal/config"
)

// Setup configures the global logrus logger and returns an entry tagged with
// the service name.
func Setup(cfg config.Logging, service string) *log.Entry {
	log.SetOutput(os.Stdout)
	if strings.EqualFold(cfg.Format, "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)

	entry := log.WithField("service", service)
	if err != nil && cfg.Level != "" {
		entry.WithField("level", cfg.Level).Warn("unknown log level, using info")
	}
	return entry
}
