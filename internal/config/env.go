package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// LoadEnv loads credentials from local .env files. Variables already set in
// the process environment win over the files.
func LoadEnv(logger *logrus.Logger, files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	loaded := make([]string, 0, len(files))
	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			if logger != nil {
				logger.WithError(err).Warnf("Failed to load %s", file)
			}
			continue
		}
		loaded = append(loaded, file)
	}
	if logger == nil {
		return
	}
	if len(loaded) == 0 {
		logger.Debug("No local env files loaded; relying on process environment")
	} else {
		logger.Debugf("Loaded env files: %s", strings.Join(loaded, ", "))
	}
}
