// Package logging configures Coffeepot's structured logger. Host-side
// fatal errors (loader failures, missing corpus directories, allocation
// failures) and operational messages go through this logger rather than
// bare fmt.Printf, matching dsmmcken-dh-cli's use of sirupsen/logrus.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New returns a text-formatted logger writing to stderr at the given level
// ("debug", "info", "warn", "error"); an unrecognised level falls back to
// info.
func New(level string) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	return log
}
