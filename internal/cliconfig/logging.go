package cliconfig

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/bft-labs/ctlplane/pkg/log"
)

var logger = log.NewConsoleLogger(os.Stderr)

// Logger returns the CLI's console logger. Its level follows
// zerolog's global level.
func Logger() zerolog.Logger {
	return logger
}
