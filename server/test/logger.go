package test

import "github.com/classcall/classcall/server/logger"

// NewLogger returns a logger for tests, configured from the CLASSCALL_LOG
// environment variable so failing tests can be re-run with more output.
func NewLogger() logger.Logger {
	return logger.NewFromEnv("CLASSCALL_LOG")
}
