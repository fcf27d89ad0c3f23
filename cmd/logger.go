package cmd

import (
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// shimPathEnvVar mirrors internal/shim's unexported CLRDBG_SHIM_PATH
// constant; --shim-path sets it in this process's environment before
// shim.Load() reads it, rather than internal/shim growing a second,
// parameterized entry point just for the CLI.
const shimPathEnvVar = "CLRDBG_SHIM_PATH"

// newLogger builds a zap logger: development encoding (human-readable,
// debug level) under --verbose, production JSON encoding otherwise.
// Every cmd subcommand that runs an Engine shares this construction.
func newLogger() *zap.Logger {
	if viper.GetBool("verbose") {
		logger, err := zap.NewDevelopment()
		if err != nil {
			return zap.NewNop()
		}
		return logger
	}
	logger, err := zap.NewProduction()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
