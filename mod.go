// Package votex is the root of an election-management simulator. It models
// elections, candidates and voters, and casts votes through a simulated ledger
// transaction with a cancellable confirmation step.
//
// The package holds the global logger and the list of Prometheus collectors
// that the components append to at initialization.
package votex

import (
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// EnvLogLevel is the name of the environment variable to change the logging
// level. It accepts trace, debug, info, warn and error.
const EnvLogLevel = "LLVL"

const defaultLevel = zerolog.InfoLevel

// Logger is the logger of the application. The components derive their own
// logger with a component field.
var Logger = zerolog.New(zerolog.ConsoleWriter{
	Out:        os.Stdout,
	TimeFormat: time.RFC3339,
}).With().Timestamp().Caller().Logger().Level(defaultLevel)

// PromCollectors are the Prometheus collectors of the packages, appended at
// initialization. They are registered when the metrics are served.
var PromCollectors []prometheus.Collector

func init() {
	Logger = Logger.Level(parseLevel(os.Getenv(EnvLogLevel)))
}

// parseLevel returns the default level for an empty name, and the most
// verbose one for an unknown name.
func parseLevel(name string) zerolog.Level {
	if name == "" {
		return defaultLevel
	}

	level, err := zerolog.ParseLevel(name)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.TraceLevel
	}

	return level
}
