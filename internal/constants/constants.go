// Package constants provides named constants shared by the engine driver,
// the session and the CLI.
package constants

import "time"

// Engine invocation.
const (
	// DefaultExecutable is the engine binary looked up on PATH.
	DefaultExecutable = "dmdismod"

	// DefaultEngineTimeout bounds one CLI command. Zero disables the bound;
	// sessions themselves never time out.
	DefaultEngineTimeout = time.Duration(0)
)

// Output sentinels scanned after every engine command.
const (
	// OutOfMemorySentinel appears in engine output when allocation failed.
	OutOfMemorySentinel = "std:bad_alloc"

	// MaxIterationsSentinel appears when the optimizer hit its iteration
	// limit. The run still produced values.
	MaxIterationsSentinel = "Maximum Number of Iterations Exceeded"

	// OptimalSolutionSentinel marks a fit that converged.
	OptimalSolutionSentinel = "Optimal Solution Found"

	// EndMessagePrefix starts the last log message of a completed command.
	EndMessagePrefix = "end "
)

// File locations.
const (
	// ConfigDirName is the per-user configuration directory under $HOME.
	ConfigDirName = ".cascade"

	// ConfigFileName is the YAML file inside ConfigDirName.
	ConfigFileName = "config.yaml"

	// LogDirName holds the modelling log inside ConfigDirName.
	LogDirName = "logs"

	// DefaultStoreName is the engine file the CLI writes when none is given.
	DefaultStoreName = "cascade.db"
)
