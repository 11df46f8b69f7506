// Package logging provides Starport's structured logger, a thin wrapper over
// log/slog that stamps every record with service and version.
//
// Configuration:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "auto"     # json, text, auto (text on a terminal)
//	  output: "stdout"   # stdout, stderr
//
// Components take a small Debug/Info/Warn/Error interface, which *Logger
// satisfies, so they can be tested without a logger.
package logging
