// Package conf loads, validates and persists motioncam configuration.
package conf

import "github.com/tphakala/motioncam/internal/logger"

// GetLogger returns the config package logger. It is fetched from the global
// logger on each call because the central logger is installed after Load.
func GetLogger() logger.Logger {
	return logger.Global().Module("conf")
}
