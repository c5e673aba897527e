// Package logging builds the log/slog loggers used across mockproxy.
//
//	logger := logging.New(logging.Config{
//	    Level:  logging.LevelInfo,
//	    Format: logging.FormatText,
//	})
//	logger.Info("proxy listening", "addr", ":8888")
//
// # Levels and formats
//
// Levels are debug, info, warn and error; formats are text and json. Both parse
// case-insensitively and fall back to info and text.
//
// # Log files
//
// When Config.File is set, records are written to the console output and
// appended to the file through a MultiHandler.
//
// Components take a *slog.Logger through their options. When none is given they
// use Nop, which discards everything.
package logging
