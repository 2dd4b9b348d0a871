// Package logging builds the host's zap loggers.
//
// Two modes:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output with stack traces
//
// Library packages never build loggers themselves. They take a *zap.Logger
// option and default to zap.NewNop(); cmd/server builds one Logger here and
// hands out named children with Component and Connection.
//
// Example Usage:
//
//	logger, err := logging.New(logging.Config{Level: "info"})
//	if err != nil {
//		return err
//	}
//	logger.Component("server").Info("Server starting", zap.String("port", "8000"))
//	_ = logger.SetLevel("debug")
package logging
