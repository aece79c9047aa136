// Package common holds the configuration and logging setup shared by the
// server and the command line interface.
//
// Logging uses the logger package of dragonboat: every package obtains a named
// logger with logger.GetLogger at init time, InitLoggers installs a factory
// that prints "LEVEL | name | message" lines and sets the level of all of
// them.
package common
