package common

import (
	"fmt"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// Server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters of the HTTP server
type ServerConfig struct {
	// HTTP api settings
	Endpoint string

	// Namespaces created on startup, more are created on the first write
	Namespaces []string

	// Number of value locks shared by all namespaces (0 = default)
	LockTableSize int

	// Directory for namespace snapshots, empty disables persistence
	SnapshotDir string

	// Logging configuration
	LogLevel string
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("HTTP Server")
	addField("Endpoint", c.Endpoint)

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	addSection("Index")
	if c.LockTableSize > 0 {
		addField("Value Locks", strconv.Itoa(c.LockTableSize))
	} else {
		addField("Value Locks", "default")
	}
	if c.SnapshotDir != "" {
		addField("Snapshot Directory", c.SnapshotDir)
	} else {
		addField("Snapshot Directory", "(disabled)")
	}

	addSection("Namespaces")
	for i, ns := range c.Namespaces {
		addField(strconv.Itoa(i), ns)
	}

	return sb.String()
}
