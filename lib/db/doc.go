// Package db provides a standardized interface for key-value database implementations.
// It defines the KVDB interface that allows for consistent interaction
// with various database backends while abstracting implementation details.
//
// Key Components:
//
//   - KVDB Interface: The core interface that all database implementations must satisfy.
//     It provides methods for basic operations (Set, Get, Has, Delete),
//     the atomic SetIfUnset, ordered iteration (Scan), metadata retrieval (GetInfo)
//     and persistence operations (Save, Load).
//
//   - Feature Flags: The Feature type defines capability flags that implementations
//     can advertise through the SupportsFeature method. This allows clients to
//     discover supported operations at runtime.
//
//   - Database Information: The DatabaseInfo structure reports the database state,
//     including the entry count, an estimated size, the implementation type and
//     implementation-specific metadata.
//
// Keys are strings that implementations turn into fixed width digests
// (see github.com/ValentinKolb/rbkv/lib/digest). Scan therefore visits entries
// in digest order and reports digests instead of the original keys.
//
// Related Packages:
//
// The engines/rbidx package (github.com/ValentinKolb/rbkv/lib/db/engines/rbidx)
// implements KVDB on top of the concurrent red-black index tree.
//
// The util package (github.com/ValentinKolb/rbkv/lib/db/util) provides a
// SizeHistogram for estimating the memory footprint of a database.
//
// The testing package (github.com/ValentinKolb/rbkv/lib/db/testing) provides
// standardized tests and benchmarks for database implementations that satisfy the db.KVDB interface.
//   - RunKVDBTests: Runs a standardized test suite to validate implementations
//   - RunKVDBBenchmarks: Provides performance benchmarks for comparing implementations
package db
