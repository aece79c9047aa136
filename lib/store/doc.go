// Package store provides a high-level interface for key-value storage operations
// with unified error handling. It serves as an abstraction layer over the
// lower-level db.KVDB implementations: feature support is checked before every
// call and all failures are reported as *Error values with a typed return code.
//
// Key Components:
//
//   - IStore Interface: The core abstraction defining operations for interacting with
//     a key-value store, including ordered scans and snapshots.
//
//   - Error System: A structured error reporting mechanism using typed error codes
//     (RetCode) and descriptive messages. CodeOf extracts the code of any error,
//     which the HTTP server maps onto status codes.
//
//   - DBFactory: A function type that abstracts the creation of underlying db.KVDB
//     instances.
//
// Implementations:
//
//	- Local Store (lstore): utilizes a db.KVDB instance directly.
//	  Available in the "github.com/ValentinKolb/rbkv/lib/store/lstore" package.
package store
