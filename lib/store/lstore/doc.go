// Package lstore implements a local, in-memory, single-node key-value store based on the
// store.IStore interface. It is a thin wrapper around any db.KVDB implementation.
//
// Before executing an operation the store checks if the underlying db.KVDB
// supports the requested feature through SupportsFeature. Unsupported
// operations return an error with store.RetCUnsupportedOperation instead of
// failing silently. Deleting a missing key is reported with store.RetCNotFound,
// rejected snapshots with store.RetCInvalidOperation.
//
// The store adds no locking of its own, the thread safety guarantees are the
// ones of the underlying database.
//
// Usage Example:
//
//	factory := func() db.KVDB { return rbidx.NewRBIdx(rbidx.DefaultOptions()) }
//	s := lstore.NewLocalStore(factory)
//
//	err := s.Set("session:123", sessionData)
//	value, exists, err := s.Get("session:123")
package lstore
