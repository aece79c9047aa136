// Package rbidx implements the db.KVDB interface on top of the concurrent
// red-black tree of package rbtree.
//
// Every key is hashed together with the set name of the index into a
// 20 byte digest (see package digest), so two indexes with different set
// names never agree on a digest. Values are stored as reference counted
// byte values (see package val) and are immutable once they are in the tree:
// Set publishes a new value and drops the reference on the old one, readers
// that reserved the old value keep it alive until they are done.
//
// Concurrency:
//
//   - Set and SetIfUnset use the atomic find-or-create of the tree, so
//     concurrent SetIfUnset calls for one key have exactly one winner.
//   - Get reserves the value under its value lock and copies it afterwards.
//   - Scan, Save and GetInfo traverse the tree in digest order while holding
//     the structural lock of the tree, writers wait for them.
//   - Load builds a complete new tree and swaps it in.
//
// Persistence:
//
// Save writes a binary snapshot (magic "RBIDX", version, set name, entry
// count, then digest/value records in ascending digest order). Load only
// accepts snapshots of the same set name since the digests can not be
// recomputed without the original keys.
//
// Metrics:
//
// Each index counts its operations in a VictoriaMetrics set
// (rbkv_ops_total{set,op}, rbkv_get_misses_total{set}) and exports the
// number of entries (rbkv_entries{set}). WritePrometheus writes them in
// Prometheus text format.
package rbidx
