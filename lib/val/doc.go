// Package val implements the value kernel: a reference-counted, type-tagged
// value header that gives heterogeneous stored values a uniform lifetime and
// a uniform set of operations.
//
// Every value carries:
//   - a Kind tag out of a closed set (nil, boolean, integer, string, list, map,
//     record, pair, bytes - plus KindUnknown for "invalid")
//   - an ownership flag telling whether the header is a standalone allocation
//     owned by this package or embedded into a larger structure owned by the caller
//   - an atomic reference count that starts at 1
//
// Lifetime:
//
//	Any holder may add a reference with Reserve or drop one with Destroy. The
//	call that drives the count to zero tears down the payload (containers drop
//	the references they hold on their elements) and, only for owned headers,
//	poisons the header and hands it back to the header pool. The caller must
//	treat its reference as invalid after that call.
//
// Dispatch:
//
//	Hashcode, ToString and the payload teardown are resolved by switching on
//	the kind. Dispatching on KindUnknown (which includes every torn down owned
//	header) panics with an error wrapping ErrInvalidArgument.
//
// Thread Safety:
//
//	Only the reference count is synchronized. Mutating a payload in place
//	requires an external lock; the index tree hands one out per key
//	(see package rbtree).
//
// Usage Example:
//
//	v := val.Str("hello")  // count = 1
//	val.Reserve(v)         // count = 2, e.g. handed to another goroutine
//	val.Destroy(v)         // count = 1
//	fmt.Println(v)         // "hello"
//	val.Destroy(v)         // count = 0, payload released, header recycled
package val
