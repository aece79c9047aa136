package val

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// --------------------------------------------------------------------------
// Kind
// --------------------------------------------------------------------------

// Kind is the type tag of a value
type Kind uint8

const (
	KindUnknown Kind = iota // invalid / torn down
	KindNil
	KindBoolean
	KindInteger
	KindString
	KindList
	KindMap
	KindRec
	KindPair
	KindBytes
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "Nil"
	case KindBoolean:
		return "Boolean"
	case KindInteger:
		return "Integer"
	case KindString:
		return "String"
	case KindList:
		return "List"
	case KindMap:
		return "Map"
	case KindRec:
		return "Rec"
	case KindPair:
		return "Pair"
	case KindBytes:
		return "Bytes"
	default:
		return "Unknown"
	}
}

// valid reports whether k is one of the dispatchable kinds
func (k Kind) valid() bool {
	return k >= KindNil && k <= KindBytes
}

// ErrInvalidArgument is wrapped by the panic raised when a value with an
// unknown kind is dispatched on.
var ErrInvalidArgument = errors.New("invalid argument")

// --------------------------------------------------------------------------
// Val header
// --------------------------------------------------------------------------

// Val is the header shared by all values.
//
// A Val may be embedded into a larger caller-owned struct (initialize it with
// Init and owned=false) or taken from the package via one of the constructors
// (Nil, Bool, Int, Str, Bytes, List, Map, PairOf, Rec), in which case the
// package owns the header and recycles it once the count drops to zero.
type Val struct {
	kind    Kind
	owned   bool
	count   atomic.Int32
	payload any
}

// headers recycles torn down owned headers
var headers = sync.Pool{
	New: func() any { return new(Val) },
}

// Init sets the kind, the ownership flag and a reference count of one.
// The payload is left untouched.
//
// Thread-safety: Init must only be called by the single owner of v before
// the value is shared.
func Init(v *Val, kind Kind, owned bool) {
	v.kind = kind
	v.owned = owned
	v.count.Store(1)
}

// alloc takes an owned header from the pool
func alloc(kind Kind, payload any) *Val {
	v := headers.Get().(*Val)
	Init(v, kind, true)
	v.payload = payload
	return v
}

// KindOf returns the kind tag of v
func KindOf(v *Val) Kind {
	return v.kind
}

// Owned reports whether the header of v is owned by this package
func Owned(v *Val) bool {
	return v.owned
}

// Count returns the current reference count of v. The result is only a
// snapshot when other goroutines hold references.
func Count(v *Val) int32 {
	return v.count.Load()
}

// --------------------------------------------------------------------------
// Reference counting
// --------------------------------------------------------------------------

// Reserve adds a reference to v and returns v.
//
// Thread-safety: lock-free, safe for any number of concurrent callers.
func Reserve(v *Val) *Val {
	v.count.Add(1)
	return v
}

// Destroy drops a reference to v. It returns v as long as references remain
// and nil if this call released the last one. In that case the payload has
// been torn down and the caller must not use v anymore.
//
// Thread-safety: lock-free, safe for any number of concurrent callers.
func Destroy(v *Val) *Val {
	count := v.count.Add(-1)
	if count > 0 {
		return v
	}
	if count < 0 {
		panic(fmt.Sprintf("val.Destroy(): refcount of %s value gone negative", v.kind))
	}

	// count is ZERO: we are the only one left holding v
	teardown(v)
	v.payload = nil

	if v.owned {
		// poison the header, any further dispatch fails fast
		v.kind = KindUnknown
		v.owned = false
		headers.Put(v)
	}
	return nil
}

// --------------------------------------------------------------------------
// Dispatch
// --------------------------------------------------------------------------

// mustKind panics if v can't be dispatched on
func mustKind(v *Val) Kind {
	if v == nil {
		panic(fmt.Errorf("dispatch on nil value: %w", ErrInvalidArgument))
	}
	if !v.kind.valid() {
		panic(fmt.Errorf("dispatch on value of kind %d (%s): %w", uint8(v.kind), v.kind, ErrInvalidArgument))
	}
	return v.kind
}

// teardown releases everything the payload of v holds
func teardown(v *Val) {
	switch mustKind(v) {
	case KindNil, KindBoolean, KindInteger, KindString, KindBytes:
		// nothing but memory, the go gc takes care of it
	case KindList:
		destroyList(v.payload.(*list))
	case KindMap:
		destroyMap(v.payload.(*dict))
	case KindRec:
		destroyRec(v.payload.(*rec))
	case KindPair:
		destroyPair(v.payload.(*pair))
	}
}

// Hashcode returns the tag dispatched hash code of v
func Hashcode(v *Val) uint32 {
	switch mustKind(v) {
	case KindNil:
		return 0
	case KindBoolean:
		return hashBool(v.payload.(bool))
	case KindInteger:
		return hashInt(v.payload.(int64))
	case KindString:
		return hashString(v.payload.(string))
	case KindBytes:
		return hashBytes(v.payload.([]byte))
	case KindList:
		return hashList(v.payload.(*list))
	case KindMap:
		return hashMap(v.payload.(*dict))
	case KindRec:
		return hashRec(v.payload.(*rec))
	case KindPair:
		return hashPair(v.payload.(*pair))
	}
	panic("unreachable")
}

// ToString returns a new string describing v
func ToString(v *Val) string {
	switch mustKind(v) {
	case KindNil:
		return "NIL"
	case KindBoolean:
		return stringBool(v.payload.(bool))
	case KindInteger:
		return stringInt(v.payload.(int64))
	case KindString:
		return stringString(v.payload.(string))
	case KindBytes:
		return stringBytes(v.payload.([]byte))
	case KindList:
		return stringList(v.payload.(*list))
	case KindMap:
		return stringMap(v.payload.(*dict))
	case KindRec:
		return stringRec(v.payload.(*rec))
	case KindPair:
		return stringPair(v.payload.(*pair))
	}
	panic("unreachable")
}

// String implements fmt.Stringer
func (v *Val) String() string {
	return ToString(v)
}
