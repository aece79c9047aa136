package val

import (
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// --------------------------------------------------------------------------
// Constructors (owned headers)
// --------------------------------------------------------------------------

// Nil returns a new nil value
func Nil() *Val {
	return alloc(KindNil, nil)
}

// Bool returns a new boolean value
func Bool(b bool) *Val {
	return alloc(KindBoolean, b)
}

// Int returns a new integer value
func Int(i int64) *Val {
	return alloc(KindInteger, i)
}

// Str returns a new string value
func Str(s string) *Val {
	return alloc(KindString, s)
}

// Bytes returns a new byte buffer value holding a copy of b
func Bytes(b []byte) *Val {
	return alloc(KindBytes, clone(b))
}

// List returns a new list value. The list takes over the references to items.
func List(items ...*Val) *Val {
	return alloc(KindList, &list{items: items})
}

// Map returns a new map value built from pair values. The map takes over the
// references to the pairs.
func Map(pairs ...*Val) *Val {
	for _, p := range pairs {
		if mustKind(p) != KindPair {
			panic("val.Map(): entries must be pairs")
		}
	}
	return alloc(KindMap, &dict{pairs: pairs})
}

// PairOf returns a new pair value. The pair takes over the references to a and b.
func PairOf(a, b *Val) *Val {
	return alloc(KindPair, &pair{a: a, b: b})
}

// Rec returns a new record value. The record takes over the references to the bins.
func Rec(bins map[string]*Val) *Val {
	cp := make(map[string]*Val, len(bins))
	for name, bin := range bins {
		cp[name] = bin
	}
	return alloc(KindRec, &rec{bins: cp})
}

// --------------------------------------------------------------------------
// Embedded headers
// --------------------------------------------------------------------------

// InitBytes initializes a caller-owned header as a byte buffer value that
// references b without copying it. The header is not recycled on teardown.
func InitBytes(v *Val, b []byte) {
	Init(v, KindBytes, false)
	v.payload = b
}

// InitStr initializes a caller-owned header as a string value
func InitStr(v *Val, s string) {
	Init(v, KindString, false)
	v.payload = s
}

// InitInt initializes a caller-owned header as an integer value
func InitInt(v *Val, i int64) {
	Init(v, KindInteger, false)
	v.payload = i
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

// AsBytes returns the buffer of a bytes value. The buffer is shared, callers
// that mutate it need an external lock.
func AsBytes(v *Val) ([]byte, bool) {
	if v.kind != KindBytes {
		return nil, false
	}
	return v.payload.([]byte), true
}

// AsStr returns the string of a string value
func AsStr(v *Val) (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.payload.(string), true
}

// AsInt returns the integer of an integer value
func AsInt(v *Val) (int64, bool) {
	if v.kind != KindInteger {
		return 0, false
	}
	return v.payload.(int64), true
}

// AsBool returns the boolean of a boolean value
func AsBool(v *Val) (bool, bool) {
	if v.kind != KindBoolean {
		return false, false
	}
	return v.payload.(bool), true
}

// Items returns the elements of a list value (not reserved)
func Items(v *Val) []*Val {
	if v.kind != KindList {
		return nil
	}
	return v.payload.(*list).items
}

// Bin returns a bin of a record value (not reserved)
func Bin(v *Val, name string) (*Val, bool) {
	if v.kind != KindRec {
		return nil, false
	}
	bin, ok := v.payload.(*rec).bins[name]
	return bin, ok
}

// --------------------------------------------------------------------------
// Scalars
// --------------------------------------------------------------------------

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return cp
}

func hashBool(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

func hashInt(i int64) uint32 {
	return uint32(i ^ (i >> 32))
}

func hashString(s string) uint32 {
	return uint32(xxhash.Sum64String(s))
}

func hashBytes(b []byte) uint32 {
	return uint32(xxhash.Sum64(b))
}

func stringBool(b bool) string {
	return strconv.FormatBool(b)
}

func stringInt(i int64) string {
	return strconv.FormatInt(i, 10)
}

func stringString(s string) string {
	return strconv.Quote(s)
}

func stringBytes(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

// --------------------------------------------------------------------------
// Containers
// --------------------------------------------------------------------------

type list struct {
	items []*Val
}

type dict struct {
	pairs []*Val
}

type pair struct {
	a, b *Val
}

type rec struct {
	bins map[string]*Val
}

func destroyList(l *list) {
	for _, item := range l.items {
		Destroy(item)
	}
	l.items = nil
}

func destroyMap(d *dict) {
	for _, p := range d.pairs {
		Destroy(p)
	}
	d.pairs = nil
}

func destroyPair(p *pair) {
	Destroy(p.a)
	Destroy(p.b)
	p.a, p.b = nil, nil
}

func destroyRec(r *rec) {
	for _, bin := range r.bins {
		Destroy(bin)
	}
	r.bins = nil
}

func hashList(l *list) uint32 {
	var h uint32 = 1
	for _, item := range l.items {
		h = 31*h + Hashcode(item)
	}
	return h
}

// hashMap is independent of the entry order
func hashMap(d *dict) uint32 {
	var h uint32
	for _, p := range d.pairs {
		h ^= Hashcode(p)
	}
	return h
}

func hashPair(p *pair) uint32 {
	return 31*Hashcode(p.a) + Hashcode(p.b)
}

func hashRec(r *rec) uint32 {
	var h uint32
	for name, bin := range r.bins {
		h ^= 31*hashString(name) + Hashcode(bin)
	}
	return h
}

func stringList(l *list) string {
	parts := make([]string, len(l.items))
	for i, item := range l.items {
		parts[i] = ToString(item)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func stringMap(d *dict) string {
	parts := make([]string, len(d.pairs))
	for i, p := range d.pairs {
		kv := p.payload.(*pair)
		parts[i] = ToString(kv.a) + ": " + ToString(kv.b)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func stringPair(p *pair) string {
	return "(" + ToString(p.a) + ", " + ToString(p.b) + ")"
}

func stringRec(r *rec) string {
	names := make([]string, 0, len(r.bins))
	for name := range r.bins {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + ": " + ToString(r.bins[name])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
