package val

import (
	"errors"
	"sync"
	"testing"
)

func TestInit(t *testing.T) {
	var v Val
	InitInt(&v, 42)

	if KindOf(&v) != KindInteger {
		t.Errorf("Expected kind %s, got %s", KindInteger, KindOf(&v))
	}
	if Owned(&v) {
		t.Errorf("Embedded header must not be owned")
	}
	if Count(&v) != 1 {
		t.Errorf("Expected count 1 after Init, got %d", Count(&v))
	}

	owned := Str("x")
	if !Owned(owned) {
		t.Errorf("Constructed header must be owned")
	}
	if Count(owned) != 1 {
		t.Errorf("Expected count 1 after construction, got %d", Count(owned))
	}
	Destroy(owned)
}

func TestReferenceSymmetry(t *testing.T) {
	for _, n := range []int{0, 1, 5, 100} {
		v := Bytes([]byte("payload"))

		for i := 0; i < n; i++ {
			if Reserve(v) != v {
				t.Fatalf("Reserve must return the same reference")
			}
		}

		// all but the last destroy leave the value usable
		for i := 0; i < n; i++ {
			if Destroy(v) == nil {
				t.Fatalf("n=%d: value released early at destroy %d", n, i+1)
			}
			if b, ok := AsBytes(v); !ok || string(b) != "payload" {
				t.Fatalf("n=%d: value not usable after destroy %d", n, i+1)
			}
		}

		if Destroy(v) != nil {
			t.Fatalf("n=%d: last destroy must release the value", n)
		}
		if KindOf(v) != KindUnknown {
			t.Errorf("n=%d: released owned header must be poisoned, got kind %s", n, KindOf(v))
		}
	}
}

func TestEmbeddedHeaderNotPoisoned(t *testing.T) {
	var v Val
	InitStr(&v, "embedded")

	if Destroy(&v) != nil {
		t.Fatalf("Expected single destroy to release the value")
	}
	if KindOf(&v) != KindString {
		t.Errorf("Embedded header must keep its kind, got %s", KindOf(&v))
	}
}

func TestConcurrentReserveDestroy(t *testing.T) {
	v := Str("shared")
	workers := 16
	rounds := 1000

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				Reserve(v)
				if Destroy(v) == nil {
					t.Errorf("value released while the creator still holds a reference")
					return
				}
			}
		}()
	}
	wg.Wait()

	if Count(v) != 1 {
		t.Errorf("Expected count 1 after balanced reserve/destroy, got %d", Count(v))
	}
	if Destroy(v) != nil {
		t.Errorf("Expected final destroy to release the value")
	}
}

func TestContainersReleaseElements(t *testing.T) {
	a := Int(1)
	b := Str("b")
	Reserve(a)
	Reserve(b)

	l := List(a, b)
	if Destroy(l) != nil {
		t.Fatalf("Expected list to be released")
	}

	// the list dropped its references, ours are still alive
	if Count(a) != 1 || Count(b) != 1 {
		t.Errorf("Expected element counts 1/1, got %d/%d", Count(a), Count(b))
	}
	Destroy(a)
	Destroy(b)
}

func TestDestroyUnderflowPanics(t *testing.T) {
	var v Val
	InitInt(&v, 1)
	Destroy(&v)

	defer func() {
		if recover() == nil {
			t.Errorf("Expected panic on refcount underflow")
		}
	}()
	Destroy(&v)
}

func TestDispatchUnknownKind(t *testing.T) {
	tests := []struct {
		name string
		fn   func(v *Val)
	}{
		{"Hashcode", func(v *Val) { Hashcode(v) }},
		{"ToString", func(v *Val) { ToString(v) }},
		{"Destroy", func(v *Val) { Destroy(v) }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var v Val
			Init(&v, KindUnknown, false)

			defer func() {
				r := recover()
				err, ok := r.(error)
				if !ok || !errors.Is(err, ErrInvalidArgument) {
					t.Errorf("Expected panic wrapping ErrInvalidArgument, got %v", r)
				}
			}()
			tc.fn(&v)
		})
	}
}

func TestDispatchAfterRelease(t *testing.T) {
	v := Int(7)
	Destroy(v)

	defer func() {
		if recover() == nil {
			t.Errorf("Expected panic when dispatching on a released value")
		}
	}()
	ToString(v)
}

func TestToString(t *testing.T) {
	tests := []struct {
		name     string
		value    *Val
		expected string
	}{
		{"Nil", Nil(), "NIL"},
		{"Bool", Bool(true), "true"},
		{"Int", Int(-12), "-12"},
		{"Str", Str("a\"b"), `"a\"b"`},
		{"Bytes", Bytes([]byte{0xca, 0xfe}), "0xcafe"},
		{"List", List(Int(1), Str("x")), `[1, "x"]`},
		{"Pair", PairOf(Str("k"), Int(2)), `("k", 2)`},
		{"Map", Map(PairOf(Str("a"), Int(1)), PairOf(Str("b"), Nil())), `{"a": 1, "b": NIL}`},
		{"Rec", Rec(map[string]*Val{"z": Int(1), "a": Bool(false)}), "{a: false, z: 1}"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.value.String(); got != tc.expected {
				t.Errorf("Expected %s, got %s", tc.expected, got)
			}
			Destroy(tc.value)
		})
	}
}

func TestHashcode(t *testing.T) {
	a := Str("same")
	b := Str("same")
	if Hashcode(a) != Hashcode(b) {
		t.Errorf("Equal strings must hash equally")
	}

	m1 := Map(PairOf(Str("a"), Int(1)), PairOf(Str("b"), Int(2)))
	m2 := Map(PairOf(Str("b"), Int(2)), PairOf(Str("a"), Int(1)))
	if Hashcode(m1) != Hashcode(m2) {
		t.Errorf("Map hash must not depend on entry order")
	}

	if Hashcode(Nil()) != 0 {
		t.Errorf("Nil must hash to 0")
	}

	for _, v := range []*Val{a, b, m1, m2} {
		Destroy(v)
	}
}
