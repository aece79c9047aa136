package lstore

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/ValentinKolb/rbkv/lib/db"
	"github.com/ValentinKolb/rbkv/lib/db/engines/rbidx"
	"github.com/ValentinKolb/rbkv/lib/digest"
	"github.com/ValentinKolb/rbkv/lib/store"
)

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func newStore(set string) store.IStore {
	return NewLocalStore(func() db.KVDB {
		return rbidx.NewRBIdx(&rbidx.DBOptions{SetName: set})
	})
}

// readOnlyDB only supports Get, everything else must be rejected by the store
type readOnlyDB struct {
	db.KVDB
}

func (readOnlyDB) SupportsFeature(feature db.Feature) bool {
	return feature == db.FeatureGet
}

func (readOnlyDB) Get(string) ([]byte, bool) {
	return []byte("constant"), true
}

func (readOnlyDB) Close() error {
	return nil
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func TestSetGetDelete(t *testing.T) {
	s := newStore("test")
	defer s.Close()

	if err := s.Set("key", []byte("value")); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	value, ok, err := s.Get("key")
	if err != nil || !ok || !bytes.Equal(value, []byte("value")) {
		t.Errorf("Expected value, got %q %v %v", value, ok, err)
	}

	if has, err := s.Has("key"); err != nil || !has {
		t.Errorf("Expected key to exist, got %v %v", has, err)
	}

	if err := s.Delete("key"); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}

	err = s.Delete("key")
	if store.CodeOf(err) != store.RetCNotFound {
		t.Errorf("Expected RetCNotFound, got %v", err)
	}

	if _, ok, _ := s.Get("key"); ok {
		t.Errorf("Expected key to be gone")
	}
}

func TestSetIfUnset(t *testing.T) {
	s := newStore("test")
	defer s.Close()

	stored, err := s.SetIfUnset("key", []byte("first"))
	if err != nil || !stored {
		t.Fatalf("Expected first SetIfUnset to store, got %v %v", stored, err)
	}

	stored, err = s.SetIfUnset("key", []byte("second"))
	if err != nil {
		t.Errorf("An existing key must not be an error, got %v", err)
	}
	if stored {
		t.Errorf("Expected second SetIfUnset to be rejected")
	}

	value, _, _ := s.Get("key")
	if string(value) != "first" {
		t.Errorf("Expected first value to be kept, got %q", value)
	}
}

func TestScan(t *testing.T) {
	s := newStore("test")
	defer s.Close()

	for _, k := range []string{"a", "b", "c"} {
		_ = s.Set(k, []byte(k))
	}

	count := 0
	err := s.Scan(func(digest.Digest, []byte) bool {
		count++
		return true
	})
	if err != nil || count != 3 {
		t.Errorf("Expected 3 scanned entries, got %d (%v)", count, err)
	}
}

func TestSaveLoad(t *testing.T) {
	src := newStore("snap")
	dst := newStore("snap")
	other := newStore("other")
	defer src.Close()
	defer dst.Close()
	defer other.Close()

	_ = src.Set("key", []byte("value"))

	var buf bytes.Buffer
	if err := src.Save(&buf); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	snapshot := buf.Bytes()

	if err := dst.Load(bytes.NewReader(snapshot)); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if value, ok, _ := dst.Get("key"); !ok || string(value) != "value" {
		t.Errorf("Expected loaded value, got %q", value)
	}

	err := other.Load(bytes.NewReader(snapshot))
	if store.CodeOf(err) != store.RetCInvalidOperation {
		t.Errorf("Expected RetCInvalidOperation for a foreign snapshot, got %v", err)
	}
}

func TestUnsupportedOperations(t *testing.T) {
	s := NewLocalStore(func() db.KVDB { return readOnlyDB{} })
	defer s.Close()

	if value, ok, err := s.Get("key"); err != nil || !ok || string(value) != "constant" {
		t.Errorf("Expected Get to be forwarded, got %q %v %v", value, ok, err)
	}

	ops := map[string]error{
		"Set":    s.Set("key", nil),
		"Delete": s.Delete("key"),
		"Scan":   s.Scan(func(digest.Digest, []byte) bool { return true }),
		"Save":   s.Save(io.Discard),
		"Load":   s.Load(strings.NewReader("")),
	}
	_, err := s.SetIfUnset("key", nil)
	ops["SetIfUnset"] = err
	_, err = s.Has("key")
	ops["Has"] = err

	for name, err := range ops {
		var storeErr *store.Error
		if !errors.As(err, &storeErr) || storeErr.Code != store.RetCUnsupportedOperation {
			t.Errorf("%s: expected RetCUnsupportedOperation, got %v", name, err)
		}
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		err  error
		code store.RetCode
	}{
		{nil, store.RetCSuccess},
		{store.NewError(store.RetCNotFound, "x"), store.RetCNotFound},
		{errors.New("plain"), store.RetCInternalError},
	}
	for _, tt := range tests {
		if got := store.CodeOf(tt.err); got != tt.code {
			t.Errorf("CodeOf(%v) = %s, want %s", tt.err, got, tt.code)
		}
	}
}

func TestWritePrometheus(t *testing.T) {
	s := newStore("prom")
	defer s.Close()
	_ = s.Set("key", nil)

	var buf bytes.Buffer
	s.(interface{ WritePrometheus(io.Writer) }).WritePrometheus(&buf)
	if !strings.Contains(buf.String(), `rbkv_entries{set="prom"} 1`) {
		t.Errorf("Expected entry gauge in output, got:\n%s", buf.String())
	}
}
