package rbidx

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/ValentinKolb/rbkv/lib/db"
	dbtesting "github.com/ValentinKolb/rbkv/lib/db/testing"
	"github.com/ValentinKolb/rbkv/lib/digest"
)

func Test(t *testing.T) {
	dbtesting.RunKVDBTests(t, "RBIdx", func() db.KVDB {
		return NewRBIdx(nil)
	})
}

func TestSmallLockTable(t *testing.T) {
	// a single value lock for all keys must not change any semantics
	dbtesting.RunKVDBTests(t, "RBIdx(1 lock)", func() db.KVDB {
		return NewRBIdx(&DBOptions{SetName: "single", LockTableSize: 1})
	})
}

func Benchmark(b *testing.B) {
	dbtesting.RunKVDBBenchmarks(b, "RBIdx", func() db.KVDB {
		return NewRBIdx(nil)
	})
}

// --------------------------------------------------------------------------
// Index specific tests
// --------------------------------------------------------------------------

func TestScanMatchesDigestOrder(t *testing.T) {
	idx := NewRBIdx(&DBOptions{SetName: "users"})
	defer idx.Close()

	keys := []string{"alice", "bob", "carol", "dave", "eve"}
	for _, k := range keys {
		idx.Set(k, []byte(k))
	}

	// look up the expected key for every digest
	byDigest := make(map[digest.Digest]string)
	for _, k := range keys {
		byDigest[digest.ComputeString("users", k)] = k
	}

	var prev digest.Digest
	i := 0
	idx.Scan(func(key digest.Digest, value []byte) bool {
		k, ok := byDigest[key]
		if !ok {
			t.Fatalf("Scan returned unknown digest %s", key)
		}
		if string(value) != k {
			t.Errorf("Expected value %q for %s, got %q", k, key, value)
		}
		if i > 0 && !prev.Less(key) {
			t.Errorf("Scan order broken at %d", i)
		}
		prev = key
		i++
		return true
	})
	if i != len(keys) {
		t.Errorf("Expected %d entries, got %d", len(keys), i)
	}

	if err := idx.Verify(); err != nil {
		t.Errorf("Tree invalid: %v", err)
	}
}

func TestSetNameSeparatesKeys(t *testing.T) {
	a := NewRBIdx(&DBOptions{SetName: "a"})
	b := NewRBIdx(&DBOptions{SetName: "b"})
	defer a.Close()
	defer b.Close()

	a.Set("key", []byte("value"))
	b.Set("key", []byte("value"))

	var da, dbb digest.Digest
	a.Scan(func(key digest.Digest, _ []byte) bool { da = key; return false })
	b.Scan(func(key digest.Digest, _ []byte) bool { dbb = key; return false })

	if da == dbb {
		t.Errorf("Expected different digests for different set names")
	}
}

func TestLoadRejectsOtherSet(t *testing.T) {
	a := NewRBIdx(&DBOptions{SetName: "a"})
	b := NewRBIdx(&DBOptions{SetName: "b"})
	defer a.Close()
	defer b.Close()

	a.Set("key", []byte("value"))
	b.Set("other", []byte("value"))

	var buf bytes.Buffer
	if err := a.Save(&buf); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	name, err := SnapshotSetName(bytes.NewReader(buf.Bytes()))
	if err != nil || name != "a" {
		t.Errorf("Expected snapshot set name a, got %q (%v)", name, err)
	}

	if err := b.Load(&buf); !errors.Is(err, ErrInvalidSnapshot) {
		t.Errorf("Expected ErrInvalidSnapshot, got %v", err)
	}
	if !b.Has("other") {
		t.Errorf("Failed load must leave the index unchanged")
	}
}

func TestLoadTruncated(t *testing.T) {
	idx := NewRBIdx(nil)
	defer idx.Close()

	for i := 0; i < 100; i++ {
		idx.Set(fmt.Sprintf("key-%d", i), []byte("value"))
	}

	var buf bytes.Buffer
	if err := idx.Save(&buf); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	target := NewRBIdx(nil)
	defer target.Close()
	target.Set("keep", []byte("me"))

	truncated := buf.Bytes()[:buf.Len()-3]
	if err := target.Load(bytes.NewReader(truncated)); !errors.Is(err, ErrInvalidSnapshot) {
		t.Errorf("Expected ErrInvalidSnapshot for a truncated snapshot, got %v", err)
	}
	if !target.Has("keep") || target.GetInfo().Entries != 1 {
		t.Errorf("Failed load must leave the index unchanged")
	}
}

func TestLoadDuplicateDigest(t *testing.T) {
	idx := NewRBIdx(nil)
	defer idx.Close()
	idx.Set("dup", []byte("value"))

	var buf bytes.Buffer
	if err := idx.Save(&buf); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	// patch the entry count to 2 and repeat the single record
	snapshot := buf.Bytes()
	header := len(magicNum) + 1 + 2 + len(defaultSetName)
	record := snapshot[header+8:]
	patched := append([]byte{}, snapshot[:header]...)
	patched = append(patched, 2, 0, 0, 0, 0, 0, 0, 0)
	patched = append(patched, record...)
	patched = append(patched, record...)

	if err := idx.Load(bytes.NewReader(patched)); !errors.Is(err, ErrInvalidSnapshot) {
		t.Errorf("Expected ErrInvalidSnapshot for duplicate digests, got %v", err)
	}
}

func TestGetDuringOverwrite(t *testing.T) {
	idx := NewRBIdx(&DBOptions{SetName: "race", LockTableSize: 4})
	defer idx.Close()

	values := [][]byte{
		bytes.Repeat([]byte("a"), 1024),
		bytes.Repeat([]byte("b"), 1024),
	}
	idx.Set("key", values[0])

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			idx.Set("key", values[i%2])
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			got, ok := idx.Get("key")
			if !ok {
				t.Errorf("Key vanished during overwrite")
				return
			}
			if !bytes.Equal(got, values[0]) && !bytes.Equal(got, values[1]) {
				t.Errorf("Read a torn value")
				return
			}
		}
	}()
	wg.Wait()
}

func TestLoadDuringUse(t *testing.T) {
	idx := NewRBIdx(nil)
	defer idx.Close()

	for i := 0; i < 100; i++ {
		idx.Set(fmt.Sprintf("key-%d", i), []byte("value"))
	}
	var snapshot bytes.Buffer
	if err := idx.Save(&snapshot); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			if err := idx.Load(bytes.NewReader(snapshot.Bytes())); err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			if _, ok := idx.Get(fmt.Sprintf("key-%d", i%100)); !ok {
				t.Errorf("Key key-%d missing while loading", i%100)
				return
			}
		}
	}()
	wg.Wait()

	if err := idx.Verify(); err != nil {
		t.Errorf("Tree invalid: %v", err)
	}
}

func TestCloseTwice(t *testing.T) {
	idx := NewRBIdx(nil)
	idx.Set("key", []byte("value"))

	if err := idx.Close(); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Errorf("Unexpected error on second close: %v", err)
	}

	var buf bytes.Buffer
	buf.WriteString(magicNum)
	if err := idx.Load(&buf); err == nil {
		t.Errorf("Expected load into closed index to fail")
	}
}

func TestMetrics(t *testing.T) {
	idx := NewRBIdx(&DBOptions{SetName: "metrics"})
	defer idx.Close()

	idx.Set("a", []byte("1"))
	idx.Set("b", []byte("2"))
	idx.Get("a")
	idx.Get("missing")
	idx.Delete("b")

	var buf bytes.Buffer
	idx.WritePrometheus(&buf)
	out := buf.String()

	for _, line := range []string{
		`rbkv_ops_total{set="metrics",op="set"} 2`,
		`rbkv_ops_total{set="metrics",op="get"} 2`,
		`rbkv_ops_total{set="metrics",op="delete"} 1`,
		`rbkv_get_misses_total{set="metrics"} 1`,
		`rbkv_entries{set="metrics"} 1`,
	} {
		if !strings.Contains(out, line) {
			t.Errorf("Expected metrics output to contain %q, got:\n%s", line, out)
		}
	}
}

func TestInfoMetadata(t *testing.T) {
	idx := NewRBIdx(&DBOptions{SetName: "info", LockTableSize: 8})
	defer idx.Close()

	for i := 0; i < 2000; i++ {
		idx.Set(fmt.Sprintf("key-%d", i), make([]byte, 10))
	}

	info := idx.GetInfo()
	if info.DbType != db.ImplRBIdx {
		t.Errorf("Expected db type %s, got %s", db.ImplRBIdx, info.DbType)
	}
	if info.Entries != 2000 {
		t.Errorf("Expected 2000 entries, got %d", info.Entries)
	}

	meta, ok := info.Metadata.(*Metadata)
	if !ok {
		t.Fatalf("Unexpected metadata type %T", info.Metadata)
	}
	if meta.SetName != "info" || meta.LockTableSize != 8 {
		t.Errorf("Unexpected metadata %+v", meta)
	}
	if meta.Samples != infoSamples {
		t.Errorf("Expected %d samples, got %d", infoSamples, meta.Samples)
	}
	if meta.TreeHeight <= 0 || meta.TreeHeight != idx.Height() {
		t.Errorf("Unexpected tree height %d", meta.TreeHeight)
	}
}
