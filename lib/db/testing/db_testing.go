package testing

import (
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/rbkv/lib/db"
	"github.com/ValentinKolb/rbkv/lib/digest"
)

// DBFactory is a function that creates a new instance of a KVDB implementation
type DBFactory func() db.KVDB

// RunKVDBTests runs a comprehensive test suite for a KVDB implementation.
func RunKVDBTests(t *testing.T, name string, factory DBFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Set&Get", func(t *testing.T) {
			testSetGet(t, factory())
		})

		t.Run("SetIfUnset", func(t *testing.T) {
			testSetIfUnset(t, factory())
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory())
		})

		t.Run("Has", func(t *testing.T) {
			testHas(t, factory())
		})

		t.Run("Scan", func(t *testing.T) {
			testScan(t, factory())
		})

		t.Run("SaveLoad", func(t *testing.T) {
			testSaveLoad(t, factory)
		})

		t.Run("LoadInvalid", func(t *testing.T) {
			testLoadInvalid(t, factory())
		})

		t.Run("EdgeCases", func(t *testing.T) {
			testEdgeCases(t, factory())
		})

		t.Run("ManyKeys", func(t *testing.T) {
			testManyKeys(t, factory())
		})

		t.Run("ConcurrentSetIfUnset", func(t *testing.T) {
			testConcurrentSetIfUnset(t, factory())
		})

		t.Run("ConcurrentUsage", func(t *testing.T) {
			testConcurrentUsage(t, factory())
		})

		t.Run("Info", func(t *testing.T) {
			testInfo(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Checks if the database supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, database db.KVDB, feature db.Feature) {
	if !database.SupportsFeature(feature) {
		t.Skip()
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testSetGet(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet)

	testKey := "test-key"
	testValue1 := []byte("test-value1")
	testValue2 := []byte("test-value2")

	database.Set(testKey, testValue1)

	result, exists := database.Get(testKey)
	if !exists {
		t.Errorf("Expected key %s to exist after Set", testKey)
	}
	if !bytes.Equal(result, testValue1) {
		t.Errorf("Expected value %s, got %s", testValue1, result)
	}

	// overwrite
	database.Set(testKey, testValue2)

	result, exists = database.Get(testKey)
	if !exists {
		t.Errorf("Expected key %s to exist after Set", testKey)
	}
	if !bytes.Equal(result, testValue2) {
		t.Errorf("Expected value %s, got %s", testValue2, result)
	}

	_, exists = database.Get("nonexistent-key")
	if exists {
		t.Errorf("Expected nonexistent key to return exists=false")
	}

	// Get must return a copy
	retrievedValue, _ := database.Get(testKey)
	retrievedValue[0] = 'X'
	originalValue, _ := database.Get(testKey)
	if bytes.Equal(retrievedValue, originalValue) {
		t.Errorf("Get should return a copy, not a reference to the stored value")
	}

	// Set must copy the input
	input := []byte("input-value")
	database.Set("copy-key", input)
	input[0] = 'X'
	result, _ = database.Get("copy-key")
	if !bytes.Equal(result, []byte("input-value")) {
		t.Errorf("Set should store a copy of the value, got %s", result)
	}
}

func testSetIfUnset(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSetIfUnset|db.FeatureGet)

	testKey := "test-key"
	testValue1 := []byte("test-value")
	testValue2 := []byte("test-value2")

	if !database.SetIfUnset(testKey, testValue1) {
		t.Errorf("Expected SetIfUnset on a new key to store the value")
	}

	result, exists := database.Get(testKey)
	if !exists {
		t.Errorf("Expected key %s to exist after SetIfUnset", testKey)
	}
	if !bytes.Equal(result, testValue1) {
		t.Errorf("Expected value %s, got %s", testValue1, result)
	}

	if database.SetIfUnset(testKey, testValue2) {
		t.Errorf("Expected SetIfUnset on an existing key to fail")
	}

	result, _ = database.Get(testKey)
	if !bytes.Equal(result, testValue1) {
		t.Errorf("Expected value %s to be kept, got %s", testValue1, result)
	}
}

func testDelete(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet|db.FeatureDelete)

	testKey := "delete-test-key"
	testValue := []byte("delete-test-value")

	database.Set(testKey, testValue)

	if _, exists := database.Get(testKey); !exists {
		t.Errorf("Expected key %s to exist after Set", testKey)
	}

	if !database.Delete(testKey) {
		t.Errorf("Expected Delete of existing key to report true")
	}

	if _, exists := database.Get(testKey); exists {
		t.Errorf("Expected key %s to not exist after Delete", testKey)
	}
	if database.Has(testKey) {
		t.Errorf("Expected key %s to not exist after Delete", testKey)
	}

	if database.Delete(testKey) {
		t.Errorf("Expected second Delete to report false")
	}
	if database.Delete("nonexistent-key") {
		t.Errorf("Expected Delete of nonexistent key to report false")
	}

	// the key can be set again
	database.Set(testKey, testValue)
	if !database.Has(testKey) {
		t.Errorf("Expected key %s to exist after re-Set", testKey)
	}
}

func testHas(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureDelete|db.FeatureHas)

	testKey := "has-exists-test-key"
	testValue := []byte("has-exists-test-value")

	if database.Has(testKey) {
		t.Errorf("Expected Has to return false for nonexistent key")
	}

	database.Set(testKey, testValue)
	if !database.Has(testKey) {
		t.Errorf("Expected Has to return true after Set")
	}

	database.Delete(testKey)
	if database.Has(testKey) {
		t.Errorf("Expected Has to return false after Delete")
	}
}

func testScan(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureScan)

	numKeys := 500
	expected := make(map[digest.Digest][]byte)
	for i := 0; i < numKeys; i++ {
		value := []byte(fmt.Sprintf("scan-value-%d", i))
		database.Set(fmt.Sprintf("scan-key-%d", i), value)
	}

	var (
		prev  digest.Digest
		count int
	)
	database.Scan(func(key digest.Digest, value []byte) bool {
		if count > 0 && digest.Compare(prev, key) >= 0 {
			t.Errorf("Scan not in ascending order at entry %d", count)
		}
		if _, dup := expected[key]; dup {
			t.Errorf("Scan visited %s twice", key)
		}
		expected[key] = value
		prev = key
		count++
		return true
	})

	if count != numKeys {
		t.Errorf("Expected scan to visit %d entries, got %d", numKeys, count)
	}

	// early stop
	visited := 0
	database.Scan(func(digest.Digest, []byte) bool {
		visited++
		return visited < 10
	})
	if visited != 10 {
		t.Errorf("Expected scan to stop after 10 entries, got %d", visited)
	}
}

func testSaveLoad(t *testing.T, factory DBFactory) {
	database := factory()
	database2 := factory()

	// close the databases after the test
	defer database.Close()
	defer database2.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet|db.FeatureSave|db.FeatureLoad)

	numEntries := 1000
	originalKeys := make([]string, numEntries)
	originalValues := make([][]byte, numEntries)

	for i := 0; i < numEntries; i++ {
		key := fmt.Sprintf("save-load-test-key-%d", i)
		value := []byte(fmt.Sprintf("save-load-test-value-%d", i))
		originalKeys[i] = key
		originalValues[i] = value
		database.Set(key, value)
	}

	// stale content of the target must be replaced by Load
	database2.Set("stale-key", []byte("stale"))

	var buf bytes.Buffer
	if err := database.Save(&buf); err != nil {
		t.Fatalf("Unexpected error during Save: %v", err)
	}
	if err := database2.Load(&buf); err != nil {
		t.Fatalf("Unexpected error during Load: %v", err)
	}

	for i := 0; i < numEntries; i++ {
		actualValue, exists := database2.Get(originalKeys[i])
		if !exists {
			t.Errorf("Key %s not found after Load", originalKeys[i])
			continue
		}
		if !bytes.Equal(actualValue, originalValues[i]) {
			t.Errorf("Value mismatch for key %s: expected %s, got %s", originalKeys[i], originalValues[i], actualValue)
		}
	}

	if database2.Has("stale-key") {
		t.Errorf("Expected Load to replace the existing content")
	}

	// the source must not be modified by Save
	for i := 0; i < numEntries; i++ {
		actualValue, exists := database.Get(originalKeys[i])
		if !exists || !bytes.Equal(actualValue, originalValues[i]) {
			t.Errorf("Value mismatch in original database for key %s", originalKeys[i])
		}
	}
}

func testLoadInvalid(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureLoad)

	if err := database.Load(bytes.NewReader([]byte("not a snapshot"))); err == nil {
		t.Errorf("Expected an error when loading garbage")
	}
	if err := database.Load(bytes.NewReader(nil)); err == nil {
		t.Errorf("Expected an error when loading an empty stream")
	}
}

func testEdgeCases(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet)

	// empty key
	emptyKeyValue := []byte("value for empty key")
	database.Set("", emptyKeyValue)
	result, exists := database.Get("")
	if !exists {
		t.Errorf("Empty key not found after Set")
	} else if !bytes.Equal(result, emptyKeyValue) {
		t.Errorf("Value mismatch for empty key")
	}

	// empty value
	database.Set("empty-value-key", []byte{})
	result, exists = database.Get("empty-value-key")
	if !exists {
		t.Errorf("Key for empty value not found after Set")
	} else if len(result) != 0 {
		t.Errorf("Empty value resulted in non-empty value: %v", result)
	}

	// nil value
	database.Set("nil-value-key", nil)
	result, exists = database.Get("nil-value-key")
	if !exists {
		t.Errorf("Key for nil value not found after Set")
	} else if len(result) != 0 {
		t.Errorf("Nil value resulted in non-empty value: %v", result)
	}

	if t.Failed() {
		return
	}

	// large key
	largeKey := string(make([]byte, 1000))
	database.Set(largeKey, []byte("value for large key"))
	result, exists = database.Get(largeKey)
	if !exists {
		t.Errorf("Large key not found after Set")
	} else if !bytes.Equal(result, []byte("value for large key")) {
		t.Errorf("Value mismatch for large key")
	}

	// large value
	largeValue := make([]byte, 16*1024*1024)
	for i := range largeValue {
		largeValue[i] = byte(i % 256)
	}
	database.Set("large-value-key", largeValue)
	result, exists = database.Get("large-value-key")
	if !exists {
		t.Errorf("Key for large value not found after Set")
	} else if !bytes.Equal(result, largeValue) {
		t.Errorf("Large value mismatch (got %d bytes, want %d)", len(result), len(largeValue))
	}
}

func testManyKeys(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet|db.FeatureDelete)

	prefix := "many-keys-test-"
	numKeys := 5000

	for i := 0; i < numKeys; i++ {
		database.Set(fmt.Sprintf("%s%d", prefix, i), []byte(fmt.Sprintf("value-%d", i)))
	}

	for i := 0; i < numKeys; i += 2 {
		if !database.Delete(fmt.Sprintf("%s%d", prefix, i)) {
			t.Errorf("Expected key %d to be deleted", i)
		}
	}

	for i := 0; i < numKeys; i++ {
		key := fmt.Sprintf("%s%d", prefix, i)
		value, exists := database.Get(key)
		if i%2 == 0 {
			if exists {
				t.Errorf("Key %s should be deleted", key)
			}
			continue
		}
		if !exists {
			t.Errorf("Key %s should still exist", key)
		} else if !bytes.Equal(value, []byte(fmt.Sprintf("value-%d", i))) {
			t.Errorf("Value for key %s does not match, got %s", key, value)
		}
	}

	if info := database.GetInfo(); int(info.Entries) != numKeys/2 {
		t.Errorf("Expected %d entries, got %d", numKeys/2, info.Entries)
	}
}

func testConcurrentSetIfUnset(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSetIfUnset|db.FeatureGet)

	numKeys := 20
	numWorkers := 16

	var (
		wg      sync.WaitGroup
		winners [20]atomic.Int32
		values  [20]atomic.Value
	)

	wg.Add(numWorkers)
	for w := 0; w < numWorkers; w++ {
		go func(w int) {
			defer wg.Done()
			for k := 0; k < numKeys; k++ {
				value := []byte(fmt.Sprintf("worker-%d", w))
				if database.SetIfUnset(fmt.Sprintf("race-key-%d", k), value) {
					winners[k].Add(1)
					values[k].Store(value)
				}
			}
		}(w)
	}
	wg.Wait()

	for k := 0; k < numKeys; k++ {
		if n := winners[k].Load(); n != 1 {
			t.Errorf("Expected exactly one winner for key %d, got %d", k, n)
			continue
		}
		stored, _ := database.Get(fmt.Sprintf("race-key-%d", k))
		if !bytes.Equal(stored, values[k].Load().([]byte)) {
			t.Errorf("Stored value %s is not the winner's value %s", stored, values[k].Load())
		}
	}
}

func testConcurrentUsage(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet|db.FeatureDelete|db.FeatureScan)

	numWorkers := 8
	opsPerWorker := 2000

	var wg sync.WaitGroup
	wg.Add(numWorkers + 1)

	stop := make(chan struct{})
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				database.Scan(func(digest.Digest, []byte) bool { return true })
			}
		}
	}()

	var workers sync.WaitGroup
	workers.Add(numWorkers)
	for w := 0; w < numWorkers; w++ {
		go func(w int) {
			defer wg.Done()
			defer workers.Done()
			for i := 0; i < opsPerWorker; i++ {
				key := fmt.Sprintf("hot-key-%d", i%64)
				switch i % 4 {
				case 0, 1:
					database.Set(key, []byte(fmt.Sprintf("%d-%d", w, i)))
				case 2:
					database.Get(key)
				case 3:
					database.Delete(key)
				}
			}
		}(w)
	}

	workers.Wait()
	close(stop)
	wg.Wait()

	count := 0
	database.Scan(func(digest.Digest, []byte) bool {
		count++
		return true
	})
	if info := database.GetInfo(); int(info.Entries) != count {
		t.Errorf("Entry count %d does not match scanned entries %d", info.Entries, count)
	}
}

func testInfo(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet)

	for i := 0; i < 100; i++ {
		database.Set(fmt.Sprintf("info-key-%d", i), make([]byte, 100))
	}

	info := database.GetInfo()
	if info.Entries != 100 {
		t.Errorf("Expected 100 entries, got %d", info.Entries)
	}
	if info.SizeBytes <= 0 {
		t.Errorf("Expected a positive size estimate, got %d", info.SizeBytes)
	}
	if info.DbType == "" {
		t.Errorf("Expected a database type")
	}
	for _, f := range info.SupportedFeatures {
		if !database.SupportsFeature(f) {
			t.Errorf("Info lists feature %s which is not supported", f)
		}
	}
}
