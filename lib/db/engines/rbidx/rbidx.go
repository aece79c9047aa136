package rbidx

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/rbkv/lib/db"
	"github.com/ValentinKolb/rbkv/lib/db/util"
	"github.com/ValentinKolb/rbkv/lib/digest"
	"github.com/ValentinKolb/rbkv/lib/rbtree"
	"github.com/ValentinKolb/rbkv/lib/val"
	"github.com/ValentinKolb/rbkv/lib/vlock"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("engine")

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	defaultSetName = "default"
	infoSamples    = 1000 // max number of values sampled by GetInfo
	entryOverhead  = 96   // node plus value header, in bytes
)

// --------------------------------------------------------------------------
// Core index structure
// --------------------------------------------------------------------------

// Index is a KVDB backed by a single concurrent red-black tree. Keys are
// hashed together with the set name into digests, values are stored as
// reference counted byte values.
type Index struct {
	set   string
	locks *vlock.Table

	// swap is write-locked only while Load and Close replace the tree, every
	// other operation holds it shared
	swap sync.RWMutex
	tree atomic.Pointer[rbtree.Tree[*val.Val]]

	closed  bool
	metrics *opMetrics
}

// DBOptions configures the Index during initialization
type DBOptions struct {
	SetName       string       // Namespace mixed into every digest
	LockTableSize int          // Number of value locks (0 = vlock.DefaultSize())
	LockTable     *vlock.Table // Shared lock table, overrides LockTableSize
}

// DefaultOptions returns the default Index options
func DefaultOptions() *DBOptions {
	return &DBOptions{
		SetName:       defaultSetName,
		LockTableSize: vlock.DefaultSize(),
	}
}

// --------------------------------------------------------------------------
// Initialization and Setup
// --------------------------------------------------------------------------

// NewRBIdx creates a new empty Index with the specified options (optional)
func NewRBIdx(opts *DBOptions) *Index {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.SetName == "" {
		opts.SetName = defaultSetName
	}

	locks := opts.LockTable
	if locks == nil {
		locks = vlock.New(opts.LockTableSize)
	}

	idx := &Index{
		set:   opts.SetName,
		locks: locks,
	}
	idx.tree.Store(idx.newTree())
	idx.metrics = newOpMetrics(idx.set, func() float64 {
		return float64(idx.tree.Load().Size())
	})

	Logger.Debugf("created index for set %q with %d value locks", idx.set, locks.Size())
	return idx
}

// destroyValue is the destructor of the tree, it drops the reference the
// tree holds on a value
func destroyValue(v *val.Val, _ any) {
	if v != nil {
		val.Destroy(v)
	}
}

func (idx *Index) newTree() *rbtree.Tree[*val.Val] {
	return rbtree.New[*val.Val](destroyValue, rbtree.WithLockTable(idx.locks))
}

// acquire returns the current tree and holds the swap lock shared until
// the returned release func is called
func (idx *Index) acquire() (*rbtree.Tree[*val.Val], func()) {
	idx.swap.RLock()
	return idx.tree.Load(), idx.swap.RUnlock
}

func (idx *Index) digest(key string) digest.Digest {
	return digest.ComputeString(idx.set, key)
}

// SetName returns the set name that is mixed into the digests
func (idx *Index) SetName() string {
	return idx.set
}

// --------------------------------------------------------------------------
// KVDB Interface Implementation - Write Operations
// --------------------------------------------------------------------------

// Set stores a copy of value under key, replacing any previous value
//
// Thread-safety: safe for concurrent use
func (idx *Index) Set(key string, value []byte) {
	tree, release := idx.acquire()
	defer release()
	idx.metrics.sets.Inc()

	n, vlock, created := tree.GetInsertVLock(idx.digest(key))
	old := n.Value
	n.Value = val.Bytes(value)
	vlock.Unlock()

	// readers that got the old value reserved it, ours is the tree's reference
	if !created {
		val.Destroy(old)
	}
}

// SetIfUnset stores a copy of value only if key is not present yet
//
// Thread-safety: safe for concurrent use, of several concurrent callers
// for the same key exactly one succeeds
func (idx *Index) SetIfUnset(key string, value []byte) bool {
	tree, release := idx.acquire()
	defer release()
	idx.metrics.setIfUnsets.Inc()

	n, vlock, created := tree.GetInsertVLock(idx.digest(key))
	if created {
		n.Value = val.Bytes(value)
	}
	vlock.Unlock()
	return created
}

// Delete removes key and drops its value
//
// Thread-safety: safe for concurrent use
func (idx *Index) Delete(key string) bool {
	tree, release := idx.acquire()
	defer release()
	idx.metrics.deletes.Inc()

	err := tree.Delete(idx.digest(key), nil)
	switch {
	case err == nil:
		return true
	case errors.Is(err, rbtree.ErrNotFound):
		return false
	default:
		// the tree is corrupt, nothing sensible can be done with it anymore
		panic(fmt.Errorf("index %q: %w", idx.set, err))
	}
}

// --------------------------------------------------------------------------
// KVDB Interface Implementation - Query Operations
// --------------------------------------------------------------------------

// Get returns a copy of the value stored under key
//
// Thread-safety: safe for concurrent use
func (idx *Index) Get(key string) ([]byte, bool) {
	tree, release := idx.acquire()
	defer release()
	idx.metrics.gets.Inc()

	n, vlock := tree.SearchVLock(idx.digest(key))
	if n == nil {
		idx.metrics.misses.Inc()
		return nil, false
	}

	// values are never mutated once published, holding a reference is
	// enough to copy outside the value lock
	v := val.Reserve(n.Value)
	vlock.Unlock()
	defer val.Destroy(v)

	b, _ := val.AsBytes(v)
	return bytes.Clone(b), true
}

// Has reports whether key is present
//
// Thread-safety: safe for concurrent use
func (idx *Index) Has(key string) bool {
	tree, release := idx.acquire()
	defer release()
	idx.metrics.has.Inc()

	return tree.Search(idx.digest(key)) != nil
}

// Scan calls fn with a copy of every value in ascending digest order until
// fn returns false. Writers block while the scan runs.
//
// Thread-safety: safe for concurrent use, fn must not use the Index
func (idx *Index) Scan(fn db.ScanFunc) {
	tree, release := idx.acquire()
	defer release()
	idx.metrics.scans.Inc()

	stopped := false
	tree.Reduce(func(key digest.Digest, v *val.Val, _ any) {
		if stopped {
			return
		}
		b, _ := val.AsBytes(v)
		stopped = !fn(key, bytes.Clone(b))
	}, nil)
}

// --------------------------------------------------------------------------
// Tree inspection
// --------------------------------------------------------------------------

// Verify checks the red-black invariants of the underlying tree
func (idx *Index) Verify() error {
	tree, release := idx.acquire()
	defer release()

	return tree.Verify()
}

// Height returns the height of the underlying tree
func (idx *Index) Height() int {
	tree, release := idx.acquire()
	defer release()

	return tree.Height()
}

// WritePrometheus writes the metrics of this index in Prometheus text format
func (idx *Index) WritePrometheus(w io.Writer) {
	idx.metrics.set.WritePrometheus(w)
}

// --------------------------------------------------------------------------
// KVDB Interface Implementation - Features and Metadata
// --------------------------------------------------------------------------

// Metadata is the implementation specific part of the database info
type Metadata struct {
	SetName       string `json:"set_name"`
	LockTableSize int    `json:"lock_table_size"`
	TreeHeight    int    `json:"tree_height"`
	Samples       int64  `json:"samples"`
	Info          string `json:"info"`
}

// GetInfo returns statistics about the index. Sizes are estimated from a
// sample of the values.
func (idx *Index) GetInfo() db.DatabaseInfo {
	tree, release := idx.acquire()
	defer release()

	histogram := util.NewSizeHistogram()
	tree.Reduce(func(_ digest.Digest, v *val.Val, _ any) {
		if histogram.Count() >= infoSamples {
			return
		}
		b, _ := val.AsBytes(v)
		histogram.AddSample(len(b))
	}, nil)

	entries := tree.Size()

	// weighted estimate (60% median, 40% average)
	perEntry := (histogram.MedianEstimate()*60+histogram.AverageSize()*40)/100 + entryOverhead
	sizeBytes := 0
	if entries > 0 {
		sizeBytes = perEntry * int(entries)
	}

	meta := &Metadata{
		SetName:       idx.set,
		LockTableSize: tree.LockTableSize(),
		TreeHeight:    tree.Height(),
		Samples:       histogram.Count(),
		Info:          "SizeBytes is an estimate based on sampled values.",
	}

	return db.DatabaseInfo{
		Entries:   entries,
		SizeBytes: sizeBytes,
		DbType:    db.ImplRBIdx,
		SupportedFeatures: []db.Feature{
			db.FeatureSet, db.FeatureSetIfUnset,
			db.FeatureGet, db.FeatureHas, db.FeatureDelete,
			db.FeatureScan,
			db.FeatureSave, db.FeatureLoad,
		},
		Metadata: meta,
	}
}

// SupportsFeature checks if this implementation supports a specific KVDB feature
func (idx *Index) SupportsFeature(feature db.Feature) bool {
	supportedFeatures := db.FeatureSet |
		db.FeatureSetIfUnset |
		db.FeatureGet |
		db.FeatureHas |
		db.FeatureDelete |
		db.FeatureScan |
		db.FeatureSave |
		db.FeatureLoad
	return supportedFeatures&feature == feature
}

// Close releases the tree and all values. Closing twice is a no-op, any
// other use of a closed index panics.
func (idx *Index) Close() error {
	idx.swap.Lock()
	defer idx.swap.Unlock()

	if idx.closed {
		return nil
	}
	idx.closed = true
	idx.tree.Load().Release(nil)
	return nil
}
