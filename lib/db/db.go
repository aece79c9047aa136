package db

import (
	"io"

	"github.com/ValentinKolb/rbkv/lib/digest"
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplRBIdx Implementation = "rbidx"
)

// Feature represents database features as bit flags
type Feature uint64

const (
	FeatureSet        Feature = 1 << iota // Support for Set operations
	FeatureSetIfUnset                     // Support for SetIfUnset operations
	FeatureGet                            // Support for Get operations
	FeatureHas                            // Support for Has operations
	FeatureDelete                         // Support for Delete operations
	FeatureScan                           // Support for ordered Scan operations
	FeatureSave                           // Support for Save operations
	FeatureLoad                           // Support for Load operations
)

func (f Feature) String() string {
	switch f {
	case FeatureSet:
		return "Set"
	case FeatureSetIfUnset:
		return "SetIfUnset"
	case FeatureGet:
		return "Get"
	case FeatureHas:
		return "Has"
	case FeatureDelete:
		return "Delete"
	case FeatureScan:
		return "Scan"
	case FeatureSave:
		return "Save"
	case FeatureLoad:
		return "Load"
	default:
		return "Unknown"
	}
}

// MarshalText makes features readable in json database infos
func (f Feature) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

type DatabaseInfo struct {
	Entries           uint32         `json:"entries"`
	SizeBytes         int            `json:"size_bytes"`
	DbType            Implementation `json:"db_type"`
	SupportedFeatures []Feature      `json:"supported_features"`
	Metadata          interface{}    `json:"metadata"`
}

// ScanFunc is called for every entry during Scan. Returning false stops the
// scan.
type ScanFunc func(key digest.Digest, value []byte) (next bool)

// --------------------------------------------------------------------------
// Database Interface
// --------------------------------------------------------------------------

// KVDB defines an interface for key-value database implementations.
// Keys are strings that implementations hash into digests; two keys with the
// same digest are the same key.
// Implementations can vary in their feature support, which can be queried with SupportsFeature.
type KVDB interface {

	// --------------------------------------------------------------------------
	// Write Operations
	// --------------------------------------------------------------------------

	// Set inserts or updates an entry with the given key and value.
	// If the key already exists, the old value is overwritten.
	Set(key string, value []byte)

	// SetIfUnset inserts an entry only if the key does not exist yet.
	// Returns true if the value was stored. Concurrent callers for the same
	// key see exactly one success.
	SetIfUnset(key string, value []byte) (stored bool)

	// Delete removes an entry with the specified key.
	// Returns false if the key did not exist.
	Delete(key string) (deleted bool)

	// --------------------------------------------------------------------------
	// Query Operations
	// --------------------------------------------------------------------------

	// Get retrieves a copy of the value for an exact key.
	// The boolean return value indicates whether a value for the key was found.
	Get(key string) (value []byte, loaded bool)

	// Has checks whether a key exists in the database.
	Has(key string) (loaded bool)

	// Scan calls fn for every entry in ascending digest order until fn
	// returns false. The value passed to fn is a copy. fn must not call
	// back into the database.
	Scan(fn ScanFunc)

	// --------------------------------------------------------------------------
	// Persistence Operations
	// --------------------------------------------------------------------------

	// Save persists the current state of the database to the provided io.Writer.
	Save(w io.Writer) (err error)

	// Load replaces the database state with the data provided by an io.Reader.
	Load(r io.Reader) (err error)

	// --------------------------------------------------------------------------
	// Feature Support
	// --------------------------------------------------------------------------

	// SupportsFeature checks if the database implementation supports the specified feature.
	// Returns true if the feature is supported, false otherwise.
	// Multiple features can be checked at once using bitwise OR (|) operator.
	SupportsFeature(feature Feature) (ok bool)

	// GetInfo returns information about the database.
	GetInfo() (info DatabaseInfo)

	// Close closes the database and releases all entries.
	Close() (err error)
}
