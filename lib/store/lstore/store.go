package lstore

import (
	"fmt"
	"io"

	"github.com/ValentinKolb/rbkv/lib/db"
	"github.com/ValentinKolb/rbkv/lib/store"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("store")

type storeImpl struct {
	db db.KVDB
}

// NewLocalStore creates a new local store instance on top of the database
// created by factory.
func NewLocalStore(factory store.DBFactory) store.IStore {
	return &storeImpl{
		db: factory(),
	}
}

// require returns an error with RetCUnsupportedOperation if the database
// lacks one of the features
func (s *storeImpl) require(feature db.Feature) error {
	if !s.db.SupportsFeature(feature) {
		return store.NewError(store.RetCUnsupportedOperation, fmt.Sprintf("%s operation is not supported", feature))
	}
	return nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Set(key string, value []byte) error {
	if err := s.require(db.FeatureSet); err != nil {
		return err
	}
	s.db.Set(key, value)
	return nil
}

func (s *storeImpl) SetIfUnset(key string, value []byte) (bool, error) {
	if err := s.require(db.FeatureSetIfUnset); err != nil {
		return false, err
	}
	return s.db.SetIfUnset(key, value), nil
}

func (s *storeImpl) Delete(key string) error {
	if err := s.require(db.FeatureDelete); err != nil {
		return err
	}
	if !s.db.Delete(key) {
		return store.NewError(store.RetCNotFound, fmt.Sprintf("key %q not found", key))
	}
	return nil
}

func (s *storeImpl) Get(key string) ([]byte, bool, error) {
	if err := s.require(db.FeatureGet); err != nil {
		return nil, false, err
	}
	value, ok := s.db.Get(key)
	return value, ok, nil
}

func (s *storeImpl) Has(key string) (bool, error) {
	if err := s.require(db.FeatureHas); err != nil {
		return false, err
	}
	return s.db.Has(key), nil
}

func (s *storeImpl) Scan(fn db.ScanFunc) error {
	if err := s.require(db.FeatureScan); err != nil {
		return err
	}
	s.db.Scan(fn)
	return nil
}

func (s *storeImpl) GetDBInfo() (db.DatabaseInfo, error) {
	return s.db.GetInfo(), nil
}

func (s *storeImpl) Save(w io.Writer) error {
	if err := s.require(db.FeatureSave); err != nil {
		return err
	}
	if err := s.db.Save(w); err != nil {
		Logger.Errorf("save failed: %v", err)
		return store.NewError(store.RetCInternalError, err.Error())
	}
	return nil
}

func (s *storeImpl) Load(r io.Reader) error {
	if err := s.require(db.FeatureLoad); err != nil {
		return err
	}
	if err := s.db.Load(r); err != nil {
		Logger.Warningf("load failed: %v", err)
		return store.NewError(store.RetCInvalidOperation, err.Error())
	}
	return nil
}

func (s *storeImpl) Close() error {
	if err := s.db.Close(); err != nil {
		return store.NewError(store.RetCInternalError, err.Error())
	}
	return nil
}

// WritePrometheus forwards to the database if it exports metrics
func (s *storeImpl) WritePrometheus(w io.Writer) {
	if m, ok := s.db.(interface{ WritePrometheus(io.Writer) }); ok {
		m.WritePrometheus(w)
	}
}
