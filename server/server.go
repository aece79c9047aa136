package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/ValentinKolb/rbkv/lib/db"
	"github.com/ValentinKolb/rbkv/lib/db/engines/rbidx"
	"github.com/ValentinKolb/rbkv/lib/store"
	"github.com/ValentinKolb/rbkv/lib/store/lstore"
	"github.com/ValentinKolb/rbkv/lib/vlock"
	"github.com/ValentinKolb/rbkv/server/common"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("server")

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	snapshotExt     = ".rbidx"
	maxBodySize     = 64 << 20 // max size of a value sent with PUT
	shutdownTimeout = 5 * time.Second
)

var (
	// ErrInvalidNamespace is returned for names that can not be used as namespace
	ErrInvalidNamespace = errors.New("invalid namespace name")

	namespacePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)
)

// --------------------------------------------------------------------------
// Server
// --------------------------------------------------------------------------

// Server serves a set of independent namespaces over HTTP. Each namespace is
// a local store on its own index, all indexes share one value lock table.
type Server struct {
	config     common.ServerConfig
	namespaces *xsync.MapOf[string, store.IStore]
	locks      *vlock.Table
	metrics    *metrics.Set
}

// NewServer creates a server and the namespaces listed in the config. No
// snapshots are loaded and no listener is started.
func NewServer(config common.ServerConfig) (*Server, error) {
	s := &Server{
		config:     config,
		namespaces: xsync.NewMapOf[string, store.IStore](),
		locks:      vlock.New(config.LockTableSize),
		metrics:    metrics.NewSet(),
	}
	s.metrics.NewGauge("rbkv_namespaces", func() float64 {
		return float64(s.namespaces.Size())
	})

	for _, name := range config.Namespaces {
		if _, err := s.namespace(name, true); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

// ValidNamespace reports whether name can be used as a namespace. Names are
// also used as snapshot file names.
func ValidNamespace(name string) bool {
	return namespacePattern.MatchString(name) && name != "." && name != ".."
}

// namespace returns the store of a namespace. With create set a missing
// namespace is created, otherwise nil is returned for it.
//
// Thread-safety: concurrent callers creating the same namespace all get the
// same store
func (s *Server) namespace(name string, create bool) (store.IStore, error) {
	if !ValidNamespace(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidNamespace, name)
	}
	if !create {
		st, _ := s.namespaces.Load(name)
		return st, nil
	}

	st, loaded := s.namespaces.LoadOrCompute(name, func() store.IStore {
		return lstore.NewLocalStore(func() db.KVDB {
			return rbidx.NewRBIdx(&rbidx.DBOptions{
				SetName:   name,
				LockTable: s.locks,
			})
		})
	})
	if !loaded {
		Logger.Infof("created namespace %q", name)
	}
	return st, nil
}

// Namespaces returns the names of all namespaces in sorted order
func (s *Server) Namespaces() []string {
	names := make([]string, 0, s.namespaces.Size())
	s.namespaces.Range(func(name string, _ store.IStore) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)
	return names
}

// Close closes all namespaces. The server must not be used afterwards.
func (s *Server) Close() {
	s.namespaces.Range(func(name string, st store.IStore) bool {
		if err := st.Close(); err != nil {
			Logger.Warningf("closing namespace %q failed: %v", name, err)
		}
		return true
	})
	s.namespaces.Clear()
}

// --------------------------------------------------------------------------
// Snapshots
// --------------------------------------------------------------------------

// LoadSnapshots loads every <namespace>.rbidx file of the snapshot directory
// into its namespace. A missing directory is not an error.
func (s *Server) LoadSnapshots() error {
	if s.config.SnapshotDir == "" {
		return nil
	}

	entries, err := os.ReadDir(s.config.SnapshotDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	} else if err != nil {
		return fmt.Errorf("reading snapshot directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), snapshotExt) {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), snapshotExt)
		if err := s.loadSnapshot(name, filepath.Join(s.config.SnapshotDir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) loadSnapshot(name, path string) error {
	st, err := s.namespace(name, true)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening snapshot of %q: %w", name, err)
	}
	defer f.Close()

	if err := st.Load(f); err != nil {
		return fmt.Errorf("loading snapshot of %q: %w", name, err)
	}
	return nil
}

// SaveSnapshots writes a snapshot of every namespace to the snapshot
// directory. Files are replaced atomically by writing a temporary file first.
func (s *Server) SaveSnapshots() error {
	if s.config.SnapshotDir == "" {
		return nil
	}
	if err := os.MkdirAll(s.config.SnapshotDir, 0o755); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}

	var errs []error
	s.namespaces.Range(func(name string, st store.IStore) bool {
		if err := s.saveSnapshot(name, st); err != nil {
			errs = append(errs, err)
		}
		return true
	})
	return errors.Join(errs...)
}

func (s *Server) saveSnapshot(name string, st store.IStore) error {
	tmp, err := os.CreateTemp(s.config.SnapshotDir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("saving snapshot of %q: %w", name, err)
	}
	defer os.Remove(tmp.Name())

	if err := st.Save(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("saving snapshot of %q: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("saving snapshot of %q: %w", name, err)
	}

	path := filepath.Join(s.config.SnapshotDir, name+snapshotExt)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("saving snapshot of %q: %w", name, err)
	}
	Logger.Infof("saved snapshot of namespace %q to %s", name, path)
	return nil
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Serve listens on the configured endpoint until ctx is cancelled, then
// shuts the listener down and saves all snapshots.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.config.Endpoint,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		Logger.Infof("Starting HTTP server on %s", s.config.Endpoint)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	Logger.Infof("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		Logger.Warningf("shutdown did not complete: %v", err)
	}

	return s.SaveSnapshots()
}
