package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ValentinKolb/rbkv/lib/digest"
	"github.com/ValentinKolb/rbkv/lib/store"
	"github.com/ValentinKolb/rbkv/server/common"
)

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func newTestServer(t *testing.T, config common.ServerConfig) (*Server, *httptest.Server) {
	t.Helper()
	s, err := NewServer(config)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Close()
	})
	return s, ts
}

func do(t *testing.T, method, url, body string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(b)
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func TestPutGetDelete(t *testing.T) {
	_, ts := newTestServer(t, common.ServerConfig{})

	if code, _ := do(t, http.MethodPut, ts.URL+"/ns/users/alice", "admin"); code != http.StatusNoContent {
		t.Fatalf("Expected 204 for PUT, got %d", code)
	}
	if code, body := do(t, http.MethodGet, ts.URL+"/ns/users/alice", ""); code != http.StatusOK || body != "admin" {
		t.Errorf("Expected 200 admin, got %d %q", code, body)
	}
	if code, _ := do(t, http.MethodDelete, ts.URL+"/ns/users/alice", ""); code != http.StatusNoContent {
		t.Errorf("Expected 204 for DELETE, got %d", code)
	}
	if code, _ := do(t, http.MethodDelete, ts.URL+"/ns/users/alice", ""); code != http.StatusNotFound {
		t.Errorf("Expected 404 for second DELETE, got %d", code)
	}
	if code, _ := do(t, http.MethodGet, ts.URL+"/ns/users/alice", ""); code != http.StatusNotFound {
		t.Errorf("Expected 404 after DELETE, got %d", code)
	}
}

func TestKeysWithSlashes(t *testing.T) {
	_, ts := newTestServer(t, common.ServerConfig{})

	do(t, http.MethodPut, ts.URL+"/ns/files/a/b/c", "nested")
	if code, body := do(t, http.MethodGet, ts.URL+"/ns/files/a/b/c", ""); code != http.StatusOK || body != "nested" {
		t.Errorf("Expected nested value, got %d %q", code, body)
	}
}

func TestPutIfUnset(t *testing.T) {
	_, ts := newTestServer(t, common.ServerConfig{})

	url := ts.URL + "/ns/locks/job?ifunset=true"
	if code, _ := do(t, http.MethodPut, url, "first"); code != http.StatusCreated {
		t.Errorf("Expected 201, got %d", code)
	}
	if code, _ := do(t, http.MethodPut, url, "second"); code != http.StatusConflict {
		t.Errorf("Expected 409, got %d", code)
	}
	if _, body := do(t, http.MethodGet, ts.URL+"/ns/locks/job", ""); body != "first" {
		t.Errorf("Expected first value to be kept, got %q", body)
	}
	if code, _ := do(t, http.MethodPut, ts.URL+"/ns/locks/job?ifunset=maybe", "x"); code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid ifunset, got %d", code)
	}
}

func TestConcurrentPutIfUnset(t *testing.T) {
	_, ts := newTestServer(t, common.ServerConfig{LockTableSize: 4})

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, _ := http.NewRequest(http.MethodPut, ts.URL+"/ns/race/key?ifunset=1", strings.NewReader("v"))
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Errorf("Request failed: %v", err)
				return
			}
			resp.Body.Close()
			if resp.StatusCode == http.StatusCreated {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Errorf("Expected exactly one creator, got %d", created)
	}
}

func TestUnknownAndInvalidNamespace(t *testing.T) {
	_, ts := newTestServer(t, common.ServerConfig{})

	if code, _ := do(t, http.MethodGet, ts.URL+"/ns/missing/key", ""); code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown namespace, got %d", code)
	}
	if code, _ := do(t, http.MethodGet, ts.URL+"/info/missing", ""); code != http.StatusNotFound {
		t.Errorf("Expected 404 for info of unknown namespace, got %d", code)
	}
	if code, _ := do(t, http.MethodPut, ts.URL+"/ns/bad%20name/key", "v"); code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid namespace, got %d", code)
	}
}

func TestValidNamespace(t *testing.T) {
	tests := map[string]bool{
		"users":     true,
		"a.b-c_9":   true,
		"":          false,
		".":         false,
		"..":        false,
		"with/path": false,
		"space ns":  false,
	}
	for name, want := range tests {
		if got := ValidNamespace(name); got != want {
			t.Errorf("ValidNamespace(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestScanAndList(t *testing.T) {
	_, ts := newTestServer(t, common.ServerConfig{Namespaces: []string{"empty"}})

	keys := []string{"a", "b", "c", "d"}
	for _, k := range keys {
		do(t, http.MethodPut, ts.URL+"/ns/letters/"+k, k)
	}

	code, body := do(t, http.MethodGet, ts.URL+"/ns/letters", "")
	if code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	var entries []scanEntry
	if err := json.Unmarshal([]byte(body), &entries); err != nil {
		t.Fatalf("Invalid scan response: %v", err)
	}
	if len(entries) != len(keys) {
		t.Fatalf("Expected %d entries, got %d", len(keys), len(entries))
	}
	for i := 1; i < len(entries); i++ {
		prev, _ := digest.Parse(entries[i-1].Digest)
		cur, _ := digest.Parse(entries[i].Digest)
		if !prev.Less(cur) {
			t.Errorf("Scan not in digest order at %d", i)
		}
	}
	for _, e := range entries {
		d, _ := digest.Parse(e.Digest)
		if d != digest.ComputeString("letters", string(e.Value)) {
			t.Errorf("Digest %s does not match value %q", e.Digest, e.Value)
		}
	}

	_, body = do(t, http.MethodGet, ts.URL+"/ns", "")
	var names []string
	if err := json.Unmarshal([]byte(body), &names); err != nil {
		t.Fatalf("Invalid list response: %v", err)
	}
	if strings.Join(names, ",") != "empty,letters" {
		t.Errorf("Unexpected namespaces %v", names)
	}

	if _, body = do(t, http.MethodGet, ts.URL+"/ns/empty", ""); strings.TrimSpace(body) != "[]" {
		t.Errorf("Expected empty list, got %q", body)
	}
}

func TestInfo(t *testing.T) {
	_, ts := newTestServer(t, common.ServerConfig{})
	do(t, http.MethodPut, ts.URL+"/ns/info/key", "value")

	code, body := do(t, http.MethodGet, ts.URL+"/info/info", "")
	if code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}

	var info struct {
		Entries           int      `json:"entries"`
		DbType            string   `json:"db_type"`
		SupportedFeatures []string `json:"supported_features"`
	}
	if err := json.Unmarshal([]byte(body), &info); err != nil {
		t.Fatalf("Invalid info response: %v", err)
	}
	if info.Entries != 1 || info.DbType != "rbidx" || len(info.SupportedFeatures) == 0 {
		t.Errorf("Unexpected info %+v", info)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := newTestServer(t, common.ServerConfig{})
	do(t, http.MethodPut, ts.URL+"/ns/m/key", "value")
	do(t, http.MethodGet, ts.URL+"/ns/m/missing", "")

	code, body := do(t, http.MethodGet, ts.URL+"/metrics", "")
	if code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	for _, line := range []string{
		`rbkv_namespaces 1`,
		`rbkv_entries{set="m"} 1`,
		`rbkv_get_misses_total{set="m"} 1`,
		`rbkv_http_requests_total{route="set",code="204"} 1`,
		`rbkv_http_requests_total{route="get",code="404"} 1`,
	} {
		if !strings.Contains(body, line) {
			t.Errorf("Expected metrics to contain %q", line)
		}
	}
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{store.NewError(store.RetCNotFound, ""), http.StatusNotFound},
		{store.NewError(store.RetCUnsupportedOperation, ""), http.StatusNotImplemented},
		{store.NewError(store.RetCInvalidOperation, ""), http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusOf(tt.err); got != tt.code {
			t.Errorf("statusOf(%v) = %d, want %d", tt.err, got, tt.code)
		}
	}
}

func TestSnapshots(t *testing.T) {
	dir := t.TempDir()

	s, err := NewServer(common.ServerConfig{SnapshotDir: dir})
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	a, _ := s.namespace("a", true)
	b, _ := s.namespace("b", true)
	_ = a.Set("key", []byte("from a"))
	_ = b.Set("key", []byte("from b"))

	if err := s.SaveSnapshots(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	s.Close()

	for _, name := range []string{"a.rbidx", "b.rbidx"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("Expected snapshot %s: %v", name, err)
		}
	}
	if tmp, _ := filepath.Glob(filepath.Join(dir, "*.tmp")); len(tmp) != 0 {
		t.Errorf("Temporary files left behind: %v", tmp)
	}

	restored, err := NewServer(common.ServerConfig{SnapshotDir: dir})
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	defer restored.Close()
	if err := restored.LoadSnapshots(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	for name, want := range map[string]string{"a": "from a", "b": "from b"} {
		st, _ := restored.namespace(name, false)
		if st == nil {
			t.Fatalf("Namespace %q not restored", name)
		}
		if value, ok, _ := st.Get("key"); !ok || string(value) != want {
			t.Errorf("Expected %q in %q, got %q", want, name, value)
		}
	}
}

func TestLoadSnapshotsMissingDir(t *testing.T) {
	s, _ := NewServer(common.ServerConfig{SnapshotDir: filepath.Join(t.TempDir(), "missing")})
	defer s.Close()

	if err := s.LoadSnapshots(); err != nil {
		t.Errorf("Missing directory must not be an error, got %v", err)
	}
}

func TestLoadSnapshotOfOtherNamespace(t *testing.T) {
	dir := t.TempDir()

	s, _ := NewServer(common.ServerConfig{SnapshotDir: dir})
	a, _ := s.namespace("a", true)
	_ = a.Set("key", []byte("value"))
	_ = s.SaveSnapshots()
	s.Close()

	// a renamed snapshot carries the digests of the old namespace
	_ = os.Rename(filepath.Join(dir, "a.rbidx"), filepath.Join(dir, "b.rbidx"))

	restored, _ := NewServer(common.ServerConfig{SnapshotDir: dir})
	defer restored.Close()
	err := restored.LoadSnapshots()
	if store.CodeOf(err) != store.RetCInvalidOperation {
		t.Errorf("Expected RetCInvalidOperation, got %v", err)
	}
}

func TestServeSavesOnShutdown(t *testing.T) {
	dir := t.TempDir()
	s, err := NewServer(common.ServerConfig{
		Endpoint:    "127.0.0.1:0",
		Namespaces:  []string{"boot"},
		SnapshotDir: dir,
	})
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Serve(ctx); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "boot.rbidx")); err != nil {
		t.Errorf("Expected snapshot after shutdown: %v", err)
	}
}

func TestConfigString(t *testing.T) {
	config := common.ServerConfig{Endpoint: ":8080", Namespaces: []string{"users"}, LogLevel: "info"}
	out := config.String()
	for _, want := range []string{"HTTP SERVER", ":8080", "users", "(disabled)"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected config string to contain %q, got:\n%s", want, out)
		}
	}
}
