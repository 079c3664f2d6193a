package backup

import (
	"compress/gzip"
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
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"apex-guard/internal/security"
)

func scanResult(t *testing.T) *security.ScanResult {
	t.Helper()
	scanner := security.NewScanner(security.Config{}, security.Dependencies{})
	res, err := scanner.Scan(context.Background(), security.ScanRequest{
		Source:   "eval(req.body.code)\nconst h = md5(password)\n",
		FilePath: "handler.js",
	})
	require.NoError(t, err)
	return res
}

func TestArchiver_LocalRoundTrip(t *testing.T) {
	dir := t.TempDir()
	storage, err := NewLocalStorage(dir)
	require.NoError(t, err)
	a := NewArchiver(storage, "scans", zaptest.NewLogger(t))
	ctx := context.Background()

	res := scanResult(t)
	res.ScannedAt = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	key := a.Key(res)
	assert.Equal(t, "scans/2026/05/04/"+res.ScanID+".json.gz", key)

	require.NoError(t, a.SaveScan(ctx, res))

	f, err := os.Open(filepath.Join(dir, filepath.FromSlash(key)))
	require.NoError(t, err)
	defer f.Close()
	gr, err := gzip.NewReader(f)
	require.NoError(t, err)
	got := &security.ScanResult{}
	require.NoError(t, json.NewDecoder(gr).Decode(got))
	if diff := cmp.Diff(res, got); diff != "" {
		t.Errorf("archived result mismatch (-want +got):\n%s", diff)
	}
}

func TestLocalStorage_RejectsEscapingKey(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	err = storage.Upload(context.Background(), "../outside.json", strings.NewReader("x"), "text/plain")
	assert.ErrorContains(t, err, "escapes base path")
}

type failingStore struct{ err error }

func (f failingStore) SaveScan(context.Context, *security.ScanResult) error { return f.err }

type recordingStore struct{ ids []string }

func (r *recordingStore) SaveScan(_ context.Context, res *security.ScanResult) error {
	r.ids = append(r.ids, res.ScanID)
	return nil
}

func TestMultiStore(t *testing.T) {
	rec := &recordingStore{}
	m := NewMultiStore(
		NamedStore{Name: "db", Store: failingStore{err: errors.New("connection refused")}},
		NamedStore{Name: "nil", Store: nil},
		NamedStore{Name: "archive", Store: rec},
	)
	assert.Equal(t, 2, m.Len())

	res := scanResult(t)
	err := m.SaveScan(context.Background(), res)
	assert.EqualError(t, err, "db: connection refused")
	assert.Equal(t, []string{res.ScanID}, rec.ids, "later sinks still run after a failure")

	assert.NoError(t, NewMultiStore(NamedStore{Name: "archive", Store: rec}).SaveScan(context.Background(), res))
}

func TestMultiStore_WarningPerFailedSink(t *testing.T) {
	rec := &recordingStore{}
	store := NewMultiStore(
		NamedStore{Name: "db", Store: failingStore{err: errors.New("connection refused")}},
		NamedStore{Name: "local", Store: rec},
		NamedStore{Name: "archive", Store: failingStore{err: errors.New("bucket missing")}},
	)
	scanner := security.NewScanner(security.Config{}, security.Dependencies{Store: store})

	res, err := scanner.Scan(context.Background(), security.ScanRequest{Source: "app.use(helmet())\n"})
	require.NoError(t, err)
	require.Len(t, res.Warnings, 2)
	for _, w := range res.Warnings {
		assert.Equal(t, security.WarnPersistenceFailure, w.Kind)
	}
	assert.Equal(t, "db: connection refused", res.Warnings[0].Message)
	assert.Equal(t, "archive: bucket missing", res.Warnings[1].Message)
	assert.Len(t, rec.ids, 1)
}

// fakeS3 answers the handful of path-style S3 calls the storage makes.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[r.URL.Path] = body
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestS3Storage_AgainstFakeEndpoint(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	storage, err := NewS3Storage(context.Background(), ArchiveConfig{
		Bucket:          "scan-archive",
		Region:          "us-east-1",
		Endpoint:        srv.URL,
		UsePathStyle:    true,
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "wJalrXUtnFEMI/K7MDENG",
	})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, storage.Upload(ctx, "scans/a.json.gz", strings.NewReader("payload"), archiveContentType))
	fake.mu.Lock()
	body, stored := fake.objects["/scan-archive/scans/a.json.gz"]
	fake.mu.Unlock()
	assert.True(t, stored)
	assert.Equal(t, "payload", string(body))
}

func TestNewS3Storage_RequiresBucket(t *testing.T) {
	_, err := NewS3Storage(context.Background(), ArchiveConfig{})
	assert.Error(t, err)
}
