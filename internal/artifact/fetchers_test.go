package artifact

import (
	"bytes"
	"context"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

// newGCSServer serves objects over the storage XML read path, /<bucket>/<object>.
func newGCSServer(t *testing.T, objects map[string]string) (*GCSFetcher, *atomic.Int32) {
	t.Helper()
	t.Setenv("STORAGE_EMULATOR_HOST", "")

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		body, ok := objects[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	return &GCSFetcher{ClientOptions: []option.ClientOption{
		option.WithEndpoint(srv.URL + "/storage/v1/"),
		option.WithoutAuthentication(),
	}}, &hits
}

func TestGCSFetcherFetch(t *testing.T) {
	fetcher, _ := newGCSServer(t, map[string]string{"/models/iris.onnx": "model bytes"})

	u, err := url.Parse("gs://models/iris.onnx")
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := fetcher.Fetch(context.Background(), u, &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(len("model bytes")), n)
	assert.Equal(t, "model bytes", buf.String())
}

func TestGCSFetcherMissingObject(t *testing.T) {
	fetcher, _ := newGCSServer(t, nil)

	u, err := url.Parse("gs://models/missing.onnx")
	require.NoError(t, err)

	_, err = fetcher.Fetch(context.Background(), u, &bytes.Buffer{})
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestResolveGCSSource(t *testing.T) {
	fetcher, hits := newGCSServer(t, map[string]string{"/models/iris.onnx": "model bytes"})
	r := NewResolver(t.TempDir(), 3, fetcher)

	path, err := r.Resolve(context.Background(), "gs://models/iris.onnx")
	require.NoError(t, err)
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "model bytes", string(b))

	_, err = r.Resolve(context.Background(), "gs://models/missing.onnx")
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.Equal(t, int32(2), hits.Load(), "missing objects are not retried")
}
