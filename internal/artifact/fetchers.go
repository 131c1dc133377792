package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
	"k8s.io/klog/v2"
)

type HTTPFetcher struct {
	// Client defaults to http.DefaultClient.
	Client *http.Client
}

var _ Fetcher = (*HTTPFetcher)(nil)

func (f *HTTPFetcher) Fetch(ctx context.Context, src *url.URL, w io.Writer) (int64, error) {
	log := klog.FromContext(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.String(), nil)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	log.V(2).Info("fetching model over http", "url", src.String())
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("doing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusNotFound {
			return 0, fmt.Errorf("model %q not found: %w", src.String(), fs.ErrNotExist)
		}
		return 0, fmt.Errorf("unexpected status fetching %q: %v", src.String(), resp.Status)
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("reading response body: %w", err)
	}
	return n, nil
}

type GCSFetcher struct {
	// ClientOptions are passed to storage.NewClient, e.g.
	// option.WithoutAuthentication for public buckets.
	ClientOptions []option.ClientOption
}

var _ Fetcher = (*GCSFetcher)(nil)

// ParseGCSURL splits gs://bucket/object into its bucket and object key.
func ParseGCSURL(u *url.URL) (bucket, object string, err error) {
	if u.Scheme != "gs" {
		return "", "", fmt.Errorf("not a GCS URL: %q", u.String())
	}
	bucket = u.Host
	object = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || object == "" {
		return "", "", fmt.Errorf("GCS URL %q must be gs://<bucket>/<object>", u.String())
	}
	return bucket, object, nil
}

func (f *GCSFetcher) Fetch(ctx context.Context, src *url.URL, w io.Writer) (int64, error) {
	log := klog.FromContext(ctx)

	bucket, object, err := ParseGCSURL(src)
	if err != nil {
		return 0, err
	}

	client, err := storage.NewClient(ctx, f.ClientOptions...)
	if err != nil {
		return 0, fmt.Errorf("creating GCS storage client: %w", err)
	}
	defer client.Close()

	log.V(2).Info("fetching model from GCS", "bucket", bucket, "object", object)
	r, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
			return 0, fmt.Errorf("model %q not found: %w", src.String(), fs.ErrNotExist)
		}
		return 0, fmt.Errorf("opening object from GCS %q: %w", src.String(), err)
	}
	defer r.Close()

	n, err := io.Copy(w, r)
	if err != nil {
		return n, fmt.Errorf("reading object from GCS: %w", err)
	}
	return n, nil
}
