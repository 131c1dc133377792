// Package artifact resolves model sources to local files. Remote sources are
// downloaded once into a cache directory.
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"k8s.io/klog/v2"
)

// Fetcher copies a remote object to w. If no such object exists, Fetch
// returns an error for which errors.Is(err, fs.ErrNotExist) is true.
type Fetcher interface {
	Fetch(ctx context.Context, src *url.URL, w io.Writer) (int64, error)
}

type Resolver struct {
	// CacheDir holds downloaded artifacts.
	CacheDir string

	// MaxAttempts bounds download attempts; values below 1 mean one attempt.
	MaxAttempts int

	// RetryDelay is the pause between failed attempts.
	RetryDelay time.Duration

	// Fetchers are keyed by URL scheme.
	Fetchers map[string]Fetcher
}

// NewResolver returns a resolver for http:// and https:// sources, and for
// gs:// sources when gcs is non-nil.
func NewResolver(cacheDir string, maxAttempts int, gcs *GCSFetcher) *Resolver {
	httpFetcher := &HTTPFetcher{}
	r := &Resolver{
		CacheDir:    cacheDir,
		MaxAttempts: maxAttempts,
		RetryDelay:  5 * time.Second,
		Fetchers: map[string]Fetcher{
			"http":  httpFetcher,
			"https": httpFetcher,
		},
	}
	if gcs != nil {
		r.Fetchers["gs"] = gcs
	}
	return r
}

// Resolve returns a local path for source. Plain paths and file:// URLs are
// only checked for existence.
func (r *Resolver) Resolve(ctx context.Context, source string) (string, error) {
	log := klog.FromContext(ctx)

	u, err := url.Parse(source)
	if err != nil || len(u.Scheme) <= 1 {
		// Relative paths and Windows drive letters.
		return localFile(source)
	}
	if u.Scheme == "file" {
		return localFile(u.Path)
	}

	fetcher, ok := r.Fetchers[u.Scheme]
	if !ok || fetcher == nil {
		return "", fmt.Errorf("unsupported model source scheme %q in %q", u.Scheme, source)
	}

	destPath := r.cachePath(source, u)
	if _, err := os.Stat(destPath); err == nil {
		log.V(2).Info("using cached model", "source", source, "path", destPath)
		return destPath, nil
	}

	if err := os.MkdirAll(r.CacheDir, 0755); err != nil {
		return "", fmt.Errorf("creating cache directory %q: %w", r.CacheDir, err)
	}
	if err := r.downloadWithRetry(ctx, fetcher, u, destPath); err != nil {
		return "", fmt.Errorf("downloading model %q: %w", source, err)
	}
	return destPath, nil
}

func localFile(p string) (string, error) {
	if _, err := os.Stat(p); err != nil {
		return "", fmt.Errorf("model artifact: %w", err)
	}
	return p, nil
}

// cachePath keeps the object's base name for readability and prefixes a
// hash of the full source so different buckets or hosts never collide.
func (r *Resolver) cachePath(source string, u *url.URL) string {
	sum := sha256.Sum256([]byte(source))
	name := path.Base(u.Path)
	if name == "." || name == "/" {
		name = "model.onnx"
	}
	return filepath.Join(r.CacheDir, hex.EncodeToString(sum[:8])+"-"+name)
}

func (r *Resolver) downloadWithRetry(ctx context.Context, fetcher Fetcher, src *url.URL, destPath string) error {
	log := klog.FromContext(ctx)

	attempt := 0
	for {
		attempt++

		err := download(ctx, fetcher, src, destPath)
		if err == nil {
			return nil
		}
		if errors.Is(err, fs.ErrNotExist) || attempt >= r.MaxAttempts {
			return err
		}

		log.Error(err, "downloading model, will retry", "source", src.String(), "attempt", attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.RetryDelay):
		}
	}
}

func download(ctx context.Context, fetcher Fetcher, src *url.URL, destPath string) error {
	log := klog.FromContext(ctx)

	tempFile, err := os.CreateTemp(filepath.Dir(destPath), "download")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	shouldDeleteTempFile := true
	defer func() {
		if shouldDeleteTempFile {
			if err := os.Remove(tempFile.Name()); err != nil {
				log.Error(err, "removing temp file", "path", tempFile.Name())
			}
		}
	}()

	shouldCloseTempFile := true
	defer func() {
		if shouldCloseTempFile {
			if err := tempFile.Close(); err != nil {
				log.Error(err, "closing temp file", "path", tempFile.Name())
			}
		}
	}()

	startedAt := time.Now()
	n, err := fetcher.Fetch(ctx, src, tempFile)
	if err != nil {
		return err
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	shouldCloseTempFile = false

	if err := os.Rename(tempFile.Name(), destPath); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}
	shouldDeleteTempFile = false

	log.Info("downloaded model", "source", src.String(), "path", destPath, "bytes", n, "duration", time.Since(startedAt))
	return nil
}
