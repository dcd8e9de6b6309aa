// Package blobs fetches model definition artifacts. Paths are either
// local files or gs://bucket/object URIs; the CLI does not care which.
package blobs

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"

	"github.com/vk/staticgrid/internal/ctxlog"
)

// Fetcher resolves a model reference to its bytes.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// Store is the default Fetcher: local filesystem plus Google Cloud
// Storage for gs:// references.
type Store struct{}

var _ Fetcher = (*Store)(nil)

// Fetch reads the artifact behind ref.
func (s *Store) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if strings.HasPrefix(ref, "gs://") {
		return s.fetchGCS(ctx, ref)
	}
	return os.ReadFile(ref)
}

// splitGCSRef splits gs://bucket/object into its parts.
func splitGCSRef(ref string) (bucket, object string, err error) {
	rest := strings.TrimPrefix(ref, "gs://")
	bucket, object, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("malformed GCS reference %q", ref)
	}
	return bucket, object, nil
}

func (s *Store) fetchGCS(ctx context.Context, ref string) ([]byte, error) {
	logger := ctxlog.FromContext(ctx)

	bucket, object, err := splitGCSRef(ref)
	if err != nil {
		return nil, err
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating GCS storage client: %w", err)
	}
	defer client.Close()

	logger.Info("Downloading model definition from GCS.", "source", ref)
	startedAt := time.Now()

	r, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening object from GCS %q: %w", ref, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("downloading from GCS %q: %w", ref, err)
	}

	logger.Info("Downloaded model definition.", "source", ref, "bytes", len(data), "duration", time.Since(startedAt))
	return data, nil
}
