package blobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/singleflight"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/klog/v2"
)

// BlobCache serves blobs from a local directory, filling it from an upstream
// reader on a miss.
type BlobCache struct {
	BaseDir string
	// Upstream may be nil, in which case only cached blobs are served.
	Upstream BlobReader

	fetches singleflight.Group
}

// GetBlob opens the cached copy of a blob. It returns a NotFound status
// error if neither the cache nor the upstream has it.
func (c *BlobCache) GetBlob(ctx context.Context, info BlobInfo) (*os.File, error) {
	log := klog.FromContext(ctx)

	localPath := filepath.Join(c.BaseDir, info.Key())
	f, err := os.Open(localPath)
	if err == nil {
		return f, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("opening blob %q: %w", info.Key(), err)
	}

	if c.Upstream == nil {
		return nil, status.Errorf(codes.NotFound, "blob %q not found", info.Key())
	}

	if err := os.MkdirAll(c.BaseDir, 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory %q: %w", c.BaseDir, err)
	}

	// Concurrent misses for the same blob share one download, which outlives
	// the caller that started it.
	_, err, _ = c.fetches.Do(info.Key(), func() (any, error) {
		log.Info("fetching blob from upstream", "digest", info.Digest)
		return nil, c.Upstream.Download(context.WithoutCancel(ctx), info, localPath)
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, status.Errorf(codes.NotFound, "blob %q not found", info.Key())
		}
		return nil, fmt.Errorf("fetching blob %q: %w", info.Key(), err)
	}
	return os.Open(localPath)
}
