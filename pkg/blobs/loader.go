package blobs

import (
	"context"
	"errors"
	"os"
	"time"

	"k8s.io/klog/v2"
)

// Loader downloads blobs, retrying transient failures.
type Loader struct {
	// Reader is the interface to fetch blobs
	Reader BlobReader

	// MaxDownloadAttempts is the number of times to attempt a download before failing
	MaxDownloadAttempts int

	// RetryInterval is the pause between attempts; zero means 5s.
	RetryInterval time.Duration
}

// Download fetches info into destPath. A missing blob is not retried.
func (l *Loader) Download(ctx context.Context, info BlobInfo, destPath string) error {
	log := klog.FromContext(ctx)

	interval := l.RetryInterval
	if interval == 0 {
		interval = 5 * time.Second
	}

	attempt := 0
	for {
		attempt++

		err := l.Reader.Download(ctx, info, destPath)
		if err == nil {
			return nil
		}

		if attempt >= l.MaxDownloadAttempts || errors.Is(err, os.ErrNotExist) {
			return err
		}

		log.Error(err, "downloading blob, will retry", "digest", info.Digest, "attempt", attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

var _ BlobReader = &Loader{}
