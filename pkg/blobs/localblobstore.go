package blobs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"k8s.io/klog/v2"
)

// LocalBlobstore keeps blobs as files named by their key in a directory.
type LocalBlobstore struct {
	Dir string
}

var _ Blobstore = (*LocalBlobstore)(nil)

func (s *LocalBlobstore) path(info BlobInfo) string {
	return filepath.Join(s.Dir, info.Key())
}

func (s *LocalBlobstore) Download(ctx context.Context, info BlobInfo, destPath string) error {
	src, err := os.Open(s.path(info))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("blob %s not found: %w", info.Digest, os.ErrNotExist)
		}
		return fmt.Errorf("opening blob %s: %w", info.Digest, err)
	}
	defer src.Close()

	if _, err := writeToFile(ctx, src, info, destPath); err != nil {
		return fmt.Errorf("copying blob %s: %w", info.Digest, err)
	}
	return nil
}

func (s *LocalBlobstore) Upload(ctx context.Context, sourcePath string, info BlobInfo) error {
	log := klog.FromContext(ctx)

	dest := s.path(info)
	if _, err := os.Stat(dest); err == nil {
		log.Info("blob already exists", "path", dest)
		return nil
	}
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return fmt.Errorf("creating blob directory %q: %w", s.Dir, err)
	}

	src, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("opening source file: %w", err)
	}
	defer src.Close()

	n, err := writeToFile(ctx, src, info, dest)
	if err != nil {
		return fmt.Errorf("storing blob %s: %w", info.Digest, err)
	}
	log.Info("stored blob", "path", dest, "bytes", n)
	return nil
}
