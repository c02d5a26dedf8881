package blobs

import (
	"context"

	"github.com/opencontainers/go-digest"
)

type BlobReader interface {
	// If no such object exists, Download should return an error for which errors.Is(err, os.ErrNotExist) is true.
	Download(ctx context.Context, info BlobInfo, destPath string) error
}

type Blobstore interface {
	BlobReader
	// Upload uploads the file at sourcePath to the blobstore, using the blob's digest as the object key.
	// If an object with the same digest already exists, Upload should do nothing and return no error.
	Upload(ctx context.Context, sourcePath string, info BlobInfo) error
}

// BlobInfo identifies a blob by the digest of its content.
type BlobInfo struct {
	Digest digest.Digest
}

// Key is the object name a blob is stored under: the encoded digest.
func (i BlobInfo) Key() string {
	return i.Digest.Encoded()
}

// ParseBlobInfo accepts a full digest ("sha256:<hex>") or a bare sha256 hex
// string.
func ParseBlobInfo(s string) (BlobInfo, error) {
	d, err := digest.Parse(s)
	if err != nil {
		d = digest.NewDigestFromEncoded(digest.SHA256, s)
		if err := d.Validate(); err != nil {
			return BlobInfo{}, err
		}
	}
	return BlobInfo{Digest: d}, nil
}
