package blobs

import (
	"fmt"
	"net/url"
	"strings"
)

// OpenBlobstore returns the store addressed by location: gs://bucket/prefix,
// file:///dir or a plain directory path.
func OpenBlobstore(location string) (Blobstore, error) {
	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("parsing blobstore location %q: %w", location, err)
	}
	switch u.Scheme {
	case "gs":
		if u.Host == "" {
			return nil, fmt.Errorf("blobstore location %q has no bucket", location)
		}
		prefix := strings.TrimPrefix(u.Path, "/")
		if prefix != "" && !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		return &GCSBlobstore{Bucket: u.Host, Prefix: prefix}, nil
	case "file":
		return &LocalBlobstore{Dir: u.Path}, nil
	case "":
		return &LocalBlobstore{Dir: location}, nil
	}
	return nil, fmt.Errorf("unsupported blobstore location %q (want gs://, file:// or a path)", location)
}

// OpenBlobReader is OpenBlobstore that additionally accepts http:// and
// https:// blob servers, which are read-only.
func OpenBlobReader(location string) (BlobReader, error) {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		u, err := url.Parse(location)
		if err != nil {
			return nil, fmt.Errorf("parsing blob server url %q: %w", location, err)
		}
		return &BlobServer{BaseURL: u}, nil
	}
	return OpenBlobstore(location)
}
