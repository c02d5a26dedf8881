package blobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"github.com/opencontainers/go-digest"
	"google.golang.org/api/googleapi"
	"k8s.io/klog/v2"
)

// GCSBlobstore keeps blobs as objects in a GCS bucket, named by their key
// under Prefix.
type GCSBlobstore struct {
	Bucket string
	// Prefix is prepended to every object key, for example "graphs/".
	Prefix string

	// Client is used if set; otherwise a client is created for each call.
	Client *storage.Client
}

var _ Blobstore = (*GCSBlobstore)(nil)

func (j *GCSBlobstore) objectKey(info BlobInfo) string {
	return j.Prefix + info.Key()
}

func (j *GCSBlobstore) url(info BlobInfo) string {
	return "gs://" + j.Bucket + "/" + j.objectKey(info)
}

// object returns a handle on the blob's object and a func releasing the
// client behind it.
func (j *GCSBlobstore) object(ctx context.Context, info BlobInfo) (*storage.ObjectHandle, func(), error) {
	client := j.Client
	release := func() {}
	if client == nil {
		c, err := storage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("creating GCS storage client: %w", err)
		}
		client = c
		release = func() { c.Close() }
	}
	return client.Bucket(j.Bucket).Object(j.objectKey(info)), release, nil
}

// Upload writes the file at sourcePath unless the object already exists.
// The file must match info's digest.
func (j *GCSBlobstore) Upload(ctx context.Context, sourcePath string, info BlobInfo) error {
	log := klog.FromContext(ctx)

	src, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("opening source file: %w", err)
	}
	defer src.Close()

	if err := verifySource(src, info.Digest); err != nil {
		return err
	}

	obj, release, err := j.object(ctx, info)
	if err != nil {
		return err
	}
	defer release()

	gcsURL := j.url(info)
	log.Info("uploading blob to GCS", "source", sourcePath, "destination", gcsURL)

	startedAt := time.Now()
	w := obj.If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = "application/yaml"
	w.Metadata = map[string]string{"digest": info.Digest.String()}
	n, err := io.Copy(w, src)
	if err != nil {
		w.Close()
		return fmt.Errorf("uploading to %q: %w", gcsURL, err)
	}
	if err := w.Close(); err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed {
			log.Info("object already exists in GCS", "url", gcsURL)
			return nil
		}
		return fmt.Errorf("closing GCS writer for %q: %w", gcsURL, err)
	}

	log.Info("uploaded blob to GCS", "url", gcsURL, "bytes", n, "duration", time.Since(startedAt))
	return nil
}

// verifySource checks src against d and rewinds it.
func verifySource(src io.ReadSeeker, d digest.Digest) error {
	verifier := d.Verifier()
	if _, err := io.Copy(verifier, src); err != nil {
		return fmt.Errorf("hashing source file: %w", err)
	}
	if !verifier.Verified() {
		return fmt.Errorf("source file does not match digest %s", d)
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding source file: %w", err)
	}
	return nil
}

func (j *GCSBlobstore) Download(ctx context.Context, info BlobInfo, destinationPath string) error {
	log := klog.FromContext(ctx)

	obj, release, err := j.object(ctx, info)
	if err != nil {
		return err
	}
	defer release()

	gcsURL := j.url(info)
	log.Info("downloading blob from GCS", "source", gcsURL, "destination", destinationPath)

	startedAt := time.Now()
	r, err := obj.NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("blob %q not found: %w", gcsURL, os.ErrNotExist)
		}
		return fmt.Errorf("opening object %q: %w", gcsURL, err)
	}
	defer r.Close()

	n, err := writeToFile(ctx, r, info, destinationPath)
	if err != nil {
		return fmt.Errorf("downloading from GCS: %w", err)
	}

	log.Info("downloaded blob from GCS", "source", gcsURL, "bytes", n, "duration", time.Since(startedAt))
	return nil
}
