package record

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/janelia-flyem/limbs/limbs"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"
)

// IsBucketRef returns true if ref is a bucket URL rather than a local path.
func IsBucketRef(ref string) bool {
	return strings.Contains(ref, "://")
}

// splitRef separates a bucket URL into the URL of the bucket and the object key.
// The reference should be of the form:
//
//	file:///abs/dir/name.tfrecords
//	gs://<bucketname>/path/name.tfrecords
//	s3://<bucketname>/path/name.tfrecords?region=us-east-2
func splitRef(ref string) (bucketURL, key string, err error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", "", fmt.Errorf("bad bucket reference %q: %w", ref, err)
	}
	switch u.Scheme {
	case "file":
		dir, name := path.Split(u.Path)
		bucketURL = (&url.URL{Scheme: "file", Path: dir, RawQuery: u.RawQuery}).String()
		key = name
	case "":
		return "", "", fmt.Errorf("bucket reference %q has no scheme", ref)
	default:
		bucketURL = (&url.URL{Scheme: u.Scheme, Host: u.Host, RawQuery: u.RawQuery}).String()
		key = strings.TrimPrefix(u.Path, "/")
	}
	if key == "" {
		return "", "", fmt.Errorf("bucket reference %q does not name an object", ref)
	}
	return bucketURL, key, nil
}

// FileWriter is a file being written by CreateFile.  Close commits it; Abort
// discards it so no partial file is left behind.
type FileWriter interface {
	io.WriteCloser
	Abort() error
}

// bucketObject closes both the object stream and its bucket.
type bucketObject struct {
	io.Reader
	io.Writer
	obj    io.Closer
	bucket *blob.Bucket
	cancel context.CancelFunc // aborts a pending upload
}

func (b *bucketObject) Close() error {
	err := b.obj.Close()
	if b.cancel != nil {
		b.cancel()
	}
	if cerr := b.bucket.Close(); err == nil {
		err = cerr
	}
	return err
}

// Abort cancels the upload before closing so the object is never committed.
func (b *bucketObject) Abort() error {
	if b.cancel != nil {
		b.cancel()
	}
	b.obj.Close()
	return b.bucket.Close()
}

// localFile removes itself on Abort.
type localFile struct {
	*os.File
}

func (f localFile) Abort() error {
	f.File.Close()
	return os.Remove(f.Name())
}

// OpenFile opens a record file by local path or bucket URL for reading.
func OpenFile(ctx context.Context, ref string) (io.ReadCloser, error) {
	if !IsBucketRef(ref) {
		return os.Open(ref)
	}
	bucketURL, key, err := splitRef(ref)
	if err != nil {
		return nil, err
	}
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		limbs.Errorf("Can't open bucket reference @ %q: %v\n", bucketURL, err)
		return nil, err
	}
	r, err := bucket.NewReader(ctx, key, nil)
	if err != nil {
		bucket.Close()
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("record file %q not found: %w", ref, os.ErrNotExist)
		}
		return nil, err
	}
	return &bucketObject{Reader: r, obj: r, bucket: bucket}, nil
}

// CreateFile creates or truncates a record file by local path or bucket URL.
// Parent directories of local paths are created as needed.
func CreateFile(ctx context.Context, ref string) (FileWriter, error) {
	if !IsBucketRef(ref) {
		if err := os.MkdirAll(filepath.Dir(ref), 0755); err != nil {
			return nil, err
		}
		f, err := os.Create(ref)
		if err != nil {
			return nil, err
		}
		return localFile{f}, nil
	}
	bucketURL, key, err := splitRef(ref)
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(bucketURL, "file://") {
		u, _ := url.Parse(bucketURL)
		if err := os.MkdirAll(u.Path, 0755); err != nil {
			return nil, err
		}
	}
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		limbs.Errorf("Can't open bucket reference @ %q: %v\n", bucketURL, err)
		return nil, err
	}
	wctx, cancel := context.WithCancel(ctx)
	w, err := bucket.NewWriter(wctx, key, nil)
	if err != nil {
		cancel()
		bucket.Close()
		return nil, err
	}
	return &bucketObject{Writer: w, obj: w, bucket: bucket, cancel: cancel}, nil
}

// RemoveFile deletes a local file or bucket object.  A missing file is not an
// error.
func RemoveFile(ctx context.Context, ref string) error {
	if !IsBucketRef(ref) {
		if err := os.Remove(ref); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	bucketURL, key, err := splitRef(ref)
	if err != nil {
		return err
	}
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return err
	}
	defer bucket.Close()
	if err := bucket.Delete(ctx, key); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return err
	}
	return nil
}

// JoinRef joins a directory reference (local path or bucket URL) with a file name.
func JoinRef(dir, name string) string {
	if !IsBucketRef(dir) {
		return filepath.Join(dir, name)
	}
	u, err := url.Parse(dir)
	if err != nil {
		return strings.TrimSuffix(dir, "/") + "/" + name
	}
	u.Path = path.Join(u.Path, name)
	return u.String()
}
