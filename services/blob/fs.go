// Package blobsvc stores uploaded files on the local file system.
package blobsvc

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/ampayon/gradebook/core"
)

var ErrInvalidPath = errors.New("invalid blob path")

// FSStore keeps each bucket in a directory under root. Files are served from publicBaseURL.
type FSStore struct {
	root          string
	publicBaseURL string
}

var _ core.BlobStore = (*FSStore)(nil)

func NewFSStore(conf *core.Config) (*FSStore, error) {
	if err := os.MkdirAll(conf.Storage.Root, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating storage root")
	}
	return &FSStore{root: conf.Storage.Root, publicBaseURL: conf.Storage.PublicBaseURL}, nil
}

// Root is the directory holding the buckets.
func (s *FSStore) Root() string { return s.root }

// resolve maps bucket/p to a file under root, rejecting paths escaping their bucket.
func (s *FSStore) resolve(bucket, p string) (string, error) {
	clean := path.Clean("/" + p)
	if bucket == "" || strings.Contains(bucket, "/") || bucket == ".." || clean == "/" {
		return "", ErrInvalidPath
	}
	return filepath.Join(s.root, bucket, filepath.FromSlash(clean)), nil
}

func (s *FSStore) Put(_ context.Context, bucket, p string, r io.Reader, _ string) (core.BlobObject, error) {
	fp, err := s.resolve(bucket, p)
	if err != nil {
		return core.BlobObject{}, err
	}
	if err = os.MkdirAll(filepath.Dir(fp), 0o755); err != nil {
		return core.BlobObject{}, errors.Wrap(err, "creating blob directory")
	}

	tmp, err := os.CreateTemp(filepath.Dir(fp), ".upload-*")
	if err != nil {
		return core.BlobObject{}, errors.Wrap(err, "creating blob")
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	size, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return core.BlobObject{}, errors.Wrap(err, "writing blob")
	}
	if err = os.Rename(tmp.Name(), fp); err != nil {
		return core.BlobObject{}, errors.Wrap(err, "moving blob")
	}

	return core.BlobObject{Bucket: bucket, Path: p, URL: s.PublicURL(bucket, p), Size: size}, nil
}

func (s *FSStore) Open(_ context.Context, bucket, p string) (io.ReadCloser, error) {
	fp, err := s.resolve(bucket, p)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(fp)
	if os.IsNotExist(err) {
		return nil, core.ErrNotFound
	}
	return f, errors.Wrap(err, "opening blob")
}

// Remove deletes the given paths. Missing files are ignored.
func (s *FSStore) Remove(_ context.Context, bucket string, paths ...string) error {
	for _, p := range paths {
		fp, err := s.resolve(bucket, p)
		if err != nil {
			return err
		}
		if err = os.Remove(fp); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, "removing blob")
		}
	}
	return nil
}

func (s *FSStore) PublicURL(bucket, p string) string {
	return s.publicBaseURL + "/" + bucket + path.Clean("/"+p)
}
