package blobsvc

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ampayon/gradebook/core"
)

func newStore(t *testing.T) *FSStore {
	conf := &core.Config{Storage: core.StorageConfig{Root: t.TempDir(), PublicBaseURL: "http://files.test"}}
	store, err := NewFSStore(conf)
	require.NoError(t, err)
	return store
}

func TestFSStore(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	obj, err := store.Put(ctx, core.BucketDocuments, "s1/y1/SF9_1.pdf", strings.NewReader("%PDF-1.4"), "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, int64(8), obj.Size)
	assert.Equal(t, "http://files.test/documents/s1/y1/SF9_1.pdf", obj.URL)

	rc, err := store.Open(ctx, core.BucketDocuments, "s1/y1/SF9_1.pdf")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	_ = rc.Close()
	assert.Equal(t, "%PDF-1.4", string(data))

	require.NoError(t, store.Remove(ctx, core.BucketDocuments, "s1/y1/SF9_1.pdf", "missing.pdf"))
	_, err = store.Open(ctx, core.BucketDocuments, "s1/y1/SF9_1.pdf")
	assert.Equal(t, core.ErrNotFound, err)
}

func TestFSStoreStaysInBucket(t *testing.T) {
	store := newStore(t)

	tests := []struct {
		name   string
		bucket string
		path   string
		valid  bool
	}{
		{"nested path", "documents", "a/b/c.pdf", true},
		{"dot dot is cleaned", "documents", "../../etc/passwd", true},
		{"empty path", "documents", "", false},
		{"empty bucket", "", "a.pdf", false},
		{"bucket with slash", "documents/..", "a.pdf", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fp, err := store.resolve(tc.bucket, tc.path)
			if !tc.valid {
				assert.Equal(t, ErrInvalidPath, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(fp, store.Root()), "%s escapes the root", fp)
		})
	}
}
