package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeS3 serves the path-style subset of the S3 API the store uses.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := strings.TrimPrefix(r.URL.Path, "/bucket/")
	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[key] = body
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodHead:
		if _, ok := f.objects[key]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		body, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`))
			return
		}
		_, _ = w.Write(body)
	case http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestS3Store(t *testing.T) (*S3Store, *fakeS3) {
	t.Helper()
	fake := &fakeS3{objects: map[string][]byte{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	store, err := NewS3Store(context.Background(), S3ClientConfig{
		Endpoint:        srv.URL,
		Region:          "us-east-1",
		Bucket:          "bucket",
		AccessKeyID:     "test",
		SecretAccessKey: "test",
	})
	require.NoError(t, err)
	return store, fake
}

func TestS3StoreRoundTrip(t *testing.T) {
	store, fake := newTestS3Store(t)
	ctx := context.Background()

	stored, err := store.Save(ctx, "olx_import/course.tar.gz", strings.NewReader("archive"))
	require.NoError(t, err)
	require.Equal(t, "olx_import/course.tar.gz", stored)
	require.Equal(t, []byte("archive"), fake.objects[stored])

	exists, err := store.Exists(ctx, stored)
	require.NoError(t, err)
	require.True(t, exists)

	rc, err := store.Open(ctx, stored)
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, "archive", string(body))

	require.NoError(t, store.Delete(ctx, stored))
	exists, err = store.Exists(ctx, stored)
	require.NoError(t, err)
	require.False(t, exists)
}

func TestS3StoreSaveAvoidsOverwrite(t *testing.T) {
	store, fake := newTestS3Store(t)
	ctx := context.Background()

	_, err := store.Save(ctx, "olx_import/course.tar.gz", strings.NewReader("one"))
	require.NoError(t, err)
	second, err := store.Save(ctx, "olx_import/course.tar.gz", strings.NewReader("two"))
	require.NoError(t, err)

	require.NotEqual(t, "olx_import/course.tar.gz", second)
	require.Equal(t, []byte("one"), fake.objects["olx_import/course.tar.gz"])
	require.Equal(t, []byte("two"), fake.objects[second])
}

func TestS3StoreRequiresBucket(t *testing.T) {
	_, err := NewS3Store(context.Background(), S3ClientConfig{})
	require.Error(t, err)
}
