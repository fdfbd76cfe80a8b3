package gcs

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	buf       bytes.Buffer
	writeErr  error
	closeErr  error
	closed    bool
	path      string
	mediaType string
}

func (w *fakeWriter) Write(p []byte) (int, error) {
	if w.writeErr != nil {
		return 0, w.writeErr
	}
	return w.buf.Write(p)
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return w.closeErr
}

func newTestStore(bucket, publicBase string, w *fakeWriter) *BlobStore {
	return &BlobStore{
		bucket:        bucket,
		publicBaseURL: strings.TrimRight(publicBase, "/"),
		newWriter: func(_ context.Context, path, contentType, _ string) objectWriter {
			w.path = path
			w.mediaType = contentType
			return w
		},
	}
}

func TestPutObjectReturnsGSURI(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	store := newTestStore("shots", "", w)
	uri, err := store.PutObject(context.Background(), "screenshots/2024/01/02/u1_abcd1234.jpg", "image/jpeg", strings.NewReader("jpeg"))
	require.NoError(t, err)
	require.Equal(t, "gs://shots/screenshots/2024/01/02/u1_abcd1234.jpg", uri)
	require.Equal(t, "jpeg", w.buf.String())
	require.Equal(t, "image/jpeg", w.mediaType)
	require.True(t, w.closed)
}

func TestPutObjectReturnsPublicURL(t *testing.T) {
	t.Parallel()

	store := newTestStore("shots", "https://cdn.example.com/", &fakeWriter{})
	uri, err := store.PutObject(context.Background(), "screenshots/a.jpg", "image/jpeg", strings.NewReader("x"))
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example.com/screenshots/a.jpg", uri)
}

func TestPutObjectErrors(t *testing.T) {
	t.Parallel()

	store := newTestStore("shots", "", &fakeWriter{})
	_, err := store.PutObject(context.Background(), "  ", "", strings.NewReader("x"))
	require.Error(t, err)

	failing := newTestStore("shots", "", &fakeWriter{writeErr: errors.New("disk full")})
	_, err = failing.PutObject(context.Background(), "a.jpg", "", strings.NewReader("x"))
	require.ErrorContains(t, err, "copy object")

	closing := newTestStore("shots", "", &fakeWriter{closeErr: errors.New("precondition")})
	_, err = closing.PutObject(context.Background(), "a.jpg", "", strings.NewReader("x"))
	require.ErrorContains(t, err, "close writer")
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)
}
