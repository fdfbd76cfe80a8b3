package scrapeapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler func(w http.ResponseWriter, body requestBody)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body requestBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		handler(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchHTML(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, func(w http.ResponseWriter, body requestBody) {
		require.Equal(t, requestBody{Zone: "web", URL: "https://shop.example.com/p", Format: "raw", Country: "br"}, body)
		_, _ = w.Write([]byte("<html>ok</html>"))
	})
	c, err := New(Config{Endpoint: srv.URL, APIKey: "secret", Zone: "web", Country: "br"})
	require.NoError(t, err)

	html, err := c.FetchHTML(context.Background(), "https://shop.example.com/p")
	require.NoError(t, err)
	require.Equal(t, "<html>ok</html>", html)
}

func TestCapture(t *testing.T) {
	t.Parallel()

	png := []byte("\x89PNG\r\n\x1a\n" + strings.Repeat("x", 64))
	srv := newTestServer(t, func(w http.ResponseWriter, body requestBody) {
		require.Equal(t, "screenshot", body.DataFormat)
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(png)
	})
	c, err := New(Config{Endpoint: srv.URL, APIKey: "secret", Zone: "web"})
	require.NoError(t, err)

	shot, err := c.Capture(context.Background(), "https://shop.example.com/p")
	require.NoError(t, err)
	require.Equal(t, png, shot.Data)
	require.Equal(t, "image/png", shot.ContentType)
}

func TestStatusError(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, func(w http.ResponseWriter, _ requestBody) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(strings.Repeat("e", 2000)))
	})
	c, err := New(Config{Endpoint: srv.URL, APIKey: "secret", Zone: "web"})
	require.NoError(t, err)

	_, err = c.FetchHTML(context.Background(), "https://shop.example.com/p")
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusBadGateway, statusErr.Code)
	require.Len(t, statusErr.Body, maxErrorBody)
}

func TestResponseBodyCap(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		size    int
		wantErr error
	}{
		{name: "at cap", size: 128},
		{name: "over cap", size: 129, wantErr: ErrBodyTooLarge},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := newTestServer(t, func(w http.ResponseWriter, _ requestBody) {
				_, _ = w.Write([]byte(strings.Repeat("a", tt.size)))
			})
			c, err := New(Config{Endpoint: srv.URL, APIKey: "secret", Zone: "web", MaxBodyBytes: 128})
			require.NoError(t, err)

			html, err := c.FetchHTML(context.Background(), "https://shop.example.com/p")
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Len(t, html, tt.size)
		})
	}
}

func TestContextDeadline(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c, err := New(Config{Endpoint: srv.URL, APIKey: "secret", Zone: "web"})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.FetchHTML(ctx, "https://shop.example.com/p")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Zone: "web"})
	require.ErrorContains(t, err, "api key")
	_, err = New(Config{APIKey: "k"})
	require.ErrorContains(t, err, "zone")

	c, err := New(Config{APIKey: "k", Zone: "z"})
	require.NoError(t, err)
	require.Equal(t, DefaultEndpoint, c.endpoint)
}
