package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petportrait/backend/internal/metrics"
)

type fakeResultStore struct {
	url      string
	err      error
	calls    int
	lastData []byte
}

func (f *fakeResultStore) StoreGenerated(_ context.Context, data []byte, _ string) (string, error) {
	f.calls++
	f.lastData = data
	if f.err != nil {
		return "", f.err
	}
	return f.url, nil
}

func newTestMaterializer(store *fakeResultStore) *Materializer {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewMaterializer(store, log, metrics.Registry("test"))
}

func TestMaterializerStoresResult(t *testing.T) {
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png-bytes"))
	}))
	defer remote.Close()

	store := &fakeResultStore{url: "https://cdn.example.com/generated/gen-job-1.png"}
	m := newTestMaterializer(store)

	got := m.Materialize(context.Background(), remote.URL, "job-1")
	assert.Equal(t, "https://cdn.example.com/generated/gen-job-1.png", got)
	require.Equal(t, 1, store.calls)
	assert.Equal(t, []byte("png-bytes"), store.lastData)
}

func TestMaterializerFallsBackOnFetchError(t *testing.T) {
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer remote.Close()

	store := &fakeResultStore{url: "https://cdn.example.com/generated/gen-job-1.png"}
	m := newTestMaterializer(store)

	got := m.Materialize(context.Background(), remote.URL, "job-1")
	assert.Equal(t, remote.URL, got)
	assert.Zero(t, store.calls)
}

func TestMaterializerFallsBackOnEmptyBody(t *testing.T) {
	remote := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {}))
	defer remote.Close()

	store := &fakeResultStore{url: "https://cdn.example.com/generated/gen-job-1.png"}
	m := newTestMaterializer(store)

	got := m.Materialize(context.Background(), remote.URL, "job-1")
	assert.Equal(t, remote.URL, got)
	assert.Zero(t, store.calls)
}

func TestMaterializerFallsBackOnStoreError(t *testing.T) {
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("png-bytes"))
	}))
	defer remote.Close()

	store := &fakeResultStore{err: errors.New("s3 upload failed")}
	m := newTestMaterializer(store)

	got := m.Materialize(context.Background(), remote.URL, "job-1")
	assert.Equal(t, remote.URL, got)
	assert.Equal(t, 1, store.calls)
}
