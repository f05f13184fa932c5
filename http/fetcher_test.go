package http_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cdnhttp "github.com/meigma/patchcdn/http"
)

func TestFetchStreamsWithProgress(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte("0123456789"), 20_000)
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		assert.Equal(t, "identity", r.Header.Get("Accept-Encoding"))
		assert.Equal(t, "patchcdn-test", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		_, _ = w.Write(data)
	}))
	t.Cleanup(server.Close)

	var (
		mu    sync.Mutex
		calls [][2]int64
	)
	f := cdnhttp.NewFetcher(cdnhttp.WithUserAgent("patchcdn-test"))
	got, err := f.Fetch(context.Background(), server.URL, func(received, total int64) {
		mu.Lock()
		calls = append(calls, [2]int64{received, total})
		mu.Unlock()
	})
	require.NoError(t, err)
	assert.Equal(t, data, got)

	require.GreaterOrEqual(t, len(calls), 2)
	assert.Equal(t, [2]int64{0, int64(len(data))}, calls[0])
	assert.Equal(t, [2]int64{int64(len(data)), int64(len(data))}, calls[len(calls)-1])
	for i := 1; i < len(calls); i++ {
		assert.GreaterOrEqual(t, calls[i][0], calls[i-1][0], "progress must not go backwards")
	}
}

func TestFetchUnknownLength(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte("x"), 300_000)
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		fl := w.(nethttp.Flusher)
		for chunk := range slices.Chunk(data, 50_000) {
			_, _ = w.Write(chunk)
			fl.Flush()
		}
	}))
	t.Cleanup(server.Close)

	var lastTotal int64 = -1
	got, err := cdnhttp.NewFetcher().Fetch(context.Background(), server.URL, func(_, total int64) {
		lastTotal = total
	})
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Zero(t, lastTotal)
}

func TestFetchStatusError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		nethttp.Error(w, "nope", nethttp.StatusNotFound)
	}))
	t.Cleanup(server.Close)

	_, err := cdnhttp.NewFetcher().Fetch(context.Background(), server.URL+"/x", nil)
	var statusErr *cdnhttp.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, nethttp.StatusNotFound, statusErr.StatusCode)
	assert.Equal(t, server.URL+"/x", statusErr.URL)
}

func TestFetchMaxSize(t *testing.T) {
	t.Parallel()

	data := make([]byte, 1000)
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.URL.Query().Get("chunked") == "" {
			w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		}
		_, _ = w.Write(data)
	}))
	t.Cleanup(server.Close)

	f := cdnhttp.NewFetcher(cdnhttp.WithMaxSize(100))
	_, err := f.Fetch(context.Background(), server.URL, nil)
	require.ErrorIs(t, err, cdnhttp.ErrTooLarge)
	_, err = f.Fetch(context.Background(), server.URL+"?chunked=1", nil)
	require.ErrorIs(t, err, cdnhttp.ErrTooLarge)
}

func TestFetchTruncatedBody(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		w.Header().Set("Content-Length", "100")
		_, _ = w.Write([]byte("short"))
	}))
	t.Cleanup(server.Close)

	_, err := cdnhttp.NewFetcher().Fetch(context.Background(), server.URL, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF), "err = %v", err)
}

func TestFetchCanceled(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Length", "10")
		_, _ = w.Write([]byte("a"))
		w.(nethttp.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		server.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := cdnhttp.NewFetcher().Fetch(ctx, server.URL, nil)
	require.Error(t, err)
	require.ErrorIs(t, ctx.Err(), context.DeadlineExceeded)
}
