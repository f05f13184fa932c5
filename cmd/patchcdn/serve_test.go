package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/patchcdn"
	"github.com/meigma/patchcdn/bundle"
	"github.com/meigma/patchcdn/internal/testutil"
	"github.com/meigma/patchcdn/metrics"
)

func newTestAPI(t *testing.T) (*httptest.Server, *testutil.CDN) {
	t.Helper()

	cdn := testutil.NewCDN(t)
	for _, v := range []string{"1.0", "2.0"} {
		cdn.AddPatch(v, testutil.BuildPatch(t, bundle.EncodingZstd, map[string][]testutil.TestFile{
			"Data": {
				{Path: "Data/Mods.dat64", Data: []byte("mods " + v)},
				{Path: "Data/Stats.dat64", Data: []byte("stats " + v)},
			},
			"Art": {{Path: "Art/icon.dds", Data: []byte("icon")}},
		}))
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	loader, err := patchcdn.NewBundleLoader(cdn.URL(), patchcdn.WithMetrics(m))
	require.NoError(t, err)
	require.NoError(t, loader.SetPatch(context.Background(), "1.0"))

	s := &apiServer{
		loader: loader,
		index:  patchcdn.NewIndex(loader, patchcdn.WithIndexMetrics(m)),
		logger: slog.New(slog.DiscardHandler),
	}
	srv := httptest.NewServer(s.routes(reg))
	t.Cleanup(srv.Close)
	return srv, cdn
}

func get(t *testing.T, url string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func post(t *testing.T, url string) (int, []byte) {
	t.Helper()
	resp, err := http.Post(url, "", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func TestServeBeforeIndexLoad(t *testing.T) {
	t.Parallel()

	srv, _ := newTestAPI(t)
	status, _ := get(t, srv.URL+"/dirs/")
	assert.Equal(t, http.StatusServiceUnavailable, status)
}

func TestServePatchAndBrowse(t *testing.T) {
	t.Parallel()

	srv, cdn := newTestAPI(t)

	status, body := post(t, srv.URL+"/patch/2.0")
	require.Equal(t, http.StatusOK, status, string(body))
	var pr patchResponse
	require.NoError(t, json.Unmarshal(body, &pr))
	assert.Equal(t, patchResponse{Patch: "2.0", Files: 3}, pr)

	status, body = get(t, srv.URL+"/dirs/")
	require.Equal(t, http.StatusOK, status)
	var root dirResponse
	require.NoError(t, json.Unmarshal(body, &root))
	assert.Equal(t, []string{"Art", "Data"}, root.Dirs)

	status, body = get(t, srv.URL+"/dirs/data")
	require.Equal(t, http.StatusOK, status)
	var data dirResponse
	require.NoError(t, json.Unmarshal(body, &data))
	assert.Equal(t, []string{"Data/Mods.dat64", "Data/Stats.dat64"}, data.Files)

	status, body = get(t, srv.URL+"/files/Data/Stats.dat64")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "stats 2.0", string(body))

	status, _ = get(t, srv.URL+"/files/Data/Missing.dat64")
	assert.Equal(t, http.StatusNotFound, status)

	status, body = get(t, srv.URL+"/progress")
	require.Equal(t, http.StatusOK, status)
	var prog progressResponse
	require.NoError(t, json.Unmarshal(body, &prog))
	assert.Equal(t, "2.0", prog.Patch)
	assert.False(t, prog.IsDownloading)

	assert.Zero(t, cdn.Requests("/1.0/Bundles2/_.index.bin"))
}

func TestServeBadPatch(t *testing.T) {
	t.Parallel()

	srv, _ := newTestAPI(t)
	status, _ := post(t, srv.URL+"/patch/9.9")
	assert.Equal(t, http.StatusBadGateway, status)
}

func TestServeFailedSwitchKeepsPreviousPatch(t *testing.T) {
	t.Parallel()

	srv, _ := newTestAPI(t)
	status, body := post(t, srv.URL+"/patch/1.0")
	require.Equal(t, http.StatusOK, status, string(body))

	status, _ = post(t, srv.URL+"/patch/9.9")
	require.Equal(t, http.StatusBadGateway, status)

	status, body = get(t, srv.URL+"/files/Data/Stats.dat64")
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, "stats 1.0", string(body))

	status, body = get(t, srv.URL+"/progress")
	require.Equal(t, http.StatusOK, status)
	var prog progressResponse
	require.NoError(t, json.Unmarshal(body, &prog))
	assert.Equal(t, "1.0", prog.Patch)
}

func TestServeMetrics(t *testing.T) {
	t.Parallel()

	srv, _ := newTestAPI(t)
	status, _ := post(t, srv.URL+"/patch/1.0")
	require.Equal(t, http.StatusOK, status)

	status, body := get(t, srv.URL+"/metrics")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "patchcdn_bundles_served_total")
	assert.Contains(t, string(body), "patchcdn_index_files 3")
}
