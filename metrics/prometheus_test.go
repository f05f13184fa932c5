package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := New(reg)

	m.BundleServed("memory", 10)
	m.BundleServed("memory", 5)
	m.BundleServed("network", 100)
	m.FetchFailed()
	m.Downloaded(100, 250*time.Millisecond)
	m.PatchChanged("3.25.1")
	m.PatchChanged("3.25.2")
	m.IndexLoaded(1200, 80, time.Second)

	assert.InDelta(t, 2, testutil.ToFloat64(m.BundlesServed.WithLabelValues("memory")), 0)
	assert.InDelta(t, 15, testutil.ToFloat64(m.BytesServed.WithLabelValues("memory")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.BundlesServed.WithLabelValues("network")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.FetchFailures), 0)
	assert.InDelta(t, 100, testutil.ToFloat64(m.DownloadedBytes), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.PatchChanges), 0)
	assert.InDelta(t, 1200, testutil.ToFloat64(m.IndexFiles), 0)
	assert.InDelta(t, 80, testutil.ToFloat64(m.IndexDirs), 0)

	// Only the current version is exported.
	assert.Equal(t, 1, testutil.CollectAndCount(m.PatchInfo))
	expected := `
# HELP patchcdn_patch_info Current patch version, as a label on a constant 1.
# TYPE patchcdn_patch_info gauge
patchcdn_patch_info{version="3.25.2"} 1
`
	require.NoError(t, testutil.CollectAndCompare(m.PatchInfo, strings.NewReader(expected)))
}

func TestNewPanicsOnDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
