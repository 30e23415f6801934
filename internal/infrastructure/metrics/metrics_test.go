package metrics

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/fleetsync-core/internal/infrastructure/config"
)

func TestObserveSync(t *testing.T) {
	m := New()
	m.ObserveSync(SyncResult{Manufacturer: "acme", Created: 2, Updated: 5, Healthy: true, Duration: time.Second})
	m.ObserveSync(SyncResult{Manufacturer: "acme", Created: 1, Errored: 1, Aborted: true})

	assert.InDelta(t, 3, testutil.ToFloat64(m.syncDevices.WithLabelValues("acme", OutcomeCreated)), 0)
	assert.InDelta(t, 5, testutil.ToFloat64(m.syncDevices.WithLabelValues("acme", OutcomeUpdated)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.syncAborted.WithLabelValues("acme")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.vendorUp.WithLabelValues("acme")), 0)
}

func TestObserveJob(t *testing.T) {
	m := New()
	m.ObserveJob(JobSnapshot{Manufacturer: "acme", Status: "running", Total: 10, Processed: 4})
	m.ObserveJob(JobSnapshot{Manufacturer: "acme", Status: "success", Terminal: true, Total: 10, Processed: 10, Submitted: 3})

	assert.InDelta(t, 10, testutil.ToFloat64(m.jobItems.WithLabelValues("acme", "processed")), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(m.jobItems.WithLabelValues("acme", "submitted")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.jobsFinished.WithLabelValues("acme", "success")), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.jobsFinished))
}

func TestServe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := New()
	m.ObserveSync(SyncResult{Manufacturer: "acme", Created: 1, Healthy: true})

	srv, err := Serve(ctx, config.MetricsConfig{Enabled: true, Listen: "127.0.0.1:0", Path: "/metrics"}, m)
	require.NoError(t, err)

	resp, err := http.Get("http://" + srv.Addr().String() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `fleetsync_sync_devices_total{manufacturer="acme",outcome="created"} 1`)
	assert.Contains(t, string(body), `fleetsync_vendor_up{manufacturer="acme"} 1`)

	require.NoError(t, srv.Close())
}

func TestServe_Disabled(t *testing.T) {
	_, err := Serve(context.Background(), config.MetricsConfig{}, New())
	assert.ErrorIs(t, err, ErrDisabled)
}
