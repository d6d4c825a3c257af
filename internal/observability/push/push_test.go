package push

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/prometheus/prompb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	reg := prometheus.NewRegistry()
	files := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "corehours_ingest_files_total",
		Help: "files",
	}, []string{"outcome", "mode"})
	files.WithLabelValues("success", "new").Add(3)
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "corehours_ingest_file_seconds", Help: "d"})
	duration.Observe(1)
	reg.MustRegister(files, duration)
	return reg
}

func TestRemoteWritePush(t *testing.T) {
	var got prompb.WriteRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "snappy", r.Header.Get("Content-Encoding"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		raw, err := snappy.Decode(nil, body)
		require.NoError(t, err)
		require.NoError(t, got.Unmarshal(raw))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := NewRemoteWrite(srv.URL, "tok")
	p.now = func() time.Time { return time.UnixMilli(1000) }
	require.NoError(t, p.Push(context.Background(), testRegistry(t)))

	require.Len(t, got.Timeseries, 1, "histograms are not sent")
	ts := got.Timeseries[0]
	labels := map[string]string{}
	var names []string
	for _, l := range ts.Labels {
		labels[l.Name] = l.Value
		names = append(names, l.Name)
	}
	assert.Equal(t, []string{"__name__", "mode", "outcome"}, names)
	assert.Equal(t, "corehours_ingest_files_total", labels["__name__"])
	assert.Equal(t, "success", labels["outcome"])
	require.Len(t, ts.Samples, 1)
	assert.Equal(t, 3.0, ts.Samples[0].Value)
	assert.Equal(t, int64(1000), ts.Samples[0].Timestamp)
}

func TestRemoteWriteRejectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewRemoteWrite(srv.URL, "").Push(context.Background(), testRegistry(t))
	assert.ErrorContains(t, err, "400")
}

func TestPushgatewayPush(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewPushgateway(srv.URL, "corehours", map[string]string{"environment": "test", "": "skipped"})
	require.NoError(t, p.Push(context.Background(), testRegistry(t)))
	assert.Equal(t, "/metrics/job/corehours/environment/test", path)
}

func TestNew(t *testing.T) {
	log := zaptest.NewLogger(t)

	assert.Nil(t, New(Config{}, log))
	assert.Nil(t, New(Config{Exporter: ExporterRemoteWrite}, log))
	assert.Nil(t, New(Config{Exporter: ExporterRemoteWrite, Endpoint: "not a url"}, log))
	assert.Nil(t, New(Config{Exporter: "statsd", Endpoint: "http://x"}, log))
	assert.IsType(t, &RemoteWrite{}, New(Config{Exporter: ExporterRemoteWrite, Endpoint: "http://x/api/v1/write"}, log))
	assert.IsType(t, &Pushgateway{}, New(Config{Exporter: ExporterPushgateway, Endpoint: "http://x", Job: "corehours"}, log))
}
