package metrics_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kashuab/leasekeeper/internal/metrics"
)

func TestObserve(t *testing.T) {
	m := metrics.New()

	m.Observe("acquire", metrics.ResultOK, time.Millisecond)
	m.Observe("acquire", metrics.ResultOK, time.Millisecond)
	m.Observe("renew", metrics.ResultFailed, time.Millisecond)
	m.Steal()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Operations.WithLabelValues("acquire", metrics.ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("renew", metrics.ResultFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Steals))
}

func TestNilMetrics(t *testing.T) {
	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.Observe("acquire", metrics.ResultOK, time.Second)
		m.Steal()
	})
}

func TestWriteText(t *testing.T) {
	m := metrics.New()
	m.Observe("release", metrics.ResultNotFound, time.Millisecond)

	var buf bytes.Buffer
	require.NoError(t, m.WriteText(&buf))
	assert.Contains(t, buf.String(), `leasekeeper_operations_total{operation="release",result="not_found"} 1`)
}
