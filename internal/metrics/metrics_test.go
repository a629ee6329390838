package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCollector(t *testing.T) {
	// Reset Prometheus registry to avoid duplicate registration
	prometheus.DefaultRegisterer = prometheus.NewRegistry()

	collector := NewCollector()

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.mutations)
	assert.NotNil(t, collector.assignmentsReplaced)
	assert.NotNil(t, collector.ordersCreated)
	assert.NotNil(t, collector.ordersCompleted)
	assert.NotNil(t, collector.progressRecords)
	assert.NotNil(t, collector.projectionLatency)
	assert.NotNil(t, collector.recoveryTime)
	assert.NotNil(t, collector.openOrders)
	assert.NotNil(t, collector.unknownProjections)
	assert.NotNil(t, collector.capacityUnits)
}

func TestRecordMutation(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	collector.RecordMutation("ASSIGN", "")
	collector.RecordMutation("ASSIGN", "")
	collector.RecordMutation("ASSIGN", "RoleMismatch")
	collector.RecordMutation("CREATE_ORDER", "")

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.mutations.WithLabelValues("ASSIGN", ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.mutations.WithLabelValues("ASSIGN", "RoleMismatch")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.mutations.WithLabelValues("CREATE_ORDER", ResultOK)))
}

func TestRecordProgress(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	collector.RecordOrderCreated()
	collector.RecordProgress(false)
	collector.RecordProgress(false)
	collector.RecordProgress(true)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.ordersCreated))
	assert.Equal(t, 3.0, testutil.ToFloat64(collector.progressRecords))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.ordersCompleted))
}

func TestGauges(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	testCases := []struct {
		name    string
		open    int
		unknown int
	}{
		{"zero values", 0, 0},
		{"all projected", 10, 0},
		{"some unknown", 7, 3},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			collector.UpdateOrderStats(tc.open, tc.unknown)
			assert.Equal(t, float64(tc.open), testutil.ToFloat64(collector.openOrders))
			assert.Equal(t, float64(tc.unknown), testutil.ToFloat64(collector.unknownProjections))
		})
	}

	collector.SetCapacity("Unit-A", 40)
	collector.SetRecoveryTime(1500 * time.Millisecond)
	assert.Equal(t, 40.0, testutil.ToFloat64(collector.capacityUnits.WithLabelValues("Unit-A")))
	assert.Equal(t, 1.5, testutil.ToFloat64(collector.recoveryTime))
}

func TestObserveProjection(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	for _, d := range []time.Duration{50 * time.Microsecond, time.Millisecond, 20 * time.Millisecond} {
		assert.NotPanics(t, func() { collector.ObserveProjection(d) })
	}
	assert.Equal(t, 1, testutil.CollectAndCount(collector.projectionLatency))
}

func TestConcurrentMetricUpdates(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collector.RecordMutation("RECORD_PROGRESS", "")
			collector.RecordProgress(false)
			collector.ObserveProjection(time.Millisecond)
			collector.UpdateOrderStats(10, 1)
		}()
	}
	wg.Wait()

	assert.Equal(t, 100.0, testutil.ToFloat64(collector.progressRecords))
}

func TestCollectorIsolation(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()

	collector1 := NewCollector()
	require.NotNil(t, collector1)

	// 同一個 registry 只能有一個收集器
	assert.Panics(t, func() {
		NewCollector()
	}, "Creating a second collector should panic due to duplicate registration")
}

func TestServerExposesMetrics(t *testing.T) {
	srv := NewServer(":0")
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "go_goroutines")
}
