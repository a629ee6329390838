// ============================================================================
// Line Planner Metrics - Prometheus 監控指標
// ============================================================================
//
// Package: internal/metrics
// 文件: metrics.go
// 功能: 收集和暴露排程服務運行指標，支持 Prometheus 監控
//
// 指標分類:
//
//   1. 計數器 (Counter) - 累計值，只增不減：
//      - planner_mutations_total{type,result}: 變更操作次數（依類型與結果）
//      - planner_assignments_replaced_total: 排班時取代原有員工的次數
//      - planner_orders_created_total: 建立的訂單數
//      - planner_orders_completed_total: 完成的訂單數
//      - planner_progress_records_total: 進度紀錄次數
//
//   2. 性能指標 (Histogram)：
//      - planner_projection_latency_seconds: 單筆完工推估耗時
//
//   3. 狀態指標 (Gauge) - 瞬時值：
//      - planner_open_orders: 未完成訂單數
//      - planner_unknown_projections: 目前人力無法完工的訂單數
//      - planner_capacity_units{model}: 最近一次查詢的每日產量
//      - planner_recovery_time_seconds: 最近一次啟動恢復時間
//
// Prometheus 查詢示例:
//
//   # 被拒絕的變更比例
//   sum(rate(planner_mutations_total{result!="ok"}[5m])) / sum(rate(planner_mutations_total[5m]))
//
//   # 95 分位推估延遲
//   histogram_quantile(0.95, planner_projection_latency_seconds_bucket)
//
// HTTP 端點:
//   通過 /metrics 端點暴露，由 Prometheus 定期抓取
//
// ============================================================================

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ResultOK 成功變更的 result 標籤值；失敗時使用錯誤分類名稱
const ResultOK = "ok"

// Collector Prometheus 指標收集器
type Collector struct {
	// 變更相關指標
	mutations           *prometheus.CounterVec
	assignmentsReplaced prometheus.Counter
	ordersCreated       prometheus.Counter
	ordersCompleted     prometheus.Counter
	progressRecords     prometheus.Counter

	// 效能指標
	projectionLatency prometheus.Histogram
	recoveryTime      prometheus.Gauge

	// 狀態指標
	openOrders         prometheus.Gauge
	unknownProjections prometheus.Gauge
	capacityUnits      *prometheus.GaugeVec
}

// NewCollector 創建新的指標收集器並註冊到 prometheus.DefaultRegisterer
func NewCollector() *Collector {
	c := &Collector{
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "planner_mutations_total",
			Help: "Total number of mutations by type and result",
		}, []string{"type", "result"}),
		assignmentsReplaced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "planner_assignments_replaced_total",
			Help: "Total number of assignments that replaced an occupant",
		}),
		ordersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "planner_orders_created_total",
			Help: "Total number of orders created",
		}),
		ordersCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "planner_orders_completed_total",
			Help: "Total number of orders that reached their quantity",
		}),
		progressRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "planner_progress_records_total",
			Help: "Total number of daily progress records",
		}),
		projectionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "planner_projection_latency_seconds",
			Help:    "Completion date projection latency in seconds",
			Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
		}),
		recoveryTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "planner_recovery_time_seconds",
			Help: "Time taken to recover state on startup in seconds",
		}),
		openOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "planner_open_orders",
			Help: "Current number of orders not yet completed",
		}),
		unknownProjections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "planner_unknown_projections",
			Help: "Open orders that cannot complete with the current staffing",
		}),
		capacityUnits: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "planner_capacity_units",
			Help: "Achievable units per day from the last capacity query",
		}, []string{"model"}),
	}

	prometheus.MustRegister(c.mutations)
	prometheus.MustRegister(c.assignmentsReplaced)
	prometheus.MustRegister(c.ordersCreated)
	prometheus.MustRegister(c.ordersCompleted)
	prometheus.MustRegister(c.progressRecords)
	prometheus.MustRegister(c.projectionLatency)
	prometheus.MustRegister(c.recoveryTime)
	prometheus.MustRegister(c.openOrders)
	prometheus.MustRegister(c.unknownProjections)
	prometheus.MustRegister(c.capacityUnits)

	return c
}

// RecordMutation 記錄一次變更；kind 為空表示成功
func (c *Collector) RecordMutation(eventType, kind string) {
	result := kind
	if result == "" {
		result = ResultOK
	}
	c.mutations.WithLabelValues(eventType, result).Inc()
}

// RecordReplaced 記錄排班取代了原有員工
func (c *Collector) RecordReplaced() {
	c.assignmentsReplaced.Inc()
}

// RecordOrderCreated 記錄訂單建立
func (c *Collector) RecordOrderCreated() {
	c.ordersCreated.Inc()
}

// RecordProgress 記錄進度；completed 表示這筆紀錄讓訂單完成
func (c *Collector) RecordProgress(completed bool) {
	c.progressRecords.Inc()
	if completed {
		c.ordersCompleted.Inc()
	}
}

// ObserveProjection 記錄一次推估耗時
func (c *Collector) ObserveProjection(d time.Duration) {
	c.projectionLatency.Observe(d.Seconds())
}

// SetRecoveryTime 設置恢復時間
func (c *Collector) SetRecoveryTime(d time.Duration) {
	c.recoveryTime.Set(d.Seconds())
}

// UpdateOrderStats 更新訂單狀態統計
func (c *Collector) UpdateOrderStats(open, unknown int) {
	c.openOrders.Set(float64(open))
	c.unknownProjections.Set(float64(unknown))
}

// SetCapacity 記錄某型號最近一次查詢的產量
func (c *Collector) SetCapacity(model string, units float64) {
	c.capacityUnits.WithLabelValues(model).Set(units)
}

// NewServer 建立暴露 /metrics 的 HTTP 伺服器（尚未啟動）
func NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
