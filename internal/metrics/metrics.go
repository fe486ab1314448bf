// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hitoshi/boardcast/internal/model"
)

// MetricsCollector はメトリクス収集のインターフェース。
// クロールワーカーと配信処理から利用する。
type MetricsCollector interface {
	RecordFetchSuccess(boardID string)
	RecordFetchFailure(boardID string, reason string)
	RecordParseFailure(boardID string)
	RecordHTTPStatus(statusCode int)
	RecordFetchLatency(duration time.Duration)
	RecordNewPosts(boardID string, count int)
	RecordSendOutcome(failure model.FailureClass)
	RecordDevicesPruned(count int)
	RecordRunDuration(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	fetchSuccess  *prometheus.CounterVec
	fetchFail     *prometheus.CounterVec
	parseFail     *prometheus.CounterVec
	httpStatus    *prometheus.CounterVec
	fetchLatency  prometheus.Histogram
	newPosts      *prometheus.CounterVec
	sends         *prometheus.CounterVec
	devicesPruned prometheus.Counter
	runDuration   prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		fetchSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "boardcast_fetch_success_total",
			Help: "掲示板フィード取得成功の合計数",
		}, []string{"board_id"}),
		fetchFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "boardcast_fetch_fail_total",
			Help: "掲示板フィード取得失敗の合計数",
		}, []string{"board_id", "reason"}),
		parseFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "boardcast_parse_fail_total",
			Help: "掲示板フィードのパース失敗の合計数",
		}, []string{"board_id"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "boardcast_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "boardcast_fetch_latency_seconds",
			Help:    "掲示板フィード取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		newPosts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "boardcast_new_posts_total",
			Help: "新規に保存された記事の合計数",
		}, []string{"board_id"}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "boardcast_sends_total",
			Help: "端末ごとのプッシュ送信結果の合計数",
		}, []string{"outcome"}),
		devicesPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boardcast_devices_pruned_total",
			Help: "無効トークンにより削除された端末の合計数",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "boardcast_run_duration_seconds",
			Help:    "1回のクロール実行にかかった時間（秒）",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
		}),
	}

	reg.MustRegister(
		c.fetchSuccess,
		c.fetchFail,
		c.parseFail,
		c.httpStatus,
		c.fetchLatency,
		c.newPosts,
		c.sends,
		c.devicesPruned,
		c.runDuration,
	)

	return c
}

// RecordFetchSuccess はフェッチ成功を記録する。
func (c *Collector) RecordFetchSuccess(boardID string) {
	c.fetchSuccess.WithLabelValues(boardID).Inc()
}

// RecordFetchFailure はフェッチ失敗を記録する。
func (c *Collector) RecordFetchFailure(boardID string, reason string) {
	c.fetchFail.WithLabelValues(boardID, reason).Inc()
}

// RecordParseFailure はパース失敗を記録する。
func (c *Collector) RecordParseFailure(boardID string) {
	c.parseFail.WithLabelValues(boardID).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordFetchLatency はフェッチのレイテンシを記録する。
func (c *Collector) RecordFetchLatency(duration time.Duration) {
	c.fetchLatency.Observe(duration.Seconds())
}

// RecordNewPosts は新規保存された記事数を記録する。
func (c *Collector) RecordNewPosts(boardID string, count int) {
	c.newPosts.WithLabelValues(boardID).Add(float64(count))
}

// RecordSendOutcome は端末1台分の送信結果を記録する。
// 成功はoutcome="success"、失敗は失敗分類をラベルにする。
func (c *Collector) RecordSendOutcome(failure model.FailureClass) {
	c.sends.WithLabelValues(outcomeLabel(failure)).Inc()
}

// RecordDevicesPruned は削除された端末数を記録する。
func (c *Collector) RecordDevicesPruned(count int) {
	c.devicesPruned.Add(float64(count))
}

// RecordRunDuration はクロール1回分の所要時間を記録する。
func (c *Collector) RecordRunDuration(duration time.Duration) {
	c.runDuration.Observe(duration.Seconds())
}

func outcomeLabel(failure model.FailureClass) string {
	if failure == model.FailureNone {
		return "success"
	}
	return string(failure)
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// NopCollector は何も記録しないMetricsCollector。メトリクスを使わない実行モードとテストで使う。
type NopCollector struct{}

func (NopCollector) RecordFetchSuccess(string) {}
func (NopCollector) RecordFetchFailure(string, string) {}
func (NopCollector) RecordParseFailure(string) {}
func (NopCollector) RecordHTTPStatus(int) {}
func (NopCollector) RecordFetchLatency(time.Duration) {}
func (NopCollector) RecordNewPosts(string, int) {}
func (NopCollector) RecordSendOutcome(model.FailureClass) {}
func (NopCollector) RecordDevicesPruned(int) {}
func (NopCollector) RecordRunDuration(time.Duration) {}
