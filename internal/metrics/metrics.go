// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ログイン試行の結果ラベル。
const (
	LoginResultSuccess   = "success"
	LoginResultFailure   = "failure"
	LoginResultThrottled = "throttled"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ミドルウェア、サービス層、ワーカーから利用する。
type MetricsCollector interface {
	RecordHTTPRequest(method string, statusCode int, duration time.Duration)
	RecordLoginAttempt(result string)
	RecordSessionIssued()
	RecordSessionExpired()
	RecordSessionsSwept(count int64)
	RecordEventPublished(eventType string, ok bool)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	httpRequests    *prometheus.CounterVec
	httpDuration    prometheus.Histogram
	loginAttempts   *prometheus.CounterVec
	sessionsIssued  prometheus.Counter
	sessionsExpired prometheus.Counter
	sessionsSwept   prometheus.Counter
	eventsPublished *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "postdeck_http_requests_total",
			Help: "HTTPメソッドとステータスコード別のリクエスト数",
		}, []string{"method", "status"}),
		httpDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "postdeck_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "postdeck_login_attempts_total",
			Help: "結果別のログイン試行数",
		}, []string{"result"}),
		sessionsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "postdeck_sessions_issued_total",
			Help: "発行されたセッションの合計数",
		}),
		sessionsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "postdeck_sessions_expired_total",
			Help: "アクセス時に期限切れと判定されたセッションの合計数",
		}),
		sessionsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "postdeck_sessions_swept_total",
			Help: "定期掃除で削除されたセッションの合計数",
		}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "postdeck_events_published_total",
			Help: "イベント種別と結果別の発行数",
		}, []string{"type", "result"}),
	}

	reg.MustRegister(
		c.httpRequests,
		c.httpDuration,
		c.loginAttempts,
		c.sessionsIssued,
		c.sessionsExpired,
		c.sessionsSwept,
		c.eventsPublished,
	)

	return c
}

// RecordHTTPRequest はHTTPリクエストの件数と処理時間を記録する。
func (c *Collector) RecordHTTPRequest(method string, statusCode int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, strconv.Itoa(statusCode)).Inc()
	c.httpDuration.Observe(duration.Seconds())
}

// RecordLoginAttempt はログイン試行を結果別に記録する。
func (c *Collector) RecordLoginAttempt(result string) {
	c.loginAttempts.WithLabelValues(result).Inc()
}

// RecordSessionIssued はセッション発行を記録する。
func (c *Collector) RecordSessionIssued() {
	c.sessionsIssued.Inc()
}

// RecordSessionExpired は期限切れセッションの検出を記録する。
func (c *Collector) RecordSessionExpired() {
	c.sessionsExpired.Inc()
}

// RecordSessionsSwept は定期掃除で削除したセッション数を記録する。
func (c *Collector) RecordSessionsSwept(count int64) {
	c.sessionsSwept.Add(float64(count))
}

// RecordEventPublished はドメインイベントの発行結果を記録する。
func (c *Collector) RecordEventPublished(eventType string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	c.eventsPublished.WithLabelValues(eventType, result).Inc()
}

// Noop は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type Noop struct{}

func (Noop) RecordHTTPRequest(string, int, time.Duration) {}
func (Noop) RecordLoginAttempt(string)                    {}
func (Noop) RecordSessionIssued()                         {}
func (Noop) RecordSessionExpired()                        {}
func (Noop) RecordSessionsSwept(int64)                    {}
func (Noop) RecordEventPublished(string, bool)            {}

// compile-time interface checks
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Noop{}
)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// workerプロセスのように専用ポートでメトリクスを公開する場合に使う。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
