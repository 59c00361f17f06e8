// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ハンドラー層から利用する。
type MetricsCollector interface {
	RecordSignIn(method string)
	RecordSignInFailure(method string)
	RecordBooking()
	RecordCancellation()
	RecordListingCreated()
	RecordBackendStatus(statusCode int)
	RecordBackendLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	signIns        *prometheus.CounterVec
	signInFails    *prometheus.CounterVec
	bookings       prometheus.Counter
	cancellations  prometheus.Counter
	listings       prometheus.Counter
	backendStatus  *prometheus.CounterVec
	backendLatency prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		signIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rentwheels_signin_total",
			Help: "サインイン成功の合計数（方式別）",
		}, []string{"method"}),
		signInFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rentwheels_signin_fail_total",
			Help: "サインイン失敗の合計数（方式別）",
		}, []string{"method"}),
		bookings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rentwheels_booking_total",
			Help: "成立した予約の合計数",
		}),
		cancellations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rentwheels_cancellation_total",
			Help: "取り消された予約の合計数",
		}),
		listings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rentwheels_listing_created_total",
			Help: "登録された掲載の合計数",
		}),
		backendStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rentwheels_backend_status_total",
			Help: "バックエンドAPIのHTTPステータスコード別レスポンス数",
		}, []string{"status_code"}),
		backendLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rentwheels_backend_latency_seconds",
			Help:    "バックエンドAPIリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.signIns,
		c.signInFails,
		c.bookings,
		c.cancellations,
		c.listings,
		c.backendStatus,
		c.backendLatency,
	)

	return c
}

// RecordSignIn はサインイン成功を記録する。methodは"password"または"google"。
func (c *Collector) RecordSignIn(method string) {
	c.signIns.WithLabelValues(method).Inc()
}

// RecordSignInFailure はサインイン失敗を記録する。
func (c *Collector) RecordSignInFailure(method string) {
	c.signInFails.WithLabelValues(method).Inc()
}

// RecordBooking は予約成立を記録する。
func (c *Collector) RecordBooking() {
	c.bookings.Inc()
}

// RecordCancellation は予約取消を記録する。
func (c *Collector) RecordCancellation() {
	c.cancellations.Inc()
}

// RecordListingCreated は掲載登録を記録する。
func (c *Collector) RecordListingCreated() {
	c.listings.Inc()
}

// RecordBackendStatus はバックエンドAPIのHTTPステータスコードを記録する。
func (c *Collector) RecordBackendStatus(statusCode int) {
	c.backendStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordBackendLatency はバックエンドAPIリクエストのレイテンシを記録する。
func (c *Collector) RecordBackendLatency(duration time.Duration) {
	c.backendLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
