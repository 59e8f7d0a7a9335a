package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	WSConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trackify_ws_connections_total",
		Help: "Total websocket connections accepted",
	})
	Connects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trackify_presence_connects_total",
		Help: "Total presence connect/upsert operations",
	})
	Broadcasts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trackify_broadcasts_total",
		Help: "Broadcasts sent, by payload type",
	}, []string{"type"})
	ThrottledUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trackify_updates_throttled_total",
		Help: "Location updates stored but withheld by the time+distance gate",
	})
	SweepEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trackify_sweep_evictions_total",
		Help: "Presence records evicted by the timeout sweep",
	})
	StoreErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trackify_store_errors_total",
		Help: "Errors reading or writing the presence store",
	})
	BroadcastErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trackify_broadcast_errors_total",
		Help: "Broadcast deliveries that failed after the store mutation",
	})
	LeaveNotifyErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trackify_leave_notify_errors_total",
		Help: "Leave notifier failures (logged and swallowed)",
	})
	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "trackify_sweep_duration_seconds",
		Help:    "Wall time of one full sweep pass",
		Buckets: prometheus.DefBuckets,
	})
)

func ObserveSweep(start time.Time) {
	SweepDuration.Observe(time.Since(start).Seconds())
}

func StartMetricsServer(port string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte("ok"))
	})
	_ = http.ListenAndServe(":"+port, mux)
}
