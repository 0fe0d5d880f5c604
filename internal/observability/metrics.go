package observability

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TCPConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "avl_tcp_connections_total",
		Help: "TCP connections accepted on the device port",
	})
	HandshakeOK = promauto.NewCounter(prometheus.CounterOpts{
		Name: "avl_handshake_ok_total",
		Help: "Accepted IMEI handshakes",
	})
	HandshakeRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "avl_handshake_rejected_total",
		Help: "Rejected IMEI handshakes",
	})
	FramesRecv = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avl_frames_received_total",
		Help: "Inbound frames by classified kind",
	}, []string{"kind"})
	RecordsAck = promauto.NewCounter(prometheus.CounterOpts{
		Name: "avl_records_ack_total",
		Help: "AVL records acknowledged to devices",
	})
	ParseErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avl_parse_errors_total",
		Help: "Frames that failed to decode",
	}, []string{"kind"})
	RedisErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "avl_redis_errors_total",
		Help: "Failed writes to the presence store",
	})
	ActiveDevices = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "avl_active_devices",
		Help: "Devices with a registered session",
	})
	Commands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avl_commands_total",
		Help: "Dispatched commands by name and outcome",
	}, []string{"command", "result"})
	SinkErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avl_sink_errors_total",
		Help: "Failed deliveries per downstream sink",
	}, []string{"sink"})
	SinkDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "avl_sink_dropped_total",
		Help: "Events dropped because the pipeline queue was full",
	})
	ParseLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "avl_parse_latency_seconds",
		Help:    "Decode latency per frame",
		Buckets: prometheus.DefBuckets,
	})
	CommandLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "avl_command_latency_seconds",
		Help:    "Time from command write to device reply",
		Buckets: []float64{.05, .1, .25, .5, 1, 2, 3, 5, 10},
	})
)

func ObserveParseLatency(start time.Time) {
	ParseLatency.Observe(time.Since(start).Seconds())
}

func MetricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// StartMetricsServer serves /metrics and /healthz on port until ctx is done.
func StartMetricsServer(ctx context.Context, port string, lg *slog.Logger) error {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()

	lg.Info("metrics server listening", "port", port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
