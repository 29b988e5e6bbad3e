// Package metrics exposes Prometheus collectors for the feed pool and relay.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"sequencerFeed/internal/model"
)

const namespace = "sequencer_feed"

// Metrics holds the relay collectors.
type Metrics struct {
	activeConnections prometheus.Gauge
	connectionSlots   prometheus.Gauge
	disconnects       prometheus.Counter
	poolActions       *prometheus.CounterVec
	framesReceived    *prometheus.CounterVec
	framesSkipped     prometheus.Counter
	txDecoded         prometheus.Counter
	txSkipped         *prometheus.CounterVec
	duplicates        prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Feed connections currently reading frames",
		}),
		connectionSlots: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_slots",
			Help:      "Feed connection slots allocated by the pool",
		}),
		disconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnects_total",
			Help:      "Disconnect notifications handled by the pool",
		}),
		poolActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_actions_total",
			Help:      "Repair and grow attempts by result",
		}, []string{"action", "result"}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Feed frames forwarded per connection",
		}, []string{"connection"}),
		framesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_skipped_total",
			Help:      "Feed frames dropped because they were not valid envelopes",
		}),
		txDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_decoded_total",
			Help:      "Messages decoded into transactions",
		}),
		txSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_skipped_total",
			Help:      "Messages that could not be decoded, by reason",
		}, []string{"reason"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_total",
			Help:      "Messages dropped by the sequence filter",
		}),
	}

	reg.MustRegister(
		m.activeConnections,
		m.connectionSlots,
		m.disconnects,
		m.poolActions,
		m.framesReceived,
		m.framesSkipped,
		m.txDecoded,
		m.txSkipped,
		m.duplicates,
	)
	return m
}

func (m *Metrics) SetConnections(active, total int) {
	if m == nil {
		return
	}
	m.activeConnections.Set(float64(active))
	m.connectionSlots.Set(float64(total))
}

func (m *Metrics) Disconnect() {
	if m == nil {
		return
	}
	m.disconnects.Inc()
}

// PoolAction records a repair or grow attempt.
func (m *Metrics) PoolAction(action string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.poolActions.WithLabelValues(action, result).Inc()
}

func (m *Metrics) FrameReceived(id model.ConnectionID) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(strconv.FormatUint(uint64(id), 10)).Inc()
}

func (m *Metrics) FrameSkipped() {
	if m == nil {
		return
	}
	m.framesSkipped.Inc()
}

func (m *Metrics) TxDecoded() {
	if m == nil {
		return
	}
	m.txDecoded.Inc()
}

func (m *Metrics) TxSkipped(reason string) {
	if m == nil {
		return
	}
	m.txSkipped.WithLabelValues(reason).Inc()
}

func (m *Metrics) Duplicate() {
	if m == nil {
		return
	}
	m.duplicates.Inc()
}

// Serve exposes gatherer on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown", zap.Error(err))
		}
	}()

	logger.Info("metrics server start", zap.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
