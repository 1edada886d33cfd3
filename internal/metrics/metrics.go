package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// TradeMetrics - счётчики движка обменов
type TradeMetrics struct {
	transitions      *prometheus.CounterVec
	rejections       *prometheus.CounterVec
	lockConflicts    prometheus.Counter
	lockReleaseFails prometheus.Counter
	dispatchFailures *prometheus.CounterVec
	sweepExpired     prometheus.Counter
	sweepReleased    prometheus.Counter
}

var (
	tradeOnce     sync.Once
	tradeRegistry *TradeMetrics
)

// Trades возвращает общий набор метрик процесса
func Trades() *TradeMetrics {
	tradeOnce.Do(func() {
		tradeRegistry = &TradeMetrics{
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "flippy_trade_transitions_total",
				Help: "Persisted trade transitions by resulting status.",
			}, []string{"status"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "flippy_trade_rejections_total",
				Help: "Trade operations rejected by the engine, by action and error class.",
			}, []string{"action", "class"}),
			lockConflicts: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "flippy_book_lock_conflicts_total",
				Help: "Proposals rejected because a book was already committed.",
			}),
			lockReleaseFails: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "flippy_book_lock_release_failures_total",
				Help: "Lock releases that failed after a committed transition.",
			}),
			dispatchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "flippy_trade_dispatch_failures_total",
				Help: "Notification deliveries that failed, by sink.",
			}, []string{"sink"}),
			sweepExpired: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "flippy_trade_sweep_expired_total",
				Help: "Stale proposals expired by the sweeper.",
			}),
			sweepReleased: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "flippy_trade_sweep_released_locks_total",
				Help: "Orphaned book locks released by the sweeper.",
			}),
		}
		prometheus.MustRegister(
			tradeRegistry.transitions,
			tradeRegistry.rejections,
			tradeRegistry.lockConflicts,
			tradeRegistry.lockReleaseFails,
			tradeRegistry.dispatchFailures,
			tradeRegistry.sweepExpired,
			tradeRegistry.sweepReleased,
		)
	})
	return tradeRegistry
}

func (m *TradeMetrics) ObserveTransition(status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status).Inc()
}

func (m *TradeMetrics) ObserveRejection(action, class string) {
	if m == nil {
		return
	}
	if class == "" {
		class = "unknown"
	}
	m.rejections.WithLabelValues(action, class).Inc()
}

func (m *TradeMetrics) ObserveLockConflict() {
	if m == nil {
		return
	}
	m.lockConflicts.Inc()
}

func (m *TradeMetrics) ObserveLockReleaseFailure() {
	if m == nil {
		return
	}
	m.lockReleaseFails.Inc()
}

func (m *TradeMetrics) ObserveDispatchFailure(sink string) {
	if m == nil {
		return
	}
	m.dispatchFailures.WithLabelValues(sink).Inc()
}

func (m *TradeMetrics) ObserveSweep(expired, released int) {
	if m == nil {
		return
	}
	m.sweepExpired.Add(float64(expired))
	m.sweepReleased.Add(float64(released))
}
