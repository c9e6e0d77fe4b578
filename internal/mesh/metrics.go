package mesh

import (
	"github.com/annel0/amr-mesh/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics содержит метрики сетки. Нулевой указатель допустим: методы ничего не делают.
type Metrics struct {
	Blocks        prometheus.Gauge
	MaxLevel      prometheus.Gauge
	Cycles        prometheus.Counter
	Refines       *prometheus.CounterVec
	Coarsens      prometheus.Counter
	Messages      *prometheus.CounterVec
	Violations    prometheus.Counter
	CycleDuration prometheus.Histogram
	BalanceRounds prometheus.Histogram
}

// NewMetrics создаёт метрики и регистрирует их в reg (nil: без регистрации)
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Blocks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "amr",
			Name:      "blocks",
			Help:      "Текущее число блоков сетки",
		}),
		MaxLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "amr",
			Name:      "max_level",
			Help:      "Глубина дерева после последнего цикла",
		}),
		Cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "amr",
			Name:      "adapt_cycles_total",
			Help:      "Завершённые циклы адаптации",
		}),
		Refines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "amr",
			Name:      "refines_total",
			Help:      "Уточнения блоков по причине (criteria, balance)",
		}, []string{"reason"}),
		Coarsens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "amr",
			Name:      "coarsens_total",
			Help:      "Огрубления (поглощение детей родителем)",
		}),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "amr",
			Name:      "messages_total",
			Help:      "Обработанные сообщения протокола по типу",
		}, []string{"kind"}),
		Violations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "amr",
			Name:      "fatal_errors_total",
			Help:      "Фатальные ошибки протокола",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "amr",
			Name:      "adapt_cycle_duration_seconds",
			Help:      "Длительность цикла адаптации",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		BalanceRounds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "amr",
			Name:      "balance_rounds",
			Help:      "Число раундов балансировки 2:1 за цикл",
			Buckets:   prometheus.LinearBuckets(0, 1, 10),
		}),
	}

	if reg == nil {
		return m
	}
	collectors := []prometheus.Collector{
		m.Blocks, m.MaxLevel, m.Cycles, m.Refines, m.Coarsens,
		m.Messages, m.Violations, m.CycleDuration, m.BalanceRounds,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			// Игнорируем ошибки дублирования метрик
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				logging.Warn("Не удалось зарегистрировать метрику: %v", err)
			}
		}
	}
	return m
}

func (m *Metrics) message(k Kind) {
	if m == nil {
		return
	}
	m.Messages.WithLabelValues(string(k)).Inc()
}

func (m *Metrics) refined(forced bool) {
	if m == nil {
		return
	}
	reason := "criteria"
	if forced {
		reason = "balance"
	}
	m.Refines.WithLabelValues(reason).Inc()
}

func (m *Metrics) coarsened() {
	if m == nil {
		return
	}
	m.Coarsens.Inc()
}

func (m *Metrics) blocks(n int) {
	if m == nil {
		return
	}
	m.Blocks.Set(float64(n))
}

func (m *Metrics) violation() {
	if m == nil {
		return
	}
	m.Violations.Inc()
}

func (m *Metrics) cycle(r CycleReport) {
	if m == nil {
		return
	}
	m.Cycles.Inc()
	m.MaxLevel.Set(float64(r.MaxLevel))
	m.CycleDuration.Observe(r.Duration.Seconds())
	m.BalanceRounds.Observe(float64(r.BalanceRounds))
}
