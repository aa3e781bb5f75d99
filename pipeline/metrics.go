package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"
	"go.uber.org/multierr"
)

// Failure kinds recorded by the cycles_failed_total metric.
const (
	failureProcess = "process"
	failurePublish = "publish"
)

// Metrics are the prometheus instruments of a Node.
type Metrics struct {
	cyclesProcessed prometheus.Counter
	cyclesFailed    *prometheus.CounterVec
	decodeErrors    prometheus.Counter
	droppedMessages prometheus.Counter
	configErrors    prometheus.Counter
	cycleDuration   prometheus.Histogram
	regions         prometheus.Gauge
	points          *prometheus.GaugeVec
}

// NewMetrics creates the node metrics and registers them with reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		cyclesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cloudseg",
			Name:      "cycles_processed_total",
			Help:      "Clouds processed and published.",
		}),
		cyclesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cloudseg",
			Name:      "cycles_failed_total",
			Help:      "Clouds skipped because processing or publishing failed.",
		}, []string{"kind"}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cloudseg",
			Name:      "decode_errors_total",
			Help:      "Input messages that could not be decoded.",
		}),
		droppedMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cloudseg",
			Name:      "dropped_messages_total",
			Help:      "Input clouds replaced by a newer cloud before being processed.",
		}),
		configErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cloudseg",
			Name:      "config_errors_total",
			Help:      "Parameter values rejected on refresh.",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cloudseg",
			Name:      "cycle_duration_seconds",
			Help:      "Time spent processing one cloud.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		regions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cloudseg",
			Name:      "regions",
			Help:      "Regions found in the last processed cloud.",
		}),
		points: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cloudseg",
			Name:      "points",
			Help:      "Point count of the last processed cloud at each stage.",
		}, []string{"stage"}),
	}
	if reg == nil {
		return m, nil
	}
	var err error
	for _, c := range []prometheus.Collector{
		m.cyclesProcessed,
		m.cyclesFailed,
		m.decodeErrors,
		m.droppedMessages,
		m.configErrors,
		m.cycleDuration,
		m.regions,
		m.points,
	} {
		err = multierr.Append(err, reg.Register(c))
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) observeCycle(input int, result *Result, took time.Duration) {
	m.cycleDuration.Observe(took.Seconds())
	m.regions.Set(float64(len(result.Regions)))
	m.points.WithLabelValues("input").Set(float64(input))
	m.points.WithLabelValues("reduced").Set(float64(result.Reduced.Size()))
	m.points.WithLabelValues("filtered").Set(float64(len(result.Indices)))
	m.points.WithLabelValues("segmented").Set(float64(lo.CountBy(result.Labels, func(label int) bool {
		return label >= 0
	})))
	m.points.WithLabelValues("output").Set(float64(result.Output.Size()))
	m.cyclesProcessed.Inc()
}
