package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/exchangelabs/exchanged/build"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "exchanged"

// Metrics is the set of exchange metrics. Each instance owns its registry so
// several can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	deposits           prometheus.Counter
	depositedUnits     prometheus.Counter
	withdrawals        prometheus.Counter
	withdrawnUnits     prometheus.Counter
	swaps              *prometheus.CounterVec
	certsIssued        prometheus.Counter
	certsRevoked       prometheus.Counter
	eligibilityRejects *prometheus.CounterVec
	failOpen           *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
}

// New creates and registers the exchange metrics.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		deposits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deposits_total",
			Help:      "Number of credited deposits.",
		}),
		depositedUnits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deposited_base_units_total",
			Help:      "Base units credited by deposits.",
		}),
		withdrawals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "withdrawals_total",
			Help:      "Number of completed withdrawals.",
		}),
		withdrawnUnits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "withdrawn_base_units_total",
			Help:      "Base units paid out by withdrawals.",
		}),
		swaps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swaps_total",
			Help:      "Number of completed swaps by direction.",
		}, []string{"direction"}),
		certsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "certificates_issued_total",
			Help:      "Number of issued certificates.",
		}),
		certsRevoked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "certificates_revoked_total",
			Help:      "Number of revocation requests honoured.",
		}),
		eligibilityRejects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "eligibility_rejections_total",
				Help:      "Deposits refused by certificate check.",
			}, []string{"reason"},
		),
		failOpen: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fail_open_total",
			Help:      "External lookup failures that were ignored.",
		}, []string{"source"}),
		requestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Latency of RPC requests.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method", "code"},
		),
	}

	versionGauge := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "version",
			Help:      "Version of exchanged running.",
		},
		[]string{"version", "commit"},
	)
	versionGauge.WithLabelValues(build.Version(), build.Commit).Set(1)

	startTime := time.Now()
	uptime := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Uptime of exchanged in seconds.",
		},
		func() float64 {
			return time.Since(startTime).Seconds()
		},
	)

	m.registry.MustRegister(
		m.deposits, m.depositedUnits, m.withdrawals, m.withdrawnUnits,
		m.swaps, m.certsIssued, m.certsRevoked, m.eligibilityRejects,
		m.failOpen, m.requestLatency, versionGauge, uptime,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(
			collectors.ProcessCollectorOpts{},
		),
	)

	return m
}

// DepositCredited records a credited deposit.
func (m *Metrics) DepositCredited(amount btcutil.Amount) {
	m.deposits.Inc()
	m.depositedUnits.Add(float64(amount))
}

// WithdrawalCompleted records a completed withdrawal.
func (m *Metrics) WithdrawalCompleted(amount btcutil.Amount) {
	m.withdrawals.Inc()
	m.withdrawnUnits.Add(float64(amount))
}

// SwapCompleted records a completed swap.
func (m *Metrics) SwapCompleted(direction string) {
	m.swaps.WithLabelValues(direction).Inc()
}

// CertificateIssued records an issued certificate.
func (m *Metrics) CertificateIssued() {
	m.certsIssued.Inc()
}

// CertificateRevoked records an honoured revocation request.
func (m *Metrics) CertificateRevoked() {
	m.certsRevoked.Inc()
}

// EligibilityRejected records a deposit refused for the reason.
func (m *Metrics) EligibilityRejected(reason string) {
	m.eligibilityRejects.WithLabelValues(reason).Inc()
}

// FailOpen records an ignored lookup failure of the source.
func (m *Metrics) FailOpen(source string) {
	m.failOpen.WithLabelValues(source).Inc()
}

// ObserveRequest records the latency of a served request.
func (m *Metrics) ObserveRequest(route, method string, code int,
	elapsed time.Duration) {

	m.requestLatency.WithLabelValues(
		route, method, strconv.Itoa(code),
	).Observe(elapsed.Seconds())
}

// Handler returns the scrape handler of the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog: promLogger{},
	})
}

// promLogger feeds promhttp errors into the subsystem log.
type promLogger struct{}

// Println implements promhttp.Logger.
func (promLogger) Println(v ...interface{}) {
	log.Error(v...)
}
