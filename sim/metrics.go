package sim

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsPrefix = "regionsim_"

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	subsidyDisbursed  *prometheus.CounterVec
	buildingsRealized *prometheus.CounterVec
	deedRestricted    *prometheus.CounterVec
	lotteryShortfall  *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		subsidyDisbursed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricsPrefix + "subsidy_disbursed_dollars",
			Help: "Subsidy dollars disbursed to realized buildings",
		}, []string{"account", "sub_fund"}),
		buildingsRealized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricsPrefix + "buildings_realized_total",
			Help: "Buildings instantiated by placement",
		}, []string{"source"}),
		deedRestricted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricsPrefix + "deed_restricted_units_total",
			Help: "Deed-restricted units created by subsidy",
		}, []string{"account"}),
		lotteryShortfall: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: metricsPrefix + "lottery_shortfall",
			Help: "Unmet build-out target after the most recent lottery",
		}, []string{"kind"}),
	}
	for _, c := range []prometheus.Collector{m.subsidyDisbursed, m.buildingsRealized, m.deedRestricted, m.lotteryShortfall} {
		if err := reg.Register(c); err != nil {
			return nil, errors.Wrap(err, "registering metrics")
		}
	}
	return m, nil
}

func (m *Metrics) recordDisbursement(account, subFund string, dollars float64) {
	if m == nil {
		return
	}
	m.subsidyDisbursed.WithLabelValues(account, subFund).Add(dollars)
}

func (m *Metrics) recordBuildings(source string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.buildingsRealized.WithLabelValues(source).Add(float64(n))
}

func (m *Metrics) recordDeedRestricted(account string, units int) {
	if m == nil || units == 0 {
		return
	}
	m.deedRestricted.WithLabelValues(account).Add(float64(units))
}

func (m *Metrics) setLotteryShortfall(kind string, shortfall float64) {
	if m == nil {
		return
	}
	m.lotteryShortfall.WithLabelValues(kind).Set(shortfall)
}
