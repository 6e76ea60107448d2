package ratelimit

import "github.com/prometheus/client_golang/prometheus"

var (
	fillRateDesc = prometheus.NewDesc(
		"sigv4_rate_limiter_fill_rate",
		"Tokens added to the send bucket per second.",
		nil, nil,
	)
	maxCapacityDesc = prometheus.NewDesc(
		"sigv4_rate_limiter_max_capacity",
		"Maximum number of tokens the send bucket can hold.",
		nil, nil,
	)
	currentCapacityDesc = prometheus.NewDesc(
		"sigv4_rate_limiter_current_capacity",
		"Tokens currently available in the send bucket.",
		nil, nil,
	)
	measuredRateDesc = prometheus.NewDesc(
		"sigv4_rate_limiter_measured_tx_rate",
		"Smoothed rate of responses observed, per second.",
		nil, nil,
	)
	enabledDesc = prometheus.NewDesc(
		"sigv4_rate_limiter_enabled",
		"1 once a throttling response has been observed.",
		nil, nil,
	)
)

func (b *Bucket) Describe(ch chan<- *prometheus.Desc) {
	ch <- fillRateDesc
	ch <- maxCapacityDesc
	ch <- currentCapacityDesc
	ch <- measuredRateDesc
	ch <- enabledDesc
}

func (b *Bucket) Collect(ch chan<- prometheus.Metric) {
	st := b.State()
	enabled := 0.0
	if st.Enabled {
		enabled = 1
	}
	ch <- prometheus.MustNewConstMetric(fillRateDesc, prometheus.GaugeValue, st.FillRate)
	ch <- prometheus.MustNewConstMetric(maxCapacityDesc, prometheus.GaugeValue, st.MaxCapacity)
	ch <- prometheus.MustNewConstMetric(currentCapacityDesc, prometheus.GaugeValue, st.CurrentCapacity)
	ch <- prometheus.MustNewConstMetric(measuredRateDesc, prometheus.GaugeValue, st.MeasuredTxRate)
	ch <- prometheus.MustNewConstMetric(enabledDesc, prometheus.GaugeValue, enabled)
}
