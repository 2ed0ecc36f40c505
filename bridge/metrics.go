// SPDX-License-Identifier: GPL-2.0-only

package bridge

import "github.com/prometheus/client_golang/prometheus"

// Metrics collects the service-level counters and gauges. A nil registerer
// yields working but unregistered metrics, which tests rely on.
type Metrics struct {
	attachedDeviceGauge prometheus.Gauge
	visibleDeviceGauge  prometheus.Gauge
	actionsCounter      *prometheus.CounterVec
	reconnectCounter    *prometheus.CounterVec
	exhaustedCounter    prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		attachedDeviceGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "attached_devices",
			Help: "Number of devices currently attached from the selected host.",
		}),
		visibleDeviceGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "visible_devices",
			Help: "Number of devices in the reconciled view for the selected host.",
		}),
		actionsCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "device_actions_total",
			Help: "Device operations requested by the user, by action and result.",
		}, []string{"action", "result"}),
		reconnectCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reconnect_attempts_total",
			Help: "Auto-reconnect attempts, by result.",
		}, []string{"result"}),
		exhaustedCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reconnect_exhausted_total",
			Help: "Device keys whose auto-reconnect attempts ran out.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.attachedDeviceGauge, m.visibleDeviceGauge,
			m.actionsCounter, m.reconnectCounter, m.exhaustedCounter,
		)
	}
	return m
}

func (m *Metrics) observeView(rows []DeviceRow) {
	if m == nil {
		return
	}
	attached := 0
	for _, row := range rows {
		if row.Attached {
			attached++
		}
	}
	m.visibleDeviceGauge.Set(float64(len(rows)))
	m.attachedDeviceGauge.Set(float64(attached))
}

func (m *Metrics) action(name string, ok bool) {
	if m == nil {
		return
	}
	m.actionsCounter.WithLabelValues(name, result(ok)).Inc()
}

func (m *Metrics) reconnect(ok bool) {
	if m == nil {
		return
	}
	m.reconnectCounter.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) exhausted() {
	if m == nil {
		return
	}
	m.exhaustedCounter.Inc()
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
