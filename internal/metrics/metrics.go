package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	RelayPublishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dcoord_relay_publish_total",
			Help: "Relay publish attempts by transport and outcome",
		},
		[]string{"transport", "outcome"}, // published|credential_unavailable|transport|authorization|quota_exceeded|invalid_event
	)

	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dcoord_runs_total",
			Help: "Coordinator runs by final status",
		},
		[]string{"status"}, // success|partial|failed
	)

	AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dcoord_alerts_total",
			Help: "Alert deliveries by channel and outcome",
		},
		[]string{"channel", "outcome"}, // sns|slack|whatsapp , sent|failed|skipped
	)

	SyncedEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dcoord_synced_events_total",
			Help: "Relayed events handled by the sync worker by sink and outcome",
		},
		[]string{"sink", "outcome"}, // firestore|clickhouse|decode , ok|failed
	)
)

var once sync.Once

// MustRegister registers the collectors once; serve and the workers share a process in tests.
func MustRegister(r prometheus.Registerer) {
	once.Do(func() {
		r.MustRegister(
			RelayPublishTotal,
			RunsTotal,
			AlertsTotal,
			SyncedEventsTotal,
		)
	})
}
