package metrics

import (
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "roleplay"

// RealtimeMetrics exposes counters/histograms for the messaging,
// presence and treatment flows.
type RealtimeMetrics struct {
	messagesDelivered *prometheus.CounterVec
	duplicatesDropped prometheus.Counter
	staleDropped      *prometheus.CounterVec
	historyPages      prometheus.Histogram
	presenceSyncs     prometheus.Counter
	transitions       *prometheus.CounterVec
	storeErrors       *prometheus.CounterVec
	notifications     *prometheus.CounterVec
	eventsFired       *prometheus.CounterVec
}

// NewRealtimeMetrics creates and registers the realtime collectors on reg.
func NewRealtimeMetrics(reg prometheus.Registerer) *RealtimeMetrics {
	m := &RealtimeMetrics{
		messagesDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "messages_delivered_total",
			Help:      "Messages delivered to subscribers, by path (initial|live)",
		}, []string{"path"}),
		duplicatesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "duplicates_dropped_total",
			Help:      "Live messages dropped because the id was already delivered",
		}),
		staleDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "stale_events_dropped_total",
			Help:      "Events discarded because they targeted another or a closed channel",
		}, []string{"stream"}),
		historyPages: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "history_pages",
			Help:      "Pages fetched per history load",
			Buckets:   []float64{1, 2, 3, 5, 10, 25},
		}),
		presenceSyncs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "presence",
			Name:      "syncs_total",
			Help:      "Presence sync callbacks fired",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "treatment",
			Name:      "transitions_total",
			Help:      "Treatment transitions attempted, by target status and outcome",
		}, []string{"to", "applied"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "errors_total",
			Help:      "Store operations that failed, by operation and kind",
		}, []string{"op", "kind"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "dispatch_total",
			Help:      "Push broadcasts dispatched, by status",
		}, []string{"status"}),
		eventsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "globalevent",
			Name:      "attempts_total",
			Help:      "Global event trigger attempts, by outcome",
		}, []string{"event", "outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.messagesDelivered,
		m.duplicatesDropped,
		m.staleDropped,
		m.historyPages,
		m.presenceSyncs,
		m.transitions,
		m.storeErrors,
		m.notifications,
		m.eventsFired,
	)
	return m
}

func (m *RealtimeMetrics) ObserveDelivered(path string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.messagesDelivered.WithLabelValues(path).Add(float64(n))
}

func (m *RealtimeMetrics) ObserveDuplicate() {
	if m == nil {
		return
	}
	m.duplicatesDropped.Inc()
}

func (m *RealtimeMetrics) ObserveStale(stream string) {
	if m == nil {
		return
	}
	m.staleDropped.WithLabelValues(stream).Inc()
}

func (m *RealtimeMetrics) ObserveHistoryPages(pages int) {
	if m == nil {
		return
	}
	m.historyPages.Observe(float64(pages))
}

func (m *RealtimeMetrics) ObservePresenceSync() {
	if m == nil {
		return
	}
	m.presenceSyncs.Inc()
}

func (m *RealtimeMetrics) ObserveTransition(to string, applied bool) {
	if m == nil {
		return
	}
	label := "false"
	if applied {
		label = "true"
	}
	m.transitions.WithLabelValues(to, label).Inc()
}

func (m *RealtimeMetrics) ObserveStoreError(op, kind string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(op, kind).Inc()
}

func (m *RealtimeMetrics) ObserveNotification(status string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(status).Inc()
}

func (m *RealtimeMetrics) ObserveGlobalEvent(event, outcome string) {
	if m == nil {
		return
	}
	m.eventsFired.WithLabelValues(event, outcome).Inc()
}

// Snapshot sums every counter family in our namespace, keyed by family
// name. It backs the lightweight /stats endpoint.
func Snapshot(gatherer prometheus.Gatherer) (map[string]float64, error) {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mfs, err := gatherer.Gather()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64)
	for _, mf := range mfs {
		if !strings.HasPrefix(mf.GetName(), namespace+"_") || mf.GetType() != dto.MetricType_COUNTER {
			continue
		}
		var total float64
		for _, metric := range mf.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
		out[mf.GetName()] = total
	}
	return out, nil
}

// SortedNames returns snapshot keys in stable order.
func SortedNames(snapshot map[string]float64) []string {
	names := make([]string, 0, len(snapshot))
	for name := range snapshot {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
