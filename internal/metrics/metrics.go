// Package metrics declares the Prometheus instrumentation the history
// cache exports: admission outcomes, evictions, instance-table
// reclaims, and a deadline gauge.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// AdmissionResult labels the outcome of a single ReceivedChange call.
type AdmissionResult string

const (
	Accepted AdmissionResult = "accepted"
	Evicted  AdmissionResult = "evicted_then_accepted"
	Rejected AdmissionResult = "rejected"
)

var (
	// AdmissionTotal counts admission outcomes per topic.
	AdmissionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "history_cache",
		Name:      "admission_total",
		Help:      "Admission decisions for arriving samples, by outcome.",
	}, []string{"topic", "result"})

	// ReclaimTotal counts instance-table reclaim-on-full events.
	ReclaimTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "history_cache",
		Name:      "instance_reclaim_total",
		Help:      "Instance table slots reclaimed from an emptied instance.",
	}, []string{"topic"})

	// InstancesGauge tracks the current instance table occupancy.
	InstancesGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "history_cache",
		Name:      "instances",
		Help:      "Current number of tracked instances.",
	}, []string{"topic"})

	// NextDeadlineSeconds reports the current global-minimum next
	// deadline as a Unix timestamp, or 0 if none is set.
	NextDeadlineSeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "history_cache",
		Name:      "next_deadline_unix_seconds",
		Help:      "Unix timestamp of the nearest tracked instance deadline.",
	}, []string{"topic"})
)
